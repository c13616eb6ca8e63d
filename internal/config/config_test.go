package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.ReferenceTZ != "Asia/Kolkata" {
		t.Errorf("ReferenceTZ = %q, want %q", cfg.ReferenceTZ, "Asia/Kolkata")
	}
	if cfg.DailyActionLimit != 5 {
		t.Errorf("DailyActionLimit = %d, want 5", cfg.DailyActionLimit)
	}
	if cfg.PollInterval != "5m" {
		t.Errorf("PollInterval = %q, want %q", cfg.PollInterval, "5m")
	}
	if cfg.MaxRestartAttempts != 5 {
		t.Errorf("MaxRestartAttempts = %d, want 5", cfg.MaxRestartAttempts)
	}
	if cfg.StatsSampleProbability != 0.2 {
		t.Errorf("StatsSampleProbability = %v, want 0.2", cfg.StatsSampleProbability)
	}
	if cfg.JWTIssuer != "rjs-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "rjs-auth")
	}
	if cfg.JWTAudience != "rjs-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "rjs-api")
	}
	if cfg.EventsKafkaTopic != "rjs-sessions" {
		t.Errorf("EventsKafkaTopic = %q, want %q", cfg.EventsKafkaTopic, "rjs-sessions")
	}
	if cfg.KafkaGroupID != "rjs-events-worker" {
		t.Errorf("KafkaGroupID = %q, want %q", cfg.KafkaGroupID, "rjs-events-worker")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("REFERENCE_TZ", "UTC")
	os.Setenv("DAILY_ACTION_LIMIT", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.ReferenceTZ != "UTC" {
		t.Errorf("ReferenceTZ = %q, want %q", cfg.ReferenceTZ, "UTC")
	}
	if cfg.DailyActionLimit != 10 {
		t.Errorf("DailyActionLimit = %d, want 10", cfg.DailyActionLimit)
	}
}

func TestLoad_InvalidDailyLimit(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("DAILY_ACTION_LIMIT", "0")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when DAILY_ACTION_LIMIT is 0")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_InvalidSampleProbability(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("STATS_SAMPLE_PROBABILITY", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("Load should return error when STATS_SAMPLE_PROBABILITY > 1")
	}
}

func TestLoad_InvalidReferenceTZ(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("REFERENCE_TZ", "Not/AZone")

	if _, err := Load(); err == nil {
		t.Fatal("Load should return error for an unknown timezone")
	}
}

func TestReferenceLocation(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loc, err := cfg.ReferenceLocation()
	if err != nil {
		t.Fatalf("ReferenceLocation: %v", err)
	}
	if loc.String() != "Asia/Kolkata" {
		t.Errorf("location = %q, want Asia/Kolkata", loc.String())
	}
}

func TestPollIntervalDuration(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"valid", "2m", 2 * time.Minute},
		{"invalid", "nope", 5 * time.Minute},
		{"zero", "0", 5 * time.Minute},
		{"negative", "-1m", 5 * time.Minute},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("HTTP_ADDR", ":8080")
			os.Setenv("POLL_INTERVAL", tc.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := cfg.PollIntervalDuration(); got != tc.want {
				t.Errorf("PollIntervalDuration = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExecutorTimeoutDuration_Default(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("EXECUTOR_TIMEOUT", "garbage")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.ExecutorTimeoutDuration(); got != 30*time.Second {
		t.Errorf("ExecutorTimeoutDuration = %v, want 30s", got)
	}
}

func TestPrivilegedUserIDList(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("PRIVILEGED_USER_IDS", "admin-1, admin-2,,admin-3 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.PrivilegedUserIDList()
	want := []string{"admin-1", "admin-2", "admin-3"}
	if len(got) != len(want) {
		t.Fatalf("PrivilegedUserIDList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PrivilegedUserIDList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventsKafkaBrokersList(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("KAFKA_BROKERS", "localhost:9092, broker2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	brokers := cfg.EventsKafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "localhost:9092" || brokers[1] != "broker2:9092" {
		t.Errorf("EventsKafkaBrokersList = %v", brokers)
	}
}

func TestEventsKafkaBrokersList_Empty(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if brokers := cfg.EventsKafkaBrokersList(); brokers != nil {
		t.Errorf("EventsKafkaBrokersList = %v, want nil", brokers)
	}
}
