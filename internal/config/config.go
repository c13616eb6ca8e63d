// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; empty until DB is wired.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// ExecutorBaseURL is the base URL of the remote command executor API.
	ExecutorBaseURL string `mapstructure:"EXECUTOR_BASE_URL"`
	// ExecutorTimeout is the per-command timeout (e.g. "30s"). Every remote command carries this bound.
	ExecutorTimeout string `mapstructure:"EXECUTOR_TIMEOUT"`

	// NotifyBaseURL is the base URL of the notification channel API; empty disables notifications.
	NotifyBaseURL string `mapstructure:"NOTIFY_BASE_URL"`
	// NotifyAdminDestination is the destination id for operator alerts (restart reports, sweeps).
	NotifyAdminDestination string `mapstructure:"NOTIFY_ADMIN_DESTINATION"`

	// ReferenceTZ is the IANA timezone used for grant expiry math and quota day boundaries
	// (e.g. "Asia/Kolkata"). A single fixed zone so "today" matches the user-facing day.
	ReferenceTZ string `mapstructure:"REFERENCE_TZ"`
	// DailyActionLimit is the per-user daily session quota for non-exempt users.
	DailyActionLimit int `mapstructure:"DAILY_ACTION_LIMIT"`
	// PrivilegedUserIDs is a comma-separated allow-list of user ids that bypass
	// authorization and rate limiting.
	PrivilegedUserIDs string `mapstructure:"PRIVILEGED_USER_IDS"`

	// PollInterval is the supervisor liveness poll interval (e.g. "5m").
	PollInterval string `mapstructure:"POLL_INTERVAL"`
	// MaxRestartAttempts is the consecutive restart-failure ceiling before a session
	// is marked failed and its loop exits.
	MaxRestartAttempts int `mapstructure:"MAX_RESTART_ATTEMPTS"`
	// StatsSampleProbability is the per-tick chance (0..1) of sampling job statistics.
	StatsSampleProbability float64 `mapstructure:"STATS_SAMPLE_PROBABILITY"`
	// StatsRetention is how long stats samples are kept before the retention sweep
	// deletes them (e.g. "168h").
	StatsRetention string `mapstructure:"STATS_RETENTION"`

	// SecretsPassphrase, when set, encrypts session job parameters at rest.
	SecretsPassphrase string `mapstructure:"SECRETS_PASSPHRASE"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "rjs-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "rjs-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// EventsKafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables events.
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for session lifecycle events.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the notification relay worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables telemetry export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("EXECUTOR_BASE_URL", "")
	v.SetDefault("EXECUTOR_TIMEOUT", "30s")
	v.SetDefault("NOTIFY_BASE_URL", "")
	v.SetDefault("NOTIFY_ADMIN_DESTINATION", "")
	v.SetDefault("REFERENCE_TZ", "Asia/Kolkata")
	v.SetDefault("DAILY_ACTION_LIMIT", 5)
	v.SetDefault("PRIVILEGED_USER_IDS", "")
	v.SetDefault("POLL_INTERVAL", "5m")
	v.SetDefault("MAX_RESTART_ATTEMPTS", 5)
	v.SetDefault("STATS_SAMPLE_PROBABILITY", 0.2)
	v.SetDefault("STATS_RETENTION", "168h")
	v.SetDefault("SECRETS_PASSPHRASE", "")
	v.SetDefault("JWT_ISSUER", "rjs-auth")
	v.SetDefault("JWT_AUDIENCE", "rjs-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "rjs-sessions")
	v.SetDefault("KAFKA_GROUP_ID", "rjs-events-worker")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DailyActionLimit < 1 {
		return nil, errors.New("config: DAILY_ACTION_LIMIT must be at least 1")
	}
	if cfg.StatsSampleProbability < 0 || cfg.StatsSampleProbability > 1 {
		return nil, errors.New("config: STATS_SAMPLE_PROBABILITY must be between 0 and 1")
	}
	if cfg.MaxRestartAttempts < 1 {
		return nil, errors.New("config: MAX_RESTART_ATTEMPTS must be at least 1")
	}
	if _, err := cfg.ReferenceLocation(); err != nil {
		return nil, fmt.Errorf("config: REFERENCE_TZ: %w", err)
	}

	return &cfg, nil
}

// ReferenceLocation loads ReferenceTZ as a *time.Location.
func (c *Config) ReferenceLocation() (*time.Location, error) {
	if c.ReferenceTZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.ReferenceTZ)
}

// PollIntervalDuration parses PollInterval. Returns 5m if unset or invalid.
func (c *Config) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ExecutorTimeoutDuration parses ExecutorTimeout. Returns 30s if unset or invalid.
func (c *Config) ExecutorTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ExecutorTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// StatsRetentionDuration parses StatsRetention. Returns 168h if unset or invalid.
func (c *Config) StatsRetentionDuration() time.Duration {
	d, err := time.ParseDuration(c.StatsRetention)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// PrivilegedUserIDList returns the privileged user ids from the comma-separated config.
func (c *Config) PrivilegedUserIDList() []string {
	return splitList(c.PrivilegedUserIDs)
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if events are enabled (non-empty list) and to create the producer.
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.EventsKafkaBrokers)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
