// Server runs the job session supervisor: the HTTP control surface, the
// per-session watch loops, and the periodic expiry and retention sweeps.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remote-job-supervisor/internal/api"
	"remote-job-supervisor/internal/audit"
	auditrepo "remote-job-supervisor/internal/audit/repository"
	authzrepo "remote-job-supervisor/internal/authz/repository"
	authzservice "remote-job-supervisor/internal/authz/service"
	"remote-job-supervisor/internal/config"
	"remote-job-supervisor/internal/controller"
	"remote-job-supervisor/internal/db"
	"remote-job-supervisor/internal/events"
	"remote-job-supervisor/internal/executor"
	"remote-job-supervisor/internal/notify"
	"remote-job-supervisor/internal/observability"
	ratelimitrepo "remote-job-supervisor/internal/ratelimit/repository"
	ratelimitservice "remote-job-supervisor/internal/ratelimit/service"
	"remote-job-supervisor/internal/secrets"
	"remote-job-supervisor/internal/security"
	sessionrepo "remote-job-supervisor/internal/session/repository"
	sessionservice "remote-job-supervisor/internal/session/service"
	statsrepo "remote-job-supervisor/internal/stats/repository"
	"remote-job-supervisor/internal/supervisor"
)

const sweepInterval = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.ExecutorBaseURL == "" {
		log.Fatal("EXECUTOR_BASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.NewProviders(ctx, cfg.OTLPEndpoint, "rjs-server", false)
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	loc, err := cfg.ReferenceLocation()
	if err != nil {
		log.Fatalf("config: REFERENCE_TZ: %v", err)
	}

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("JWT_PRIVATE_KEY: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("JWT_PUBLIC_KEY: %v", err)
	}
	tokens := security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	cipher := secrets.New(cfg.SecretsPassphrase)
	if cipher == nil {
		log.Print("SECRETS_PASSPHRASE not set; job parameters are stored in plaintext")
	}

	authzSvc := authzservice.NewService(authzrepo.NewPostgresRepository(conn), cfg.PrivilegedUserIDList(), loc)
	limiter := ratelimitservice.NewService(ratelimitrepo.NewPostgresRepository(conn), authzSvc, cfg.DailyActionLimit, loc)
	sessions := sessionservice.NewService(sessionrepo.NewPostgresRepository(conn, cipher))
	statsRepo := statsrepo.NewPostgresRepository(conn)
	counterRepo := ratelimitrepo.NewPostgresRepository(conn)
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn))

	exec := executor.NewHTTPExecutor(cfg.ExecutorBaseURL, cfg.ExecutorTimeoutDuration())
	ctrl := controller.New(exec)

	var emitter events.Emitter
	if ke, err := events.NewKafkaEmitter(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic); err != nil {
		log.Fatalf("events: %v", err)
	} else if ke != nil {
		emitter = ke
		defer ke.Close()
	}

	var notifier notify.Notifier
	if cfg.NotifyBaseURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifyBaseURL)
	}

	sup := supervisor.New(ctrl, sessions, statsRepo, emitter, supervisor.Options{
		PollInterval:       cfg.PollIntervalDuration(),
		SampleProbability:  cfg.StatsSampleProbability,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		Notifier:           notifier,
		NotifyDestination:  cfg.NotifyAdminDestination,
	})
	resumed, err := sup.Rehydrate(ctx)
	if err != nil {
		log.Fatalf("supervisor: rehydrate: %v", err)
	}
	log.Printf("supervisor: resumed %d session(s)", resumed)

	go runSweeps(ctx, authzSvc, statsRepo, counterRepo, notifier, cfg, loc)

	srv := api.NewServer(api.Config{
		Authz:            authzSvc,
		Limiter:          limiter,
		Sessions:         sessions,
		Supervisor:       sup,
		Stats:            statsRepo,
		Audit:            auditLogger,
		Notifier:         notifier,
		Emitter:          emitter,
		Tokens:           tokens,
		AdminDestination: cfg.NotifyAdminDestination,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: observability.Middleware(srv.Handler()),
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	sup.Shutdown()
	log.Println("stopped")
}

// runSweeps periodically expires past-due grants, prunes old stats samples, and
// drops stale quota counters.
func runSweeps(ctx context.Context, authzSvc *authzservice.Service, statsRepo *statsrepo.PostgresRepository, counterRepo *ratelimitrepo.PostgresRepository, notifier notify.Notifier, cfg *config.Config, loc *time.Location) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sweepCtx, sweepCancel := context.WithTimeout(ctx, time.Minute)

		expired, err := authzSvc.SweepExpired(sweepCtx)
		if err != nil {
			log.Printf("sweep: expire grants: %v", err)
		} else if len(expired) > 0 {
			log.Printf("sweep: expired %d grant(s)", len(expired))
			for _, rec := range expired {
				notify.SendAsync(notifier, cfg.NotifyAdminDestination,
					fmt.Sprintf("authorization expired for %s", rec.UserID))
			}
		}

		cutoff := time.Now().UTC().Add(-cfg.StatsRetentionDuration())
		if n, err := statsRepo.DeleteOlderThan(sweepCtx, cutoff); err != nil {
			log.Printf("sweep: stats retention: %v", err)
		} else if n > 0 {
			log.Printf("sweep: pruned %d stats sample(s)", n)
		}

		// Quota counters are only read for the current day; keep a week for inspection.
		staleDay := time.Now().In(loc).AddDate(0, 0, -7).Format("2006-01-02")
		if _, err := counterRepo.DeleteBefore(sweepCtx, staleDay); err != nil {
			log.Printf("sweep: quota counters: %v", err)
		}

		sweepCancel()
	}
}
