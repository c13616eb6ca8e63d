// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user already has a record.
package main

import (
	"context"
	"log"
	"os"
	"time"

	authzdomain "remote-job-supervisor/internal/authz/domain"
	authzrepo "remote-job-supervisor/internal/authz/repository"
	"remote-job-supervisor/internal/config"
	"remote-job-supervisor/internal/db"
	"remote-job-supervisor/internal/secrets"
	"remote-job-supervisor/internal/security"
	sessiondomain "remote-job-supervisor/internal/session/domain"
	sessionrepo "remote-job-supervisor/internal/session/repository"
)

const (
	devUserID    = "dev-user-001"
	devSessionID = "dev-session-001"
	devResource  = "dev-box-001"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	authz := authzrepo.NewPostgresRepository(conn)

	existing, err := authz.GetByUserID(ctx, devUserID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devUserID)
		os.Exit(0)
	}

	now := time.Now().UTC()
	expire := now.AddDate(0, 0, 30)
	if err := authz.Upsert(ctx, &authzdomain.Record{
		UserID:     devUserID,
		Status:     authzdomain.StatusAuthorized,
		ExpireTime: &expire,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		log.Fatalf("create dev grant: %v", err)
	}

	sessions := sessionrepo.NewPostgresRepository(conn, secrets.New(cfg.SecretsPassphrase))
	if err := sessions.Create(ctx, &sessiondomain.Session{
		ID:            devSessionID,
		UserID:        devUserID,
		ResourceID:    devResource,
		JobParameters: `{"threads":2}`,
		Status:        sessiondomain.StatusSetup,
		StartTime:     now,
		CreatedAt:     now,
	}); err != nil {
		log.Fatalf("create dev session: %v", err)
	}

	log.Println("Seed completed successfully.")
	log.Printf("Dev user %s is authorized until %s", devUserID, expire.Format(time.RFC3339))

	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			log.Fatalf("JWT_PRIVATE_KEY: %v", err)
		}
		publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("JWT_PUBLIC_KEY: %v", err)
		}
		tokens := security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
		token, _, _, err := tokens.IssueAccess(devUserID, false)
		if err != nil {
			log.Fatalf("issue dev token: %v", err)
		}
		log.Printf("Dev token: %s", token)
	}
}
