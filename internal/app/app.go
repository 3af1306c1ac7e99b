// Package app builds the identity services from configuration. The server and
// the worker share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"msp-identity-core/internal/access"
	accessrepo "msp-identity-core/internal/access/repository"
	"msp-identity-core/internal/audit"
	auditrepo "msp-identity-core/internal/audit/repository"
	"msp-identity-core/internal/cache"
	"msp-identity-core/internal/config"
	"msp-identity-core/internal/db"
	identityrepo "msp-identity-core/internal/identity/repository"
	"msp-identity-core/internal/identity/service"
	"msp-identity-core/internal/mfa"
	mfarepo "msp-identity-core/internal/mfa/repository"
	orgrepo "msp-identity-core/internal/organization/repository"
	"msp-identity-core/internal/password"
	passwordrepo "msp-identity-core/internal/password/repository"
	"msp-identity-core/internal/policy/engine"
	"msp-identity-core/internal/security"
	"msp-identity-core/internal/session"
	sessioncache "msp-identity-core/internal/session/cache"
	sessionrepo "msp-identity-core/internal/session/repository"
	userrepo "msp-identity-core/internal/user/repository"
)

const (
	ticketMaxAttempts = 5
	resetWindow       = time.Hour
	resetFloor        = 250 * time.Millisecond
)

// App holds the open stores and the services built on them.
type App struct {
	DB    *sql.DB
	Redis *redis.Client

	Users userrepo.Repository
	Orgs  orgrepo.Repository

	Audit    *audit.Service
	Sessions *session.Service
	MFA      *mfa.Service
	Password *password.Service
	Access   *access.Service
	Auth     *service.AuthService
}

// New opens Postgres and Redis and builds every service. emitter mirrors audit
// entries and may be nil.
func New(ctx context.Context, cfg *config.Config, emitter audit.Emitter) (*App, error) {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	client, err := cache.Open(ctx, cfg.RedisURL, cfg.StorageTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	a, err := build(cfg, conn, client, emitter)
	if err != nil {
		_ = client.Close()
		_ = conn.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, conn *sql.DB, client *redis.Client, emitter audit.Emitter) (*App, error) {
	policy, err := engine.NewOPAEvaluator()
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	users := userrepo.NewPostgresRepository(conn)
	orgs := orgrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	tokens := security.NewTokenProvider(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.JWTAudience,
		cfg.JWTAccessTTL, cfg.JWTRefreshTTL)

	auditor := audit.NewService(auditrepo.NewPostgresRepository(conn), emitter)
	sessions := session.NewService(sessionrepo.NewPostgresRepository(conn), sessioncache.NewRedisStore(client), tokens, auditor)

	mfaSvc := mfa.NewService(mfarepo.NewPostgresRepository(conn), security.NewSecretBox(cfg.MFAEncryptionKey),
		mfa.NewRedisReplayGuard(client), policy, auditor, mfa.DefaultConfig(cfg.MFAIssuer, cfg.MFARequiredRoleList()))

	passwords := password.NewService(users, passwordrepo.NewPostgresRepository(conn), hasher,
		cache.NewWindowLimiter(client, "pwreset", cfg.ResetRateLimit, resetWindow), auditor, password.Config{
			Policy:        cfg.PasswordPolicy(),
			Lockout:       cfg.LockoutPolicy(),
			ResetTTL:      cfg.ResetTokenTTL,
			ResponseFloor: resetFloor,
		})
	passwords.SetSessionRevoker(sessions)
	sessions.SetMFAPolicy(mfaSvc)

	accessSvc := access.NewService(accessrepo.NewPostgresRepository(conn), users, orgs, policy, auditor)

	auth := service.NewAuthService(identityrepo.NewPostgresRepository(conn), users, hasher, passwords, mfaSvc,
		mfa.NewTicketStore(client, ticketMaxAttempts), sessions, auditor, cfg.MFAChallengeTTL)

	return &App{
		DB:       conn,
		Redis:    client,
		Users:    users,
		Orgs:     orgs,
		Audit:    auditor,
		Sessions: sessions,
		MFA:      mfaSvc,
		Password: passwords,
		Access:   accessSvc,
		Auth:     auth,
	}, nil
}

// Close releases Redis and Postgres.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		log.Printf("app: close redis: %v", err)
	}
	if err := a.DB.Close(); err != nil {
		log.Printf("app: close db: %v", err)
	}
}
