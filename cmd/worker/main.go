// worker runs the periodic maintenance jobs: expire stale sessions and access
// grants, purge expired reset tokens, and apply the audit retention window.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"msp-identity-core/internal/app"
	"msp-identity-core/internal/config"
	"msp-identity-core/internal/maintenance"
	"msp-identity-core/internal/telemetry"
	otelsetup "msp-identity-core/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.OTELServiceName + "-worker",
		Environment: cfg.Env,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	mirror := telemetry.NewAsyncEmitter(otelsetup.NewAuditEmitter(providers.LoggerProvider))

	a, err := app.New(ctx, cfg, mirror)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	runner := maintenance.NewRunner(cfg.CleanupInterval, cfg.CleanupInterval/2, nil,
		maintenance.Job{Name: "sessions", Run: a.Sessions.CleanupExpired},
		maintenance.Job{Name: "access_grants", Run: func(ctx context.Context) (int64, error) {
			n, err := a.Access.ExpireStale(ctx)
			return int64(n), err
		}},
		maintenance.Job{Name: "reset_tokens", Run: a.Password.CleanupExpiredTokens},
		maintenance.Job{Name: "audit_retention", Run: func(ctx context.Context) (int64, error) {
			return a.Audit.CleanupOldLogs(ctx, cfg.AuditRetentionDays)
		}},
	)

	log.Printf("worker: running maintenance every %s (audit retention %d days)", cfg.CleanupInterval, cfg.AuditRetentionDays)
	runner.Run(ctx)
	log.Println("worker: shutting down...")

	drainCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	defer cancel()
	if err := mirror.Wait(drainCtx); err != nil {
		log.Printf("telemetry: drain: %v", err)
	}
	if err := providers.Shutdown(drainCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
	log.Println("worker: stopped")
}
