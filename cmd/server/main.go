package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"

	accesshandler "msp-identity-core/internal/access/handler"
	"msp-identity-core/internal/app"
	audithandler "msp-identity-core/internal/audit/handler"
	"msp-identity-core/internal/config"
	"msp-identity-core/internal/devtoken"
	devtokenhandler "msp-identity-core/internal/devtoken/handler"
	healthchecks "msp-identity-core/internal/health"
	healthhandler "msp-identity-core/internal/health/handler"
	identityhandler "msp-identity-core/internal/identity/handler"
	mfahandler "msp-identity-core/internal/mfa/handler"
	orghandler "msp-identity-core/internal/organization/handler"
	passwordhandler "msp-identity-core/internal/password/handler"
	"msp-identity-core/internal/server"
	sessionhandler "msp-identity-core/internal/session/handler"
	"msp-identity-core/internal/telemetry"
	otelsetup "msp-identity-core/internal/telemetry/otel"
	userhandler "msp-identity-core/internal/user/handler"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	metrics := telemetry.NewMetrics()
	metrics.SetBuildInfo(version)
	mirror := telemetry.NewAsyncEmitter(otelsetup.NewAuditEmitter(providers.LoggerProvider))

	a, err := app.New(ctx, cfg, telemetry.Fanout{metrics, mirror})
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	checker := healthchecks.NewChecker(cfg.StorageTimeout)
	checker.RegisterPinger("postgres", a.DB)
	checker.Register("redis", func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })

	handlers := server.Handlers{
		Identity: identityhandler.New(a.Auth),
		Sessions: sessionhandler.New(a.Sessions),
		Password: passwordhandler.New(a.Password),
		MFA:      mfahandler.New(a.MFA),
		Access:   accesshandler.New(a.Access),
		Audit:    audithandler.New(a.Audit),
		Users:    userhandler.New(a.Users),
		Orgs:     orghandler.New(a.Orgs),
		Health:   healthhandler.New(checker),
	}
	if cfg.DevResetTokens && !cfg.IsProduction() {
		store := devtoken.NewMemoryStore()
		a.Password.SetResetTokenSink(store)
		handlers.DevToken = devtokenhandler.New(store)
		log.Println("server: DEV_RESET_TOKENS enabled; reset tokens are readable at /v1/dev/reset-token")
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(handlers, server.RouterConfig{
			Verifier:       a.Sessions,
			Metrics:        metrics,
			AuthLimiter:    server.NewIPLimiter("auth", cfg.AuthRatePerSecond, cfg.AuthRateBurst, metrics.RateLimited),
			TrustProxy:     cfg.TrustProxy,
			RequestTimeout: cfg.StorageTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthSrv := health.NewServer()
	grpcSrv := server.NewGRPCServer(healthSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.GRPCAddr, err)
	}
	go checker.Sync(ctx, healthSrv, healthInterval)

	errc := make(chan error, 2)
	go func() {
		log.Printf("gRPC health listening on %s", cfg.GRPCAddr)
		errc <- grpcSrv.Serve(lis)
	}()
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("shutting down...")
	case err := <-errc:
		log.Printf("serve: %v", err)
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	defer cancelDrain()
	if err := mirror.Wait(drainCtx); err != nil {
		log.Printf("telemetry: drain: %v", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
	log.Println("server stopped")
}
