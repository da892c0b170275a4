package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/giftclaim/internal/adapter/httpserver"
	"github.com/pscheid92/giftclaim/internal/adapter/keyissuer"
	"github.com/pscheid92/giftclaim/internal/adapter/metrics"
	"github.com/pscheid92/giftclaim/internal/adapter/postgres"
	"github.com/pscheid92/giftclaim/internal/adapter/redis"
	"github.com/pscheid92/giftclaim/internal/adapter/telegram"
	"github.com/pscheid92/giftclaim/internal/adapter/truemoney"
	"github.com/pscheid92/giftclaim/internal/app"
	"github.com/pscheid92/giftclaim/internal/platform/config"
	"github.com/pscheid92/giftclaim/internal/platform/crypto"
	"github.com/pscheid92/giftclaim/internal/platform/logging"
	"github.com/pscheid92/giftclaim/internal/platform/version"
)

const shutdownTimeout = 10 * time.Second

type collectors struct {
	registry  *prometheus.Registry
	http      *metrics.HTTPMetrics
	claims    *metrics.ClaimMetrics
	sessions  *metrics.SessionMetrics
	reconcile *metrics.ReconcileMetrics
	storage   *metrics.StorageMetrics
}

func setupMetrics() collectors {
	reg := metrics.NewRegistry()
	return collectors{
		registry:  reg,
		http:      metrics.NewHTTPMetrics(reg),
		claims:    metrics.NewClaimMetrics(reg),
		sessions:  metrics.NewSessionMetrics(reg),
		reconcile: metrics.NewReconcileMetrics(reg),
		storage:   metrics.NewStorageMetrics(reg),
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, storage *metrics.StorageMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewQueryTracer(storage))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, storage *metrics.StorageMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL,
		redis.NewMetricsHook(storage),
		redis.NewCircuitBreakerHook(storage.ObserveBreakerState),
	)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupSealer(cfg *config.Config) crypto.Sealer {
	sealer, err := crypto.New(cfg.CredentialEncryptionKey)
	if err != nil {
		slog.Error("Failed to create credential sealer", "error", err)
		os.Exit(1)
	}
	if cfg.CredentialEncryptionKey == "" {
		slog.Warn("CREDENTIAL_ENCRYPTION_KEY not set, bot credentials are stored unencrypted")
	}
	return sealer
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "giftclaim"
	}
	return host + "-" + uuid.NewString()[:8]
}

// holdCoordinatorLease blocks until this process is the only coordinator and
// cancels the process context if the lease is later lost.
func holdCoordinatorLease(ctx context.Context, lease *redis.CoordinatorLease, stop context.CancelFunc) {
	if err := lease.Acquire(ctx); err != nil {
		slog.Error("Failed to acquire coordinator lease", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := lease.Keep(ctx); err != nil {
			slog.Error("Coordinator lease lost, shutting down", "error", err)
			stop()
		}
	}()
}

func runGracefulShutdown(ctx context.Context, srv *httpserver.Server, reconciler *app.Reconciler, sessions *app.SessionManager, lease *redis.CoordinatorLease) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		reconciler.Stop()

		if err := sessions.Shutdown(shutdownCtx); err != nil {
			slog.Error("Session shutdown incomplete", "error", err)
		}

		if err := lease.Release(shutdownCtx); err != nil {
			slog.Error("Failed to release coordinator lease", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	m := setupMetrics()

	pool := setupDB(cfg, m.storage)
	defer pool.Close()

	redisClient := setupRedis(cfg, m.storage)
	defer func() { _ = redisClient.Close() }()

	tenants := postgres.NewTenantRepo(pool, setupSealer(cfg))
	keys := keyissuer.NewClient(cfg.KeyIssuerURL, cfg.KeyIssuerTimeout)
	redeemer := truemoney.NewClient(cfg.RedeemURL, cfg.RedeemTimeout)
	transport := telegram.NewTransport(cfg.TelegramAppID, cfg.TelegramAppHash, logging.NewTransportLogger(cfg.LogLevel, cfg.LogFormat))

	watchers := app.WatcherDeps{
		Tenants:     tenants,
		Claims:      app.NewClaimPipeline(redeemer, app.ClaimPolicy{MaxAttempts: cfg.ClaimMaxAttempts, Delay: cfg.ClaimRetryDelay}, clock, m.claims),
		Guard:       redis.NewOccurrenceGuard(redisClient, cfg.OccurrenceTTL),
		Events:      redis.NewClaimEventPublisher(redisClient),
		Clock:       clock,
		Recorder:    m.claims,
		QueueSize:   cfg.WatcherQueueSize,
		SettleDelay: cfg.ConnectionSettleDelay,
	}
	sessions := app.NewSessionManager(tenants, transport, app.NewSessionRegistry(), watchers, clock, app.SessionConfig{
		CodeTTL:            cfg.LoginCodeTTL,
		RestoreSettleDelay: cfg.RestoreSettleDelay,
		ProbeInterval:      cfg.HealthProbeInterval,
	}, m.sessions)

	appSvc := app.NewService(tenants, keys, sessions, clock)

	lease := redis.NewCoordinatorLease(redisClient, instanceID(), cfg.CoordinatorLeaseTTL, clock)
	holdCoordinatorLease(ctx, lease, stop)

	go func() {
		if _, err := sessions.RestoreAll(ctx); err != nil {
			slog.Error("Session restore aborted", "error", err)
		}
	}()

	reconciler := app.NewReconciler(tenants, sessions, clock, cfg.ReconcileInterval, m.reconcile)
	go reconciler.Start(ctx)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}
	srv := httpserver.NewServer(cfg, appSvc, healthChecks, metrics.Handler(m.registry), m.http.Middleware())

	done := runGracefulShutdown(ctx, srv, reconciler, sessions, lease)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
