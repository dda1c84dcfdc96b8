// Package main is the entry point for the Idhini approval BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/action"
	"github.com/upendohq/idhini/internal/assetapi"
	"github.com/upendohq/idhini/internal/config"
	"github.com/upendohq/idhini/internal/lookup"
	"github.com/upendohq/idhini/internal/observability"
	"github.com/upendohq/idhini/internal/openapi"
	"github.com/upendohq/idhini/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "idhini-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Verify the asset-service contract before taking traffic. A missing
	// operation is a deploy-time mistake, not a runtime condition.
	contract := openapi.NewContract()
	contractLoaded := false
	if cfg.AssetService.SpecFile != "" {
		if err := contract.Load(cfg.AssetService.SpecFile); err != nil {
			logger.Error("asset-service contract load failed", zap.Error(err))
			return 1
		}
		if err := contract.Verify(assetapi.RequiredOperations()); err != nil {
			logger.Error("asset-service contract verification failed", zap.Error(err))
			return 1
		}
		contractLoaded = true
		logger.Info("asset-service contract verified",
			zap.Int("operations", len(contract.OperationIDs())))
	} else {
		logger.Warn("no asset-service spec file configured, skipping contract verification")
	}

	var clientOpts []assetapi.Option
	if metrics != nil {
		clientOpts = append(clientOpts, assetapi.WithMetrics(metrics))
	}
	client := assetapi.NewClient(cfg.AssetService, logger, clientOpts...)

	idemStore, idemCloser, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	var dispatchOpts []action.DispatcherOption
	if idemStore != nil {
		dispatchOpts = append(dispatchOpts, action.WithIdempotencyStore(idemStore, cfg.Idempotency.DefaultTTL))
	}
	if metrics != nil {
		dispatchOpts = append(dispatchOpts, action.WithObserver(metrics))
	}
	dispatcher := action.NewDispatcher(client, logger, dispatchOpts...)

	lookups := lookup.NewTechnicianProvider(client, cfg.Lookup.CacheTTL, cfg.Lookup.MaxEntries)
	if metrics != nil {
		lookups.SetObserver(metrics)
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{
		ContractLoaded: func() bool { return contractLoaded || cfg.AssetService.SpecFile == "" },
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Backend:      client,
		Dispatcher:   dispatcher,
		Lookups:      lookups,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("asset_service", cfg.AssetService.BaseURL),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when deduplication is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (action.IdempotencyStore, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return action.NewMemoryIdempotencyStore(), nil, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("idempotency: redis ping: %w", err)
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return action.NewRedisIdempotencyStore(client), func() { client.Close() }, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("idempotency: %s environment variable not set", cfg.DSNEnv)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("idempotency: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("idempotency: ping: %w", err)
		}
		store := action.NewPostgresIdempotencyStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using postgres idempotency store")
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.Driver)
	}
}
