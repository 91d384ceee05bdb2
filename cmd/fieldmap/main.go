package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ryanbastic/go-fieldmap/internal/api"
	"github.com/ryanbastic/go-fieldmap/internal/circuitbreaker"
	"github.com/ryanbastic/go-fieldmap/internal/config"
	"github.com/ryanbastic/go-fieldmap/internal/metrics"
	"github.com/ryanbastic/go-fieldmap/internal/notify"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

func main() {
	var (
		cfg     config.Config
		envFile string
		logger  *slog.Logger
	)

	rootCmd := &cobra.Command{
		Use:           "fieldmap",
		Short:         "Field mapping service: draw, attribute and store map shapes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a missing .env is fine; the environment may already be set
			_ = godotenv.Load(envFile)
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			logger = cfg.Logger(os.Stdout)
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg, logger)
		},
	}
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			return storage.RunMigrations(ctx, pool)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database")
	return pool, nil
}

func serve(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrations complete")

	prometheus.MustRegister(metrics.NewPoolCollector(pool))

	// Store behind a circuit breaker
	breaker := circuitbreaker.New("store", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout,
		circuitbreaker.WithFailureClassifier(storage.IsStoreFailure),
		circuitbreaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
			metrics.BreakerStateChanged(name, from, to)
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)
	store := storage.NewGuarded(storage.NewPostgresStore(pool, cfg.QueryTimeout), breaker)

	// auto_id allocation: Redis counters when configured, otherwise a scan per save
	var alloc schema.Allocator = schema.NewScanAllocator(store)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, auto ids fall back to scans until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		alloc = schema.NewRedisAllocator(rdb, store, "fieldmap:autoid", logger)
		logger.Info("using redis auto id counters", "addr", cfg.RedisAddr)
	}

	// Plugins and event fan-out
	plugins := notify.NewPluginRegistry(notify.NewPostgresPluginStore(pool, cfg.QueryTimeout))
	if err := plugins.Load(ctx); err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	notifier := notify.NewNotifier(plugins, notify.NewRPCClient(cfg.NotifyRetryMax, cfg.NotifyRetryBackoff, cfg.NotifyRPCTimeout), logger)
	defer notifier.Close()
	logger.Info("plugins loaded", "count", len(plugins.List(notify.PluginFilter{})))

	coord := persist.NewCoordinator(store, persist.NewCollection(), logger,
		persist.WithAllocator(alloc),
		persist.WithPublisher(notifier),
		persist.WithObserver(metrics.Operations{}),
		persist.WithMapConfigTTL(cfg.MapConfigCacheTTL),
	)
	if err := coord.Refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}
	coll := coord.Collection()
	logger.Info("collection loaded", "shapes", len(coll.Shapes()), "categories", len(coll.Categories()))

	// Start HTTP server
	handler, _ := api.NewServer(api.Deps{
		Logger:      logger,
		Coordinator: coord,
		Plugins:     plugins,
		SessionIdle: cfg.SessionIdleTimeout,
		Backends:    map[string]api.Pinger{"postgres": pool},
		Breakers:    map[string]api.BreakerReporter{"store": store},
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
