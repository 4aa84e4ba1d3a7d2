package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/blockimport/internal/core/config"
	"github.com/vietddude/blockimport/internal/indexing/health"
	"github.com/vietddude/blockimport/internal/indexing/importer"
	"github.com/vietddude/blockimport/internal/infra/kafka"
	redisclient "github.com/vietddude/blockimport/internal/infra/redis"
	"github.com/vietddude/blockimport/internal/infra/storage"
	"github.com/vietddude/blockimport/internal/infra/storage/memory"
	"github.com/vietddude/blockimport/internal/infra/storage/postgres"
	"github.com/vietddude/blockimport/internal/infra/telemetry"
)

// App is the import service with all dependencies initialized.
type App struct {
	cfg          config.AppConfig
	store        storage.Store
	db           *postgres.DB // nil in memory mode
	redisClient  *redisclient.Client
	failed       *redisclient.FailedBatchRepo
	producer     *kafka.Producer
	tracing      func(context.Context) error
	importer     *importer.Importer
	healthServer *health.Server
	log          *slog.Logger
}

// NewApp wires storage, notifications and the importer from configuration.
// Without a database URL the app runs against an in-memory store (dry run).
func NewApp(ctx context.Context, cfg config.AppConfig) (*App, error) {
	log := slog.Default().With("chain", cfg.Import.Chain)
	app := &App{cfg: cfg, log: log}

	// 1. Initialize Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		app.db = db
		app.store = db
		log.Info("Using PostgreSQL storage", "isolation", cfg.Database.Isolation)
	} else {
		app.store = memory.NewMemoryStorage()
		log.Info("Using Memory storage")
	}

	// 2. Notifications
	opts := []importer.Option{importer.WithLogger(log)}
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, notifications disabled", "error", err)
		} else {
			app.redisClient = client
			app.failed = redisclient.NewFailedBatchRepo(client, cfg.Import.Chain)
			opts = append(opts, importer.WithNotifier(redisclient.NewNotifier(client, cfg.Import.Chain, log)))
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka, cfg.Import.Chain, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init kafka producer: %w", err)
		}
		app.producer = producer
		opts = append(opts, importer.WithNotifier(producer))
	}

	// 3. Tracing
	shutdown, err := telemetry.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		log.Warn("Failed to init tracing, spans disabled", "error", err)
	}
	app.tracing = shutdown

	// 4. Importer
	app.importer = importer.New(app.store, importer.Config{
		Chain:   cfg.Import.Chain,
		Variant: cfg.Import.ChainVariant,
		Timeout: cfg.Import.BatchTimeout,
	}, opts...)

	// 5. Health
	if app.db != nil && cfg.Server.Port > 0 {
		var failed health.FailedBatchCounter
		if app.failed != nil {
			failed = app.failed
		}
		app.healthServer = health.NewServer(health.NewMonitor(cfg.Import.Chain, app.db, failed), cfg.Server.Port)
	}

	return app, nil
}

// Importer returns the batch importer.
func (a *App) Importer() *importer.Importer {
	return a.importer
}

// Runner returns a batch runner configured from the import section.
func (a *App) Runner() *Runner {
	var failed FailedBatchRecorder
	if a.failed != nil {
		failed = a.failed
	}
	return NewRunner(a.importer, failed, RunnerConfig{
		Chain:        a.cfg.Import.Chain,
		Workers:      a.cfg.Import.Workers,
		MaxAttempts:  a.cfg.Import.MaxAttempts,
		RetryBackoff: a.cfg.Import.RetryBackoff,
		RateLimit:    a.cfg.Import.RateLimit,
	}, a.log)
}

// DB returns the PostgreSQL handle, or nil in memory mode.
func (a *App) DB() *postgres.DB {
	return a.db
}

// FailedBatches returns the failed-batch queue, or nil when Redis is disabled.
func (a *App) FailedBatches() *redisclient.FailedBatchRepo {
	return a.failed
}

// Redis returns the Redis client, or nil when notifications are disabled.
func (a *App) Redis() *redisclient.Client {
	return a.redisClient
}

// Start starts background components: the health server and the DB metrics collector.
func (a *App) Start(ctx context.Context) error {
	if a.healthServer != nil {
		go func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	return nil
}

// Stop releases every resource held by the app.
func (a *App) Stop(ctx context.Context) error {
	var errs []error

	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("Failed to close Kafka producer", "error", err)
		}
	}

	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			a.log.Warn("Failed to flush traces", "error", err)
		}
	}

	// Close Redis
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
