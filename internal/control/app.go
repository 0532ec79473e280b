// Package control wires storage, queues, workers, and the ops HTTP server
// into one application lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vuive/marketsync/internal/core/config"
	"github.com/vuive/marketsync/internal/core/domain"
	redisclient "github.com/vuive/marketsync/internal/infra/redis"
	"github.com/vuive/marketsync/internal/infra/storage"
	"github.com/vuive/marketsync/internal/infra/storage/memory"
	"github.com/vuive/marketsync/internal/infra/storage/postgres"
	"github.com/vuive/marketsync/internal/platform"
	"github.com/vuive/marketsync/internal/sync/deadletter"
	"github.com/vuive/marketsync/internal/sync/queue"
	"github.com/vuive/marketsync/internal/sync/worker"
)

// Options injects the external collaborators. Nil fields fall back to the
// built-in logging implementations so the pipeline runs end to end without
// marketplace credentials.
type Options struct {
	Catalog platform.CatalogReader
	Adapter platform.Adapter
}

// App is the assembled application.
type App struct {
	cfg    *config.AppConfig
	db     *postgres.DB
	redis  *redisclient.Client
	jobs   storage.JobRepository
	dead   storage.DeadLetterRepository
	syncLg storage.SyncLogRepository
	queue  *queue.Service
	dlq    *deadletter.Store
	pool   *worker.Pool
	server *http.Server
	cancel context.CancelFunc
	log    *slog.Logger
}

// New creates an App with all dependencies initialized.
func New(cfg *config.AppConfig, opts Options) (*App, error) {
	app := &App{
		cfg: cfg,
		log: slog.Default().With("component", "app"),
	}

	var (
		jobs   storage.JobRepository
		dead   storage.DeadLetterRepository
		syncLg storage.SyncLogRepository
	)
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		jobs = postgres.NewJobRepo(db)
		dead = postgres.NewDeadLetterRepo(db)
		syncLg = postgres.NewSyncLogRepo(db)
		app.db = db
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewStorage()
		jobs = memory.NewJobRepo(store)
		dead = memory.NewDeadLetterRepo(store)
		syncLg = memory.NewSyncLogRepo(store)
		slog.Info("Using Memory storage")
	}
	app.jobs, app.dead, app.syncLg = jobs, dead, syncLg

	var sched queue.SchedQueue
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		sched = redisclient.NewSchedQueue(client)
		app.redis = client
		slog.Info("Using Redis scheduling queue")
	} else {
		sched = queue.NewMemorySchedQueue()
		slog.Info("Using Memory scheduling queue")
	}

	policy := cfg.RetryPolicy()
	app.queue = queue.NewService(cfg.Queue, jobs, sched, policy)
	app.dlq = deadletter.NewStore(dead, syncLg, app.queue)

	catalog := opts.Catalog
	if catalog == nil {
		catalog = &passthroughCatalog{}
	}
	adapter := opts.Adapter
	if adapter == nil {
		adapter = &logAdapter{log: slog.Default().With("component", "adapter")}
	}
	app.pool = worker.NewPool(cfg.Worker, app.queue, jobs, syncLg, app.dlq, policy, catalog, adapter)

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: app.router(),
	}
	return app, nil
}

// Start launches the HTTP server, scheduler, worker pool, and retention
// sweep. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		a.log.Info("Ops server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("Ops server failed", "error", err)
		}
	}()

	go func() {
		if err := a.queue.RunScheduler(ctx); err != nil {
			a.log.Error("Scheduler failed", "error", err)
		}
	}()
	go func() {
		if err := a.pool.Run(ctx); err != nil {
			a.log.Error("Worker pool failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	go a.runRetention(ctx)

	return nil
}

// Stop shuts everything down, waiting up to ctx's deadline for in-flight
// HTTP requests.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")
	if a.cancel != nil {
		a.cancel()
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	return a.server.Shutdown(ctx)
}

// runRetention periodically purges terminal jobs and old dead letters.
func (a *App) runRetention(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Retention.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.queue.CleanupJobs(ctx, a.cfg.Retention.JobHistory); err != nil {
				a.log.Error("Job retention sweep failed", "error", err)
			}
			if _, err := a.dlq.Cleanup(ctx, a.cfg.Retention.DeadLetterDays); err != nil {
				a.log.Error("Dead letter retention sweep failed", "error", err)
			}
		}
	}
}

// passthroughCatalog derives a product from its id. Stands in until a real
// catalog service is wired through Options.
type passthroughCatalog struct{}

func (c *passthroughCatalog) GetProduct(ctx context.Context, productID, organizationID string) (*domain.Product, error) {
	if productID == "" {
		return nil, platform.ErrProductNotFound
	}
	return &domain.Product{
		ID:             productID,
		OrganizationID: organizationID,
		SKU:            productID,
		Name:           productID,
	}, nil
}

// logAdapter acknowledges every sync and logs it. Stands in until real
// marketplace adapters are wired through Options.
type logAdapter struct {
	log *slog.Logger
}

func (a *logAdapter) PerformSync(ctx context.Context, product *domain.Product, p domain.Platform) (*platform.SyncResult, error) {
	a.log.Info("Sync", "platform", p, "product_id", product.ID, "sku", product.SKU)
	return &platform.SyncResult{
		ExternalID: fmt.Sprintf("%s-%s", p, product.ID),
		Price:      product.BasePrice,
		SEOTitle:   product.Name,
	}, nil
}
