// Package server builds the harvester's dependency graph and runs its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/admission"
	"github.com/JakeFAU/scholar-harvester/internal/api"
	"github.com/JakeFAU/scholar-harvester/internal/batch"
	"github.com/JakeFAU/scholar-harvester/internal/clock/system"
	"github.com/JakeFAU/scholar-harvester/internal/config"
	"github.com/JakeFAU/scholar-harvester/internal/dispatcher"
	"github.com/JakeFAU/scholar-harvester/internal/harvest"
	"github.com/JakeFAU/scholar-harvester/internal/id/uuid"
	"github.com/JakeFAU/scholar-harvester/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/scholar-harvester/internal/publisher/pubsub"
	badgerqueue "github.com/JakeFAU/scholar-harvester/internal/queue/badger"
	memoryqueue "github.com/JakeFAU/scholar-harvester/internal/queue/memory"
	pgqueue "github.com/JakeFAU/scholar-harvester/internal/queue/postgres"
	badgerstore "github.com/JakeFAU/scholar-harvester/internal/storage/badger"
	filestore "github.com/JakeFAU/scholar-harvester/internal/storage/file"
	gcsstorage "github.com/JakeFAU/scholar-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scholar-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/scholar-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/scholar-harvester/internal/storage/postgres"
	"github.com/JakeFAU/scholar-harvester/internal/supervisor"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  harvest.Clock
	ids    harvest.IDGenerator

	runState  harvest.RunStateStore
	queue     harvest.Queue
	roster    harvest.RosterProvider
	archive   harvest.BlobStore
	publisher harvest.Publisher

	runner    *batch.Runner
	admission *admission.Controller
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	pool            *pgxpool.Pool
	badger          *badgerhold.Store
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher

	closeOnce sync.Once
}

// Build creates the application's dependencies. The caller owns logger and must call
// Close when Build succeeds.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Info("building application dependencies",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("roster_driver", cfg.Roster.Driver),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Duration("min_interval", cfg.Schedule.MinInterval),
	)

	steps := []func(context.Context) error{
		app.setupStores,
		app.setupRoster,
		app.setupArchive,
		app.setupPublisher,
		app.setupPipeline,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}
	return app, nil
}

// setupStores opens the run state store and the job queue on the configured driver. The
// postgres pool and the badger database are shared with the roster and the queue.
func (a *App) setupStores(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		if err := a.openPool(ctx); err != nil {
			return err
		}
		runState, err := pgstore.NewRunStateStore(a.pool, a.cfg.Store.StateTable)
		if err != nil {
			return fmt.Errorf("run state store init failed: %w", err)
		}
		q, err := pgqueue.New(a.pool, a.cfg.Store.JobsTable)
		if err != nil {
			return fmt.Errorf("job queue init failed: %w", err)
		}
		a.runState, a.queue = runState, q
	case config.DriverBadger:
		store, err := badgerstore.Open(a.cfg.Store.BadgerPath)
		if err != nil {
			return fmt.Errorf("badger init failed: %w", err)
		}
		a.badger = store
		runState, err := badgerstore.NewRunStateStore(store)
		if err != nil {
			return fmt.Errorf("run state store init failed: %w", err)
		}
		q, err := badgerqueue.New(store)
		if err != nil {
			return fmt.Errorf("job queue init failed: %w", err)
		}
		a.runState, a.queue = runState, q
	default:
		a.logger.Warn("using in-memory run state and queue; state is lost on restart")
		a.runState = memorystorage.NewRunStateStore()
		a.queue = memoryqueue.NewQueue()
	}
	return nil
}

func (a *App) openPool(ctx context.Context) error {
	if a.pool != nil {
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.Store.DSN,
		MaxConns:        a.cfg.Store.MaxConns,
		MaxConnLifetime: a.cfg.Store.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	return nil
}

func (a *App) setupRoster(ctx context.Context) error {
	switch a.cfg.Roster.Driver {
	case config.DriverPostgres:
		if err := a.openPool(ctx); err != nil {
			return err
		}
		roster, err := pgstore.NewRosterStore(a.pool, a.cfg.Roster.Table)
		if err != nil {
			return fmt.Errorf("roster init failed: %w", err)
		}
		a.roster = roster
	default:
		roster, err := filestore.NewRosterProvider(a.cfg.Roster.Path)
		if err != nil {
			return fmt.Errorf("roster init failed: %w", err)
		}
		a.roster = roster
	}
	a.logger.Debug("roster provider ready", zap.String("driver", a.cfg.Roster.Driver))
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archive = blobs
		a.logger.Info("archiving failed captures to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.archive = blobs
		a.logger.Info("archiving failed captures locally", zap.String("path", a.cfg.Archive.BaseDir))
	case config.ArchiveMemory:
		a.archive = memorystorage.NewBlobStore()
	default:
		a.logger.Debug("capture archiving disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, batch notifications disabled")
		return nil
	}
	client, publisher, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = publisher
	a.publisher = publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupPipeline(context.Context) error {
	sup := supervisor.New(supervisor.Config{
		AgentCommand:    a.cfg.Harvest.AgentCommand,
		AgentArgs:       a.cfg.Harvest.AgentArgs,
		KillGrace:       a.cfg.Harvest.KillGrace,
		MaxCaptureBytes: a.cfg.Harvest.MaxCaptureBytes,
		TempDir:         a.cfg.Harvest.TempDir,
		Env:             a.cfg.Harvest.Env,
	}, a.logger)

	deps := batch.Deps{
		RunState:  a.runState,
		Roster:    a.roster,
		Harvester: sup,
		Sync:      sup,
		Archive:   a.archive,
		Publisher: a.publisher,
		Clock:     a.clock,
	}
	if a.cfg.Harvest.PerHostRPS > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			PerHostRPS:   a.cfg.Harvest.PerHostRPS,
			PerHostBurst: a.cfg.Harvest.PerHostBurst,
		})
	}
	runner, err := batch.New(deps, batch.Config{
		TargetTimeout: a.cfg.Harvest.TargetTimeout,
		Concurrency:   a.cfg.Harvest.Concurrency,
		SyncCommand:   a.cfg.Sync.Command,
		SyncArgs:      a.cfg.Sync.Args,
		SyncTimeout:   a.cfg.Sync.Timeout,
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("batch runner init failed: %w", err)
	}
	a.runner = runner

	ctrl, err := admission.New(
		a.runState,
		a.queue,
		a.ids,
		a.clock,
		admission.Config{MinInterval: a.cfg.Schedule.MinInterval},
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("admission controller init failed: %w", err)
	}
	a.admission = ctrl

	a.dispatch = dispatcher.New(a.queue, dispatcher.Config{PollInterval: a.cfg.Schedule.PollInterval}, a.logger)
	a.apiServer = api.NewServer(ctrl, api.Options{
		RequestTimeout: a.cfg.Server.RequestTimeout,
		APIKey:         a.cfg.Server.APIKey,
	}, a.logger)
	return nil
}

// Run starts the timers, the queue consumer and the HTTP server, and blocks until ctx
// is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Schedule.PurgeOnStart {
		if _, err := a.Purge(ctx); err != nil {
			return err
		}
	}

	tm, err := newTimers(a.admission, a.cfg.Schedule, a.logger)
	if err != nil {
		return err
	}
	// The first check runs immediately instead of one CheckInterval after boot.
	a.admission.MaybeSchedule(ctx)
	if err := tm.Start(ctx); err != nil {
		return err
	}

	consumeErr := make(chan error, 1)
	go func() {
		a.logger.Info("dispatcher started")
		consumeErr <- a.dispatch.Consume(ctx, a.runner.Handler())
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	a.logger.Info("application started")
	var runErr error
	select {
	case <-ctx.Done():
		<-consumeErr
	case runErr = <-consumeErr:
		if runErr != nil {
			a.logger.Error("dispatcher stopped", zap.Error(runErr))
		}
		stop()
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	tm.Stop(shutdownCtx)
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if err := a.Close(); err != nil {
		return err
	}
	return runErr
}

// RunOnce admits a manual batch and runs it in the foreground. It refuses when a job is
// already waiting or active.
func (a *App) RunOnce(ctx context.Context) (harvest.BatchSummary, error) {
	decision, jobID := a.admission.Trigger(ctx)
	if decision != admission.DecisionEnqueued {
		return harvest.BatchSummary{}, fmt.Errorf("batch not admitted: %s", decision)
	}
	job, ok, err := a.queue.Claim(ctx)
	if err != nil {
		return harvest.BatchSummary{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !ok || job.ID != jobID {
		return harvest.BatchSummary{}, fmt.Errorf("job %s was claimed by another consumer", jobID)
	}
	summary, runErr := a.runner.RunBatch(ctx, job)

	settleCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := a.queue.Fail(settleCtx, job.ID, runErr.Error()); err != nil {
			a.logger.Error("fail job", zap.String("job_id", job.ID), zap.Error(err))
		}
		return summary, runErr
	}
	if err := a.queue.Complete(settleCtx, job.ID); err != nil {
		return summary, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return summary, nil
}

// Purge discards every queued job.
func (a *App) Purge(ctx context.Context) (int, error) {
	n, err := a.queue.PurgeAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}
	a.logger.Info("queue purged", zap.Int("removed", n))
	return n, nil
}

// Status reports the admission status.
func (a *App) Status(ctx context.Context) (admission.Status, error) {
	st, err := a.admission.Status(ctx)
	if err != nil {
		return admission.Status{}, fmt.Errorf("status: %w", err)
	}
	return st, nil
}

// Handler exposes the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Close releases every client and store. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.badger != nil {
		if err := a.badger.Close(); err != nil {
			a.logger.Warn("badger close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
