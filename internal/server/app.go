// Package server builds the application's dependencies from config and runs the service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/api"
	"github.com/JakeFAU/sneaky-snake/internal/clock/system"
	"github.com/JakeFAU/sneaky-snake/internal/config"
	"github.com/JakeFAU/sneaky-snake/internal/dispatcher"
	"github.com/JakeFAU/sneaky-snake/internal/fetcher"
	collyfetcher "github.com/JakeFAU/sneaky-snake/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sneaky-snake/internal/fetcher/headless"
	"github.com/JakeFAU/sneaky-snake/internal/fetcher/profile"
	rodfetcher "github.com/JakeFAU/sneaky-snake/internal/fetcher/rod"
	"github.com/JakeFAU/sneaky-snake/internal/id/uuid"
	"github.com/JakeFAU/sneaky-snake/internal/intake"
	memorypublisher "github.com/JakeFAU/sneaky-snake/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sneaky-snake/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/sneaky-snake/internal/queue/memory"
	queueRedis "github.com/JakeFAU/sneaky-snake/internal/queue/redis"
	"github.com/JakeFAU/sneaky-snake/internal/resolver"
	"github.com/JakeFAU/sneaky-snake/internal/scheduler"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
	memoryStorage "github.com/JakeFAU/sneaky-snake/internal/storage/memory"
	pgstore "github.com/JakeFAU/sneaky-snake/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/sneaky-snake/internal/storage/sqlite"
	"github.com/JakeFAU/sneaky-snake/internal/worker"
)

type closableQueue interface {
	scrape.Queue
	Close() error
}

type closablePublisher interface {
	scrape.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	intake    *intake.Service
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	queue     closableQueue
	store     scrape.Store
	fetcher   *fetcher.Router
	publisher closablePublisher
}

// Build creates the application's dependencies. On error everything built so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.closeInfrastructure()
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("engine", cfg.Fetcher.Engine),
	)

	if app.store, err = setupStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if app.queue, err = setupQueue(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if app.publisher, err = setupPublisher(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err = prepareProfiles(cfg.Fetcher, logger); err != nil {
		return nil, err
	}
	if app.fetcher, err = setupFetcher(cfg, logger); err != nil {
		return nil, err
	}

	clock := system.New()
	workerCfg := worker.Config{
		Topic:          cfg.PubSub.TopicName,
		DefaultTimeout: cfg.DefaultTimeout(),
	}
	workers := make([]dispatcher.Runner, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.store,
			app.fetcher,
			app.publisher,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers)

	app.scheduler = scheduler.New(app.dispatch, scheduler.Config{
		MinDelaySeconds: cfg.Scheduler.MinDelaySeconds,
		MaxDelaySeconds: cfg.Scheduler.MaxDelaySeconds,
	}, logger.Named("scheduler"), scheduler.WithFailureStore(app.store, clock))

	res := resolver.New(app.store, uuid.New(), clock, logger.Named("resolver"))
	app.intake = intake.New(intake.Config{
		DefaultTimeoutMs: cfg.Scrape.DefaultTimeoutMs,
		MaxTimeoutMs:     cfg.Scrape.MaxTimeoutMs,
		MaxBatchSize:     cfg.Scrape.MaxBatchSize,
	}, app.store, res, app.scheduler, logger.Named("intake"))

	app.apiServer = api.NewServer(app.intake, api.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, logger.Named("api"))

	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and worker pool and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(dispatchCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.scheduler.Close(); err != nil {
		a.logger.Warn("scheduler close failed", zap.Error(err))
	}
	cancelDispatch()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	closeErr := a.Close()
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases queue, fetcher, publisher, and store resources.
func (a *App) Close() error {
	if a.scheduler != nil {
		if err := a.scheduler.Close(); err != nil {
			a.logger.Warn("scheduler close failed", zap.Error(err))
		}
	}
	err := a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
	return err
}

func (a *App) closeInfrastructure() error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.fetcher != nil {
		if err := a.fetcher.Close(); err != nil {
			a.logger.Warn("fetcher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("result store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func setupStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scrape.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		store, err := sqlitestore.NewResultStore(ctx, sqlitestore.Config{Path: cfg.Store.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("using sqlite result store", zap.String("path", cfg.Store.SQLitePath))
		return store, nil
	case config.StorePostgres:
		store, err := pgstore.NewResultStore(ctx, pgstore.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
			AutoMigrate:     cfg.DB.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		logger.Info("using postgres result store", zap.String("table", cfg.DB.Table))
		return store, nil
	default:
		logger.Warn("using in-memory result store; results are lost on restart")
		return memoryStorage.NewResultStore(), nil
	}
}

func setupQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (closableQueue, error) {
	if cfg.Queue.Backend == config.QueueRedis {
		q, err := queueRedis.New(ctx, queueRedis.Config{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
			Key:      cfg.Queue.RedisKey,
		})
		if err != nil {
			return nil, fmt.Errorf("redis queue init failed: %w", err)
		}
		logger.Info("using redis queue", zap.String("addr", cfg.Queue.RedisAddr), zap.String("key", cfg.Queue.RedisKey))
		return q, nil
	}
	logger.Info("using in-memory queue", zap.Int("depth", cfg.Worker.QueueDepth))
	return queueMemory.NewQueue(cfg.Worker.QueueDepth), nil
}

func setupPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (closablePublisher, error) {
	if cfg.PubSub.TopicName == "" || cfg.PubSub.ProjectID == "" {
		if cfg.PubSub.TopicName != "" {
			logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		}
		return memorypublisher.New(0, logger.Named("publisher")), nil
	}
	pub, err := gcppublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return pub, nil
}

// prepareProfiles seeds or resets the browser profiles before any browser starts.
func prepareProfiles(fc config.FetcherConfig, logger *zap.Logger) error {
	if fc.ProfileDir == "" {
		return nil
	}
	var dirs []string
	if fc.Engine != config.EngineHTTP {
		dirs = append(dirs, fc.ProfileDir)
	}
	if fc.StealthEnabled {
		dirs = append(dirs, profile.StealthDir(fc.ProfileDir))
	}
	for _, dir := range dirs {
		err := profile.Prepare(profile.Config{
			Dir:      dir,
			Template: fc.ProfileTemplate,
			Reset:    fc.ResetProfileOnStart,
		}, logger.Named("profile"))
		if err != nil {
			return fmt.Errorf("browser profile init failed: %w", err)
		}
	}
	return nil
}

func setupFetcher(cfg config.Config, logger *zap.Logger) (*fetcher.Router, error) {
	fc := cfg.Fetcher
	var primary scrape.Fetcher
	switch fc.Engine {
	case config.EngineHTTP:
		primary = collyfetcher.New(collyfetcher.Config{UserAgent: fc.UserAgent})
		logger.Info("using colly fetcher", zap.String("user_agent", fc.UserAgent))
	case config.EngineRod:
		primary = rodfetcher.New(rodfetcher.Config{
			MaxPages:   fc.MaxParallel,
			Headless:   fc.Headless,
			NoSandbox:  fc.NoSandbox,
			BrowserBin: fc.BrowserBin,
			ProfileDir: fc.ProfileDir,
			UserAgent:  fc.UserAgent,
		}, logger.Named("rod"))
		logger.Info("using rod fetcher", zap.Int("max_pages", fc.MaxParallel))
	default:
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel: fc.MaxParallel,
			UserAgent:   fc.UserAgent,
			Headless:    fc.Headless,
			NoSandbox:   fc.NoSandbox,
			BrowserBin:  fc.BrowserBin,
			ProfileDir:  fc.ProfileDir,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		primary = headless
		logger.Info("using headless fetcher", zap.Int("max_parallel", fc.MaxParallel))
	}

	var stealth scrape.Fetcher
	if fc.StealthEnabled {
		stealth = rodfetcher.New(rodfetcher.Config{
			MaxPages:   fc.MaxParallel,
			Headless:   fc.Headless,
			NoSandbox:  fc.NoSandbox,
			BrowserBin: fc.BrowserBin,
			ProfileDir: profile.StealthDir(fc.ProfileDir),
			UserAgent:  fc.UserAgent,
			Stealth:    true,
		}, logger.Named("stealth"))
		logger.Info("stealth fetcher enabled")
	}
	return fetcher.NewRouter(primary, stealth, logger.Named("fetcher"))
}
