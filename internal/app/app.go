package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"TrendWatcher/internal/config"
	"TrendWatcher/internal/formatter"
	"TrendWatcher/internal/httpapi"
	"TrendWatcher/internal/infrastructure/llm"
	"TrendWatcher/internal/infrastructure/lock"
	"TrendWatcher/internal/infrastructure/mail"
	"TrendWatcher/internal/infrastructure/scheduler"
	"TrendWatcher/internal/infrastructure/search"
	"TrendWatcher/internal/infrastructure/storage"
	"TrendWatcher/internal/logging"
	"TrendWatcher/internal/ports"
	"TrendWatcher/internal/usecase"
	"TrendWatcher/internal/workers"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     storage.Store
	closers   []func() error
	pool      *workers.Pool
	service   *usecase.Service
	scheduler *usecase.Scheduler
	server    *http.Server
}

// New connects storage and external clients and builds the object graph.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &Application{cfg: cfg, logger: baseLogger, store: store}

	completion, err := llm.New(cfg.LLM)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	locker, err := a.buildLocker(ctx)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Search:     search.NewTavilyClient(cfg.Search),
		Completion: completion,
		Logger:     baseLogger,
	})

	a.pool = workers.NewPool(workers.Config{
		Workers:   cfg.Workers.Count,
		QueueSize: cfg.Workers.QueueSize,
		Timeout:   cfg.Workers.Timeout(),
	}, baseLogger)

	a.service = usecase.NewService(usecase.ServiceDeps{
		Pipeline:      pipeline,
		Formatter:     formatter.New(cfg.Mail.TeamName),
		Mailer:        mail.NewSender(cfg.Mail, baseLogger),
		Subscriptions: store,
		Runs:          store,
		Locker:        locker,
		Queue:         a.pool,
		LockTTL:       cfg.Redis.LockDuration(),
		Logger:        baseLogger,
	})

	a.scheduler = usecase.NewScheduler(
		scheduler.NewTickerScheduler(cfg.Scheduler.Interval(), cfg.Scheduler.Location()),
		a.service,
		baseLogger,
	)

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.NewHandler(a.service, store), cfg.Server, baseLogger)
	a.server = httpapi.NewServer(cfg.Server.Addr, router)

	return a, nil
}

func (a *Application) buildLocker(ctx context.Context) (ports.Locker, error) {
	if a.cfg.Redis.URL == "" {
		a.logger.Info("redis not configured, using in-process subscription locks")
		return lock.NewMemoryLocker(), nil
	}
	locker, err := lock.NewRedisLocker(ctx, a.cfg.Redis.URL, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis locks: %w", err)
	}
	a.closers = append(a.closers, locker.Close)
	return locker, nil
}

// Run serves HTTP, runs background workers and the refresh scheduler until ctx
// is cancelled or the listener fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	a.pool.Start()
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if interval := a.cfg.Scheduler.Interval(); interval > 0 {
		a.logger.Info("periodic refresh enabled", "interval", interval)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http server: %w", err)
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case err := <-serverErr:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Error("scheduler shutdown", "error", err)
	}
	if err := a.pool.Stop(shutdownCtx); err != nil {
		a.logger.Error("worker pool shutdown", "error", err)
	}
	a.Close(shutdownCtx)

	return runErr
}

// RefreshOnce performs a single synchronous bulk refresh.
func (a *Application) RefreshOnce(ctx context.Context) (usecase.RefreshReport, error) {
	defer a.Close(context.Background())
	return a.service.RefreshOnce(ctx)
}

// Close releases storage and lock connections.
func (a *Application) Close(ctx context.Context) {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.logger.Warn("close resource", "error", err)
		}
	}
	a.closers = nil
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("close storage", "error", err)
		}
		a.store = nil
	}
}

func (a *Application) closeStore() {
	if err := a.store.Close(context.Background()); err != nil {
		a.logger.Warn("close storage", "error", err)
	}
}
