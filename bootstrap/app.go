// Package bootstrap wires storage, the execution engine, the inquiry
// manager, the scheduler and the API server together and owns their
// startup and shutdown order.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"responder/api"
	"responder/config"
	"responder/engine"
	"responder/inquiry"
	"responder/schedule"
	"responder/storage"
	"responder/workflow"
)

// App holds every long-lived component of the responder service.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	DB         *storage.SQLite
	Playbooks  *storage.SQLitePlaybookStorage
	Executions *storage.SQLiteExecutionStorage
	Inquiries  *storage.SQLiteInquiryStorage
	Schedules  *storage.SQLiteScheduleStorage

	Catalog        *workflow.Catalog
	Inspector      *workflow.Inspector
	Engine         *engine.Engine
	InquiryManager *inquiry.Manager
	Scheduler      *schedule.Scheduler
	APIServer      *api.API

	serviceWg  sync.WaitGroup
	shutdownCh chan struct{}
}

// NewApp builds the application: logger, configuration, storage and the
// service layers, in that order. Nothing is started yet.
func NewApp() (*App, error) {
	app := &App{
		shutdownCh: make(chan struct{}),
	}

	logger, sugar, err := InitLogger(os.Getenv("RESPONDER_LOG_LEVEL"), os.Getenv("RESPONDER_LOG_FORMAT"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	// Rebuild the logger if the config asks for a different level or format
	// than the environment provided.
	if cfg.Logging.Level != "" || cfg.Logging.Format != "" {
		logger, sugar, err = InitLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		app.Logger = logger
		app.Sugar = sugar
	}

	app.Sugar.Info("Running pre-flight checks...")
	if err := EnsureDataDirectories(cfg); err != nil {
		return nil, err
	}

	db, err := storage.NewSQLite(cfg.Storage.SQLitePath, app.Sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite storage: %w", err)
	}
	app.DB = db
	app.Playbooks = storage.NewSQLitePlaybookStorage(db, app.Sugar)
	app.Executions = storage.NewSQLiteExecutionStorage(db, app.Sugar)
	app.Inquiries = storage.NewSQLiteInquiryStorage(db, app.Sugar)
	app.Schedules = storage.NewSQLiteScheduleStorage(db, app.Sugar)

	app.Catalog = workflow.NewCatalog(workflow.BuiltinDescriptors())
	app.Inspector, err = workflow.NewInspector(app.Catalog, cfg.Workflow.AllowCycles, app.Sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workflow inspector: %w", err)
	}
	executor := engine.NewCatalogExecutor(app.Catalog, app.Inspector, app.Sugar)

	app.Engine = engine.NewEngine(app.Executions, app.Playbooks, app.Inquiries, app.Inspector, executor, engine.Config{
		MaxConcurrentExecutions: cfg.Engine.MaxConcurrentExecutions,
		DefaultStepTimeout:      cfg.Engine.DefaultStepTimeout,
		RetryAttempts:           cfg.Engine.RetryAttempts,
		RetryBackoff:            cfg.Engine.RetryBackoff,
		InquiryTTL:              cfg.Inquiry.TTL,
	}, app.Sugar)

	app.InquiryManager = inquiry.NewManager(app.Inquiries, app.Engine, cfg.Inquiry.SweepInterval, app.Sugar)

	app.Scheduler = schedule.NewScheduler(app.Schedules, app.Playbooks, app.Engine, schedule.Config{
		TickInterval:   cfg.Scheduler.TickInterval,
		RetryOnFailure: cfg.Scheduler.RetryOnFailure,
	}, app.Sugar)

	app.APIServer = api.NewAPI(app.Playbooks, app.Engine, app.InquiryManager, app.Scheduler,
		app.Inspector, app.Catalog, cfg, app.Sugar)

	return app, nil
}

// Start launches the background services and the API listener.
func (a *App) Start() error {
	a.InquiryManager.Start()
	a.Scheduler.Start()

	port := ":" + strconv.Itoa(a.Config.API.Port)
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		var err error
		if a.Config.API.TLS {
			a.Sugar.Infow("Starting API server with TLS", "port", port)
			err = a.APIServer.StartTLS(port, a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			a.Sugar.Infow("Starting API server", "port", port)
			err = a.APIServer.Start(port)
		}
		if err != nil {
			a.Sugar.Errorw("API server stopped", "error", err)
		}
	}()

	a.Sugar.Info("Responder service started")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM arrives.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-c:
		a.Sugar.Infow("Received shutdown signal", "signal", sig.String())
	case <-a.shutdownCh:
		a.Sugar.Info("Internal shutdown requested")
	}
}

// Shutdown stops components in dependency order: triggers first so no new
// work enters, then the API, then the engine, storage last.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping schedule trigger engine")
	a.Scheduler.Stop()

	a.Sugar.Info("Phase 2: Stopping inquiry manager")
	a.InquiryManager.Stop()

	a.Sugar.Info("Phase 3: Stopping API server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Warnw("API server shutdown error", "error", err)
	}
	cancel()

	a.Sugar.Info("Phase 4: Draining execution engine")
	a.Engine.Stop(15 * time.Second)

	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Timed out waiting for background services to stop")
	}

	a.Sugar.Info("Phase 5: Closing storage")
	if a.DB != nil {
		a.DB.Close()
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
