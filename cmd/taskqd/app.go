package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/taskq/internal/api"
	"github.com/phrazzld/taskq/internal/auth"
	"github.com/phrazzld/taskq/internal/config"
	"github.com/phrazzld/taskq/internal/events"
	"github.com/phrazzld/taskq/internal/platform/archive"
	"github.com/phrazzld/taskq/internal/task"
)

// archiveScopeKey resolves the history reader inside job scopes.
const archiveScopeKey = "archive"

// historyView hides Close so closing a job scope leaves the shared store open.
type historyView struct{ api.HistoryReader }

// recorderBuffer is the event buffer between the bus and the archive recorder.
const recorderBuffer = 256

// application holds the dispatcher and its collaborators and owns their
// shutdown order.
type application struct {
	config *config.Config
	logger *slog.Logger

	queue      *task.WorkQueue
	registry   *task.Registry
	bus        *events.Bus
	scopes     *task.ScopeFactory
	manager    *task.Manager
	dispatcher *task.Dispatcher

	tokens   *auth.TokenService
	archive  *archive.Store
	recorder *archive.Recorder
	archived <-chan events.Event
	// recorderDone is closed once the recorder has archived every event
	// the bus delivered before closing.
	recorderDone chan struct{}
}

// newApplication builds every component from cfg. The archive database is
// opened and migrated here so a bad DSN fails startup.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	app.queue = task.NewWorkQueue(logger, task.WithCapacity(cfg.Queue.Capacity))
	app.registry = task.NewRegistry(logger,
		task.WithMaxEntries(cfg.Registry.MaxEntries),
		task.WithRetention(cfg.Registry.Retention))
	app.bus = events.NewBus(logger)
	app.scopes = task.NewScopeFactory()
	app.manager = task.NewManager(app.queue, app.registry, app.bus, app.scopes, logger)
	app.dispatcher = task.NewDispatcher(app.queue, logger)

	if cfg.Auth.JWTSecret != "" {
		tokens, err := auth.NewTokenService(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token service: %w", err)
		}
		app.tokens = tokens
		logger.Info("bearer token authentication enabled",
			"token_lifetime", cfg.Auth.TokenLifetime)
	}

	if cfg.Archive.Enabled {
		store, err := archive.Open(ctx, cfg.Archive, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open task archive: %w", err)
		}
		app.archive = store

		opts := []archive.RecorderOption{}
		if cfg.Archive.WriteTimeout > 0 {
			opts = append(opts, archive.WithWriteTimeout(cfg.Archive.WriteTimeout))
		}
		app.recorder = archive.NewRecorder(store, logger, opts...)
		// Subscribe before any job can run so no terminal event is missed.
		app.archived = app.bus.SubscribeAll(recorderBuffer)

		app.scopes.Register(archiveScopeKey, func(context.Context) (any, error) {
			return historyView{store}, nil
		})
	}

	logger.Info("application initialized")
	return app, nil
}

// Run serves until ctx is canceled or a component fails, then shuts down.
func (app *application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		app.cleanup()
		return fmt.Errorf("failed to listen: %w", err)
	}
	return app.serve(ctx, ln)
}

// serve runs the dispatcher, background loops and HTTP server on ln.
func (app *application) serve(ctx context.Context, ln net.Listener) error {
	defer app.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		app.registry.RunJanitor(gctx, app.config.Registry.JanitorInterval)
		return nil
	})

	if app.recorder != nil {
		// The recorder outlives the group: it stops when cleanup closes the
		// bus, so events from jobs that settled during shutdown are kept.
		app.recorderDone = make(chan struct{})
		go func() {
			defer close(app.recorderDone)
			if err := app.recorder.Run(gctx, app.archived); err != nil {
				app.logger.Error("archive recorder failed", "error", err)
			}
		}()
		g.Go(func() error {
			app.archive.RunPurger(gctx, app.config.Archive.Retention, app.config.Archive.PurgeInterval)
			return nil
		})
	}

	g.Go(func() error {
		return app.serveHTTP(gctx, ln, app.setupRouter())
	})

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup closes the queue, bus and archive once every loop has returned.
// The archive is closed only after the recorder has drained the bus.
func (app *application) cleanup() {
	app.queue.Close()
	if pending := app.queue.Len(); pending > 0 {
		app.logger.Warn("discarding pending jobs", "count", pending)
	}

	app.bus.Close()

	if app.recorderDone != nil {
		<-app.recorderDone
		recorded, failed := app.recorder.Stats()
		app.logger.Info("archive recorder drained", "recorded", recorded, "failed", failed)
	}

	if app.archive != nil {
		if err := app.archive.Close(); err != nil {
			app.logger.Error("error closing task archive", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
