// Package server wires the submission pipeline together and runs the HTTP
// server until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/config"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/httpapi"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/metrics"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/repomanager"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/services"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/storage"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/attachments"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	server      *http.Server
}

// openDB is a seam for tests. The pgx driver is registered by repomanager.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLogger(os.Stdout, level)

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver: storage.Driver(c.AttachmentDriver),
		Dir:    c.AttachmentDir,
		S3: storage.S3Options{
			User:     c.S3User,
			Password: c.S3Password,
			Bucket:   c.S3Bucket,
			Region:   c.S3Region,
			Endpoint: c.S3Endpoint,
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("attachment storage init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	m := metrics.New()
	resolver := attachments.NewResolver(store, c.UploadWorkers, storage.NewKey, logger)
	pipeline := services.NewPipeline(db, rm, resolver, services.NewRegistryClientFactory(c.RegistryTimeout), m, logger)

	h := httpapi.NewHandler(pipeline, pipeline.AuditLog(), db.PingContext, logger)
	srv := &http.Server{
		Addr:              c.HTTPAddr,
		Handler:           httpapi.NewRouter(h, m.Handler(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{config: c, logger: logger, db: db, repomanager: rm, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP until ctx is cancelled or a signal arrives, then shuts the
// server down gracefully and closes the database.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.HTTPAddr, "attachment_driver", app.config.AttachmentDriver)

	app.initSignalHandler(cancelFunc)

	// The schema is also bootstrapped on first use, so a database that is
	// not reachable yet does not prevent startup.
	if err := app.repomanager.EnsureSchema(ctx, app.db); err != nil {
		app.logger.Warn(ctx, "schema bootstrap deferred", "error", err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
		defer cancel()
		app.logger.Info(shutdownCtx, "Shutting down...")
		return app.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := app.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
