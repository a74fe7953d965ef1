// Package server exposes ingestion, retrieval and generation runs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/qbank/config"
	"github.com/mohammad-safakhou/qbank/internal/ingest"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/internal/queue/streams"
	"github.com/mohammad-safakhou/qbank/internal/runtime"
	"github.com/mohammad-safakhou/qbank/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators behind the routes. Catalog, Lexical and Queue
// are optional; without Runs the generation routes are not mounted.
type Deps struct {
	Ingestor  Ingestor
	Catalog   SourceCatalog
	Fetcher   ingest.Fetcher
	Retriever Retriever
	Lexical   LexicalSearcher
	Runs      Runs
	Generator worker.Generator
	Queue     Enqueuer
	Metrics   http.Handler
}

type Options struct {
	// Secret signs API tokens. Empty disables authentication.
	Secret      []byte
	UploadDir   string
	MaxUploadMB int
	Stream      string
	Logger      *logger.Logger
}

// New builds the echo instance with every route mounted.
func New(d Deps, opts Options) *echo.Echo {
	lg := opts.Logger
	if lg == nil {
		lg = logger.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(lg.Named("http"))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	if opts.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", opts.MaxUploadMB)))
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metrics))

	api := e.Group("/api")
	scoped := func(scopes ...string) []echo.MiddlewareFunc { return nil }
	if len(opts.Secret) > 0 {
		api.Use(runtime.EchoAuthMiddleware(opts.Secret))
		scoped = func(scopes ...string) []echo.MiddlewareFunc {
			return []echo.MiddlewareFunc{runtime.RequireScopes(scopes...)}
		}
	} else {
		lg.Warn("api authentication disabled: no jwt secret")
	}

	sh := &SourcesHandler{Ingestor: d.Ingestor, Catalog: d.Catalog, Fetcher: d.Fetcher, UploadDir: opts.UploadDir}
	sh.Register(api.Group("/sources"), scoped(runtime.ScopeSourcesWrite)...)

	rh := &RetrieveHandler{Retriever: d.Retriever, Lexical: d.Lexical}
	rh.Register(api.Group("/retrieve"))

	if d.Runs != nil {
		gh := &GenerationsHandler{Runs: d.Runs, Generator: d.Generator, Queue: d.Queue, Stream: opts.Stream}
		gh.Register(api.Group("/generations"), scoped(runtime.ScopeGenerationsWrite)...)
	}
	return e
}

// Run serves the API until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, cfg *config.Config, svc *runtime.Services, tel *runtime.Telemetry, lg *logger.Logger) error {
	if svc.Store == nil {
		return errors.New("server needs the postgres store")
	}
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	d := Deps{
		Ingestor:  svc.Ingestor,
		Catalog:   svc.Store,
		Fetcher:   svc.Fetcher,
		Retriever: svc.Retriever,
		Runs:      svc.Store,
		Generator: svc.Pipeline,
	}
	if tel != nil {
		d.Metrics = tel.Handler()
	}
	if svc.Redis != nil && !cfg.Server.SyncGeneration {
		reg, err := streams.DefaultRegistry()
		if err != nil {
			return err
		}
		d.Queue = streams.NewPublisher(svc.Redis, reg, 10000)
		if err := streams.EnsureGroup(ctx, svc.Redis, cfg.Queue.Stream, cfg.Queue.Group); err != nil {
			return fmt.Errorf("ensure consumer group: %w", err)
		}
	}
	e := New(d, Options{
		Secret:      secret,
		UploadDir:   cfg.Ingest.UploadDir,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		Stream:      cfg.Queue.Stream,
		Logger:      lg,
	})

	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", "addr", cfg.Server.Address, "async", d.Queue != nil)
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
