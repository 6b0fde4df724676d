// Package server exposes the research pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/blob"
	"github.com/prismlab/prism/internal/research"
	"github.com/prismlab/prism/internal/statestore"
	"github.com/prismlab/prism/internal/store"
	"github.com/prismlab/prism/internal/telemetry"
	"github.com/prismlab/prism/provider"
	"github.com/prismlab/prism/tools/gateway"
	"github.com/prismlab/prism/tools/toolset"
	"github.com/prismlab/prism/tools/webfetch"
)

const statusTTL = 7 * 24 * time.Hour

// Run wires every dependency and serves until the listener fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting postgres: %w", err)
	}

	if err := cfg.Storage.Redis.Validate(); err != nil {
		return err
	}
	statuses, err := statestore.NewRedis(ctx, cfg.Storage.Redis, statusTTL)
	if err != nil {
		return fmt.Errorf("connecting redis: %w", err)
	}

	if cfg.Server.PresignSecret == "" {
		return fmt.Errorf("presign secret not configured (server.presign_secret)")
	}
	blobs, err := blob.NewFilesystem(cfg.Storage.Blob.DataDir, []byte(cfg.Server.PresignSecret), cfg.Storage.Blob.PublicBase)
	if err != nil {
		return err
	}

	llmProvider, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	metrics := telemetry.New(nil)

	tools, err := toolset.Build(cfg.Tools)
	if err != nil {
		return err
	}
	gw := gateway.New(cfg.Tools.Gateway.Normalize(), metrics, tools...)

	fetcher, err := webfetch.NewFetcher(webfetch.FetcherType(cfg.Tools.WebFetch.Fetcher), cfg.Tools.WebFetch.Timeout, cfg.Tools.WebFetch.MaxChars)
	if err != nil {
		return err
	}
	preproc := research.NewPreprocessor(fetcher, cfg.Tools.WebFetch.MaxChars)

	controller := research.NewController(
		cfg.Research.Normalize(),
		llmProvider,
		cfg.LLM.Routing,
		gw,
		preproc,
		blobs,
		st,
		statuses,
		metrics,
	)

	api := e.Group("/api")
	sh := &SessionsHandler{Controller: controller, Store: st, Statuses: statuses, Blobs: blobs}
	sh.Register(api.Group("/sessions"))

	ah := &ArtifactsHandler{Blobs: blobs}
	ah.Register(e.Group("/artifacts"))

	baseLogger.Printf("listening on %s", cfg.Server.Address)
	return e.Start(cfg.Server.Address)
}
