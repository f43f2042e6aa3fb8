// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wingsight/wingsight-agent/internal/config"
	"github.com/wingsight/wingsight-agent/internal/gateway"
	"github.com/wingsight/wingsight-agent/internal/notify"
	"github.com/wingsight/wingsight-agent/internal/pkg/ctxlog"
	"github.com/wingsight/wingsight-agent/internal/pkg/httputil"
	"github.com/wingsight/wingsight-agent/internal/pkg/metrics"
	"github.com/wingsight/wingsight-agent/internal/server"
	"github.com/wingsight/wingsight-agent/internal/session"
	"github.com/wingsight/wingsight-agent/internal/subscriptions"
	"github.com/wingsight/wingsight-agent/internal/version"
)

// App represents the agent instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	session       *session.Session
	store         *subscriptions.Store
	poller        *notify.Poller
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new agent instance.
func New(cfg *config.Config) (*App, error) {
	logger := ctxlog.Setup(cfg.Log.Level, cfg.Log.Format)

	sess := session.New()
	if cfg.Session.TokenFile != "" {
		if err := sess.LoadFile(cfg.Session.TokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("token file unreadable, starting signed out",
				"path", cfg.Session.TokenFile,
				"error", err,
			)
		}
	}

	backend := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.RequestTimeout,
		RateLimit: cfg.API.RateLimit,
	}, sess)

	store := subscriptions.NewStore(backend, sess)
	history := subscriptions.NewHistory(backend, sess)

	var player notify.Player = notify.NopPlayer{}
	if cfg.Audio.Enabled {
		player = notify.NewExecPlayer(cfg.Audio.PlayerCommand)
	}

	feed := notify.NewFeedClient(cfg.API.NotificationFeedURL, sess, cfg.API.RequestTimeout)
	poller := notify.NewPoller(notify.Config{
		Interval:      cfg.Poller.Interval,
		DisplayWindow: cfg.Poller.DisplayWindow,
	}, feed, store, player)

	push := notify.NewPushManager(backend, sess)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		session:       sess,
		store:         store,
		poller:        poller,
		metricsCancel: metricsCancel,
	}

	go app.collectStoreMetrics(metricsCtx)

	handler := server.NewHandler(store, history, poller, push, sess, backend, cfg.Session.TokenFile)
	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(handler),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and, for an already authenticated
// session, restores the subscription set and begins polling.
func (a *App) Run(ctx context.Context) error {
	if a.session.Authenticated() {
		if err := a.store.Load(ctx); err != nil {
			a.logger.Warn("initial subscription load failed", "error", err)
		}
		a.poller.Start(ctx)
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting agent server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the agent.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()
	a.poller.Stop()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) collectStoreMetrics(ctx context.Context) {
	metrics.RecordStoreSize(a.store.Len())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordStoreSize(a.store.Len())
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter(handler *server.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api", handler.RegisterRoutes)

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}
