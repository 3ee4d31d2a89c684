// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"hls-proxy-go/pkg/appctx"
	"hls-proxy-go/pkg/config"
	"hls-proxy-go/pkg/httpclient"
	"hls-proxy-go/pkg/integration"
	"hls-proxy-go/pkg/logging"
	"hls-proxy-go/pkg/manager"
	"hls-proxy-go/pkg/metrics"
	"hls-proxy-go/pkg/origin"
	"hls-proxy-go/pkg/services"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Manager    *manager.Manager
	Adapter    *integration.Adapter
	HTTPClient *httpclient.Client

	metricsServer *http.Server
}

// New creates and wires the application. Nothing is bound until Start.
func New(cfg *config.Config, log *logging.Logger) *App {
	ctx := appctx.New(cfg, log)

	m := metrics.New()
	ctx.WithMetrics(m)

	httpClient := httpclient.New(cfg.Origin, log)
	fetcher := origin.New(httpClient, cfg.Origin.UserAgent, log).
		WithTimeouts(cfg.Origin.RequestTimeout, cfg.Origin.ReadIdleTimeout)
	ctx.WithProxyService(services.NewProxyService(fetcher, m, log))

	mgr := manager.New(ctx)

	return &App{
		Ctx:        ctx,
		Manager:    mgr,
		Adapter:    integration.NewAdapter(mgr, log),
		HTTPClient: httpClient,
	}
}

// Start binds the proxy and, when configured, the metrics listener.
func (a *App) Start() error {
	if err := a.Manager.Start(a.Ctx.Config.Server.Port); err != nil {
		return err
	}

	if addr := a.Ctx.Config.Metrics.Addr; addr != "" {
		if err := a.startMetrics(addr); err != nil {
			_ = a.Manager.Stop(context.Background())
			return err
		}
	}
	return nil
}

func (a *App) startMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.Ctx.Metrics.Handler())
	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := a.Ctx.Log.WithComponent("metrics")
	log.Info("metrics listening", "addr", ln.Addr().String())
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// Run starts the application and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.Ctx.Log.Info("shutting down application")

	var errs []error
	if a.metricsServer != nil {
		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}
	errs = append(errs, a.Manager.Stop(ctx))
	return errors.Join(errs...)
}
