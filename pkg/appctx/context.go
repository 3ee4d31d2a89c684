// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"hls-proxy-go/pkg/config"
	"hls-proxy-go/pkg/logging"
	"hls-proxy-go/pkg/metrics"
	"hls-proxy-go/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config       *config.Config
	Log          *logging.Logger
	Metrics      *metrics.Metrics
	ProxyService *services.ProxyService
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config: cfg,
		Log:    log,
	}
}

// WithMetrics sets the metrics collectors.
func (c *Context) WithMetrics(m *metrics.Metrics) *Context {
	c.Metrics = m
	return c
}

// WithProxyService sets the proxy service.
func (c *Context) WithProxyService(ps *services.ProxyService) *Context {
	c.ProxyService = ps
	return c
}
