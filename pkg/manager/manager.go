// Package manager owns the lifecycle of the local proxy server: at most one
// instance per Manager, with idempotent start and stop.
package manager

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"hls-proxy-go/pkg/appctx"
	"hls-proxy-go/pkg/handlers/api"
	"hls-proxy-go/pkg/httpclient"
	"hls-proxy-go/pkg/logging"
	"hls-proxy-go/pkg/server"
)

// ErrNotRunning is returned by processing calls while the server is stopped.
var ErrNotRunning = errors.New("proxy server not running")

// State is the lifecycle state of the managed server.
type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	}
	return "unknown"
}

// Manager starts, stops and fronts a single proxy server.
type Manager struct {
	appCtx *appctx.Context
	log    *logging.Logger

	// mu serializes Start and Stop. Readers use state and srv without it.
	mu    sync.Mutex
	state atomic.Int32
	srv   atomic.Pointer[server.Server]
}

// New creates a stopped manager.
func New(appCtx *appctx.Context) *Manager {
	return &Manager{
		appCtx: appCtx,
		log:    appCtx.Log.WithComponent("manager"),
	}
}

// Start binds the proxy on port (0 = OS-assigned). It is a no-op when the
// server is already running. A bind failure leaves the manager stopped and
// is returned as *server.BindError.
func (m *Manager) Start(port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return nil
	}

	cfg := m.appCtx.Config.Server
	cfg.Port = port

	srv := server.New(cfg, m.appCtx.Log)
	api.NewHandlers(m.appCtx, srv.Port).RegisterRoutes(srv.Router())

	if err := srv.Start(); err != nil {
		m.state.Store(int32(Stopped))
		m.log.Error("failed to start proxy server", "error", err)
		return err
	}

	m.srv.Store(srv)
	m.state.Store(int32(Running))
	m.log.Info("proxy server started", "url", srv.URL())
	return nil
}

// Stop shuts the server down. It is safe to call when not running.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	srv := m.srv.Load()
	if srv == nil {
		return nil
	}

	m.state.Store(int32(Stopped))
	m.srv.Store(nil)

	if timeout := m.appCtx.Config.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return srv.Shutdown(ctx)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsRunning reports whether the server is bound and serving.
func (m *Manager) IsRunning() bool {
	return m.State() == Running
}

// ServerURL returns the base URL of the running server.
func (m *Manager) ServerURL() (string, bool) {
	srv := m.running()
	if srv == nil {
		return "", false
	}
	return srv.URL(), true
}

// PlaylistURL returns the local /m3u8 URL that proxies playlistURL.
func (m *Manager) PlaylistURL(playlistURL string) (string, error) {
	srv := m.running()
	if srv == nil {
		return "", ErrNotRunning
	}
	return srv.URL() + "/m3u8?url=" + url.QueryEscape(playlistURL), nil
}

// ProcessM3U8 fetches and rewrites a playlist without going through HTTP.
func (m *Manager) ProcessM3U8(ctx context.Context, playlistURL string, headers http.Header) (string, error) {
	srv := m.running()
	if srv == nil {
		return "", ErrNotRunning
	}
	return m.appCtx.ProxyService.ProcessPlaylist(ctx, playlistURL, httpclient.FilterPassthrough(headers), srv.Port())
}

// ProcessSegment fetches a segment and returns its corrected bytes without
// going through HTTP.
func (m *Manager) ProcessSegment(ctx context.Context, segmentURL string, headers http.Header) ([]byte, error) {
	if m.running() == nil {
		return nil, ErrNotRunning
	}
	return m.appCtx.ProxyService.ProcessSegment(ctx, segmentURL, httpclient.FilterPassthrough(headers))
}

func (m *Manager) running() *server.Server {
	if !m.IsRunning() {
		return nil
	}
	return m.srv.Load()
}
