package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"hls-proxy-go/pkg/config"
	"hls-proxy-go/pkg/integration"
	"hls-proxy-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func get(t *testing.T, rawURL string) (int, string) {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApp_EndToEnd(t *testing.T) {
	originSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live.m3u8":
			_, _ = io.WriteString(w, "#EXTM3U\n#EXTINF:4,\n"+"http://"+r.Host+"/s1.ts\n#EXT-X-ENDLIST\n")
		case "/s1.ts":
			_, _ = w.Write(append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "RIFF\x00\x00\x00\x00AVI LIST"...))
		default:
			http.NotFound(w, r)
		}
	}))
	defer originSrv.Close()

	cfg := config.Default()
	cfg.Metrics.Addr = freeAddr(t)

	a := New(cfg, logging.Nop())
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	videos := a.Adapter.Rewrite(context.Background(), []integration.Video{
		{URL: originSrv.URL + "/live.m3u8", Quality: "720p"},
		{URL: originSrv.URL + "/movie.mp4", Quality: "1080p"},
	})
	require.Len(t, videos, 2)
	assert.Equal(t, originSrv.URL+"/movie.mp4", videos[1].URL)

	status, playlist := get(t, videos[0].URL)
	require.Equal(t, http.StatusOK, status)

	serverURL, ok := a.Manager.ServerURL()
	require.True(t, ok)
	segmentURL := serverURL + "/segment?url=" + url.QueryEscape(originSrv.URL+"/s1.ts")
	assert.Contains(t, playlist, segmentURL)

	status, segment := get(t, segmentURL)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "RIFF\x00\x00\x00\x00AVI LIST", segment)

	status, exposition := get(t, "http://"+cfg.Metrics.Addr+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, exposition, `hls_proxy_playlists_total{result="ok"}`)
	assert.Contains(t, exposition, `hls_proxy_disguised_segments_total`)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a := New(config.Default(), logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, a.Manager.IsRunning, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, a.Manager.IsRunning())
}

func TestApp_MetricsBindFailureStopsProxy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	cfg.Metrics.Addr = ln.Addr().String()

	a := New(cfg, logging.Nop())
	require.Error(t, a.Start())
	assert.False(t, a.Manager.IsRunning())
}
