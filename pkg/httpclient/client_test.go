package httpclient

import (
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hls-proxy-go/pkg/config"
	"hls-proxy-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOriginConfig() config.OriginConfig {
	return config.OriginConfig{
		DialTimeout:           time.Second,
		TLSHandshakeTimeout:   time.Second,
		ResponseHeaderTimeout: time.Second,
		RequestTimeout:        5 * time.Second,
		ReadIdleTimeout:       5 * time.Second,
	}
}

func TestFilterPassthrough(t *testing.T) {
	tests := []struct {
		name     string
		in       http.Header
		expected http.Header
	}{
		{
			name:     "nil input",
			in:       nil,
			expected: http.Header{},
		},
		{
			name: "cookie and custom headers dropped",
			in: http.Header{
				"User-Agent": {"X"},
				"Cookie":     {"Y"},
				"X-Custom":   {"Z"},
			},
			expected: http.Header{"User-Agent": {"X"}},
		},
		{
			name: "case-insensitive names",
			in: http.Header{
				"referer":         {"https://site.example/"},
				"ACCEPT-LANGUAGE": {"en"},
				"Authorization":   {"Bearer t"},
			},
			expected: http.Header{
				"Referer":         {"https://site.example/"},
				"Accept-Language": {"en"},
			},
		},
		{
			name: "every allow-listed name survives",
			in: http.Header{
				"User-Agent":      {"a"},
				"Referer":         {"b"},
				"Origin":          {"c"},
				"Accept":          {"d"},
				"Accept-Language": {"e"},
				"Accept-Encoding": {"f"},
				"Connection":      {"g"},
				"Cache-Control":   {"h"},
				"Pragma":          {"i"},
				"Host":            {"j"},
				"X-Forwarded-For": {"k"},
			},
			expected: http.Header{
				"User-Agent":      {"a"},
				"Referer":         {"b"},
				"Origin":          {"c"},
				"Accept":          {"d"},
				"Accept-Language": {"e"},
				"Accept-Encoding": {"f"},
				"Connection":      {"g"},
				"Cache-Control":   {"h"},
				"Pragma":          {"i"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FilterPassthrough(tt.in))
		})
	}
}

func TestFilterPassthrough_DoesNotAliasInput(t *testing.T) {
	in := http.Header{"Referer": {"a"}}
	out := FilterPassthrough(in)
	out.Set("Referer", "b")
	assert.Equal(t, "a", in.Get("Referer"))
}

func TestHeadersFromMap(t *testing.T) {
	h := HeadersFromMap(map[string]string{
		"referer":    "https://embed.example/",
		"User-Agent": "UA",
		"Cookie":     "sid=1",
	})

	assert.Equal(t, "https://embed.example/", h.Get("Referer"))
	assert.Equal(t, "UA", h.Get("User-Agent"))
	assert.Empty(t, h.Get("Cookie"))
}

func TestClientFor(t *testing.T) {
	log := logging.Nop()

	tests := []struct {
		name          string
		mutate        func(c *config.OriginConfig)
		targetURL     string
		expectDefault bool
		expectUTLS    bool
	}{
		{
			name: "uses global proxy when no transport routes match",
			mutate: func(c *config.OriginConfig) {
				c.GlobalProxies = []string{"socks5://proxy.example.com:1080"}
			},
			targetURL: "https://cdn.example.com/video.m3u8",
		},
		{
			name: "uses transport route when URL matches",
			mutate: func(c *config.OriginConfig) {
				c.GlobalProxies = []string{"socks5://global-proxy.example.com:1080"}
				c.Routes = []config.TransportRoute{
					{URLPattern: "cdn.specific.com", Proxy: "socks5://specific-proxy.example.com:1080"},
				}
			},
			targetURL: "https://cdn.specific.com/video.m3u8",
		},
		{
			name:          "uses default client when no proxy configured",
			mutate:        func(c *config.OriginConfig) {},
			targetURL:     "https://cdn.example.com/video.m3u8",
			expectDefault: true,
		},
		{
			name: "direct route bypasses global proxy",
			mutate: func(c *config.OriginConfig) {
				c.GlobalProxies = []string{"socks5://global-proxy.example.com:1080"}
				c.Routes = []config.TransportRoute{{URLPattern: "local-cdn", Direct: true}}
			},
			targetURL:     "http://local-cdn/seg1.ts",
			expectDefault: true,
		},
		{
			name: "utls domain match",
			mutate: func(c *config.OriginConfig) {
				c.UTLSDomains = []string{"Newkso.ru"}
			},
			targetURL:  "https://top1.newkso.ru/live/index.m3u8",
			expectUTLS: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testOriginConfig()
			tt.mutate(&cfg)
			client := New(cfg, log)
			httpClient := client.clientFor(tt.targetURL)

			assert.Equal(t, tt.expectDefault, httpClient == client.direct)
			assert.Equal(t, tt.expectUTLS, httpClient == client.fingerprint)
		})
	}
}

func TestUpstreamClient_Cached(t *testing.T) {
	client := New(testOriginConfig(), logging.Nop())

	a := client.upstreamClient("http://10.0.0.1:3128", false)
	b := client.upstreamClient("http://10.0.0.1:3128", false)
	c := client.upstreamClient("http://10.0.0.1:3128", true)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestDo_PlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := New(testOriginConfig(), logging.Nop())
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestUpstreamClient_UnsupportedSchemeFallsBackToDirect(t *testing.T) {
	client := New(testOriginConfig(), logging.Nop())
	assert.Same(t, client.direct, client.upstreamClient("ftp://10.0.0.1:21", false))
}

func TestDo_HasNoTotalTimeout(t *testing.T) {
	client := New(testOriginConfig(), logging.Nop())
	assert.Zero(t, client.direct.Timeout)
	assert.Zero(t, client.fingerprint.Timeout)
	assert.Zero(t, client.upstreamClient("http://10.0.0.1:3128", false).Timeout)
}

func TestFingerprintTransport_ReleasesConnections(t *testing.T) {
	for _, enableHTTP2 := range []bool{true, false} {
		name := "http1"
		if enableHTTP2 {
			name = "http2"
		}
		t.Run(name, func(t *testing.T) {
			var opened, closed atomic.Int32
			srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, r.Proto)
			}))
			srv.EnableHTTP2 = enableHTTP2
			srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
				switch state {
				case http.StateNew:
					opened.Add(1)
				case http.StateClosed, http.StateHijacked:
					closed.Add(1)
				}
			}
			srv.StartTLS()
			defer srv.Close()

			cfg := testOriginConfig()
			cfg.UTLSDomains = []string{"127.0.0.1"}
			client := New(cfg, logging.Nop())

			pool := x509.NewCertPool()
			pool.AddCert(srv.Certificate())
			client.fingerprint.Transport.(*fingerprintTransport).rootCAs = pool

			const requests = 3
			for i := 0; i < requests; i++ {
				req, err := http.NewRequest(http.MethodGet, srv.URL+"/seg.ts", nil)
				require.NoError(t, err)

				resp, err := client.Do(req)
				require.NoError(t, err)
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				require.NoError(t, resp.Body.Close())

				if enableHTTP2 {
					assert.Equal(t, 2, resp.ProtoMajor)
					assert.Equal(t, "HTTP/2.0", string(body))
				} else {
					assert.Equal(t, "HTTP/1.1", string(body))
				}
			}

			require.Eventually(t, func() bool {
				return closed.Load() == requests
			}, 2*time.Second, 10*time.Millisecond, "every connection closed with its body")
			assert.Equal(t, int32(requests), opened.Load())
		})
	}
}
