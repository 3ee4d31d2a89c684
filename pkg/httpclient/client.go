// Package httpclient provides the routing HTTP client used for origin
// requests: direct, browser TLS fingerprint, or through upstream proxies.
package httpclient

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"hls-proxy-go/pkg/config"
	"hls-proxy-go/pkg/logging"

	"golang.org/x/net/proxy"
)

// Client picks an *http.Client per origin URL. Precedence: fingerprint
// domains, then the first transport route that decides, then the first
// global proxy, then a direct connection.
//
// None of the clients has a total timeout. Segment bodies stream for as long
// as the origin keeps sending; callers bound playlists with the request
// context.
type Client struct {
	cfg config.OriginConfig
	log *logging.Logger

	direct      *http.Client
	fingerprint *http.Client

	mu       sync.RWMutex
	upstream map[upstreamKey]*http.Client
}

// upstreamKey identifies a cached client. An empty proxy means direct with
// certificate checks disabled.
type upstreamKey struct {
	proxy    string
	insecure bool
}

// New creates a routing client for cfg.
func New(cfg config.OriginConfig, log *logging.Logger) *Client {
	c := &Client{
		cfg:      cfg,
		log:      log.WithComponent("httpclient"),
		upstream: make(map[upstreamKey]*http.Client),
	}

	c.direct = &http.Client{Transport: c.newTransport()}
	c.fingerprint = &http.Client{Transport: newFingerprintTransport(c.dialContext, cfg.TLSHandshakeTimeout, c.newTransport())}

	return c
}

// dialContext dials IPv4 only. Several embed CDNs publish AAAA records they
// do not serve on.
func (c *Client) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{
		Timeout:   c.cfg.DialTimeout,
		KeepAlive: 60 * time.Second,
	}
	return d.DialContext(ctx, network, addr)
}

func (c *Client) newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           c.dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   c.cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: c.cfg.ResponseHeaderTimeout,
	}
}

// Do sends req through the client selected for its URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.clientFor(req.URL.String()).Do(req)
}

func (c *Client) clientFor(target string) *http.Client {
	if c.wantsFingerprint(target) {
		c.log.Debug("using fingerprint client", "url", target)
		return c.fingerprint
	}

	for _, route := range c.cfg.Routes {
		if !strings.Contains(target, route.URLPattern) {
			continue
		}
		switch {
		case route.Direct && route.DisableSSL:
			return c.upstreamClient("", true)
		case route.Direct:
			return c.direct
		case route.Proxy != "":
			c.log.Debug("matched transport route", "url", target, "pattern", route.URLPattern, "proxy", route.Proxy)
			return c.upstreamClient(route.Proxy, route.DisableSSL)
		case route.DisableSSL:
			return c.upstreamClient("", true)
		}
	}

	if len(c.cfg.GlobalProxies) > 0 {
		return c.upstreamClient(c.cfg.GlobalProxies[0], false)
	}
	return c.direct
}

func (c *Client) wantsFingerprint(target string) bool {
	lower := strings.ToLower(target)
	for _, domain := range c.cfg.UTLSDomains {
		if strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// upstreamClient returns the cached client for a proxy, creating it on first use.
func (c *Client) upstreamClient(proxyURL string, insecure bool) *http.Client {
	key := upstreamKey{proxy: proxyURL, insecure: insecure}

	c.mu.RLock()
	client, ok := c.upstream[key]
	c.mu.RUnlock()
	if ok {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.upstream[key]; ok {
		return client
	}

	client = c.newUpstreamClient(proxyURL, insecure)
	c.upstream[key] = client
	c.log.Debug("created upstream client", "proxy", proxyURL, "insecure", insecure)
	return client
}

func (c *Client) newUpstreamClient(proxyURL string, insecure bool) *http.Client {
	transport := c.newTransport()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if proxyURL == "" {
		return &http.Client{Transport: transport}
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("invalid proxy url, connecting directly", "proxy", proxyURL, "error", err)
		return c.direct
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			c.log.Error("socks dialer failed, connecting directly", "proxy", proxyURL, "error", err)
			return c.direct
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	default:
		c.log.Warn("unsupported proxy scheme, connecting directly", "scheme", u.Scheme)
		return c.direct
	}

	return &http.Client{Transport: transport}
}
