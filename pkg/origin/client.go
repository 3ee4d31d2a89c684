// Package origin fetches playlists and segments from the real content origin
// with an allow-listed set of request headers.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"hls-proxy-go/pkg/httpclient"
	"hls-proxy-go/pkg/logging"
)

// MaxPlaylistSize caps how much playlist text is read from an origin.
const MaxPlaylistSize = 16 << 20

var (
	// ErrEmptyBody is returned when an origin answers a playlist fetch with no content.
	ErrEmptyBody = errors.New("empty body")
	// ErrPlaylistTooLarge is returned when playlist text exceeds MaxPlaylistSize.
	ErrPlaylistTooLarge = errors.New("playlist too large")
	// ErrUnsupportedURL is returned for anything other than an absolute http(s) URL.
	ErrUnsupportedURL = errors.New("unsupported url")
	// ErrReadIdle is returned when an origin stops sending for longer than the
	// read idle timeout.
	ErrReadIdle = errors.New("origin read idle timeout")
)

// FetchError reports a failed origin request. StatusCode is 0 when no
// response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("origin fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("origin fetch %s: HTTP %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("origin fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Doer sends HTTP requests. *httpclient.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs origin requests.
type Client struct {
	http      Doer
	userAgent string
	log       *logging.Logger

	playlistTimeout time.Duration
	readIdleTimeout time.Duration
}

// New creates an origin client. userAgent is sent when the caller supplies none.
func New(doer Doer, userAgent string, log *logging.Logger) *Client {
	return &Client{
		http:      doer,
		userAgent: userAgent,
		log:       log.WithComponent("origin"),
	}
}

// WithTimeouts sets the total limit for a playlist fetch and the longest
// silence tolerated while a segment streams. Zero disables either.
func (c *Client) WithTimeouts(playlist, readIdle time.Duration) *Client {
	c.playlistTimeout = playlist
	c.readIdleTimeout = readIdle
	return c
}

// FetchPlaylistText GETs rawURL and returns its body as text. It fails unless
// the status is 2xx and the body is non-empty.
func (c *Client) FetchPlaylistText(ctx context.Context, rawURL string, headers http.Header) (string, error) {
	if c.playlistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.playlistTimeout)
		defer cancel()
	}

	resp, err := c.get(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPlaylistSize+1))
	if err != nil {
		return "", &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(body) > MaxPlaylistSize {
		return "", &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrPlaylistTooLarge}
	}
	if len(body) == 0 {
		return "", &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrEmptyBody}
	}

	return string(body), nil
}

// FetchSegment GETs rawURL and returns the decoded body stream. The caller
// must close it; cancelling ctx aborts the transfer. The stream has no total
// deadline, but waiting longer than the read idle timeout for headers or for
// any single read fails with ErrReadIdle.
func (c *Client) FetchSegment(ctx context.Context, rawURL string, headers http.Header) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := newIdleWatch(c.readIdleTimeout, cancel)

	w.arm()
	resp, err := c.get(ctx, rawURL, headers)
	w.disarm()
	if err != nil {
		cancel()
		if w.fired.Load() {
			return nil, &FetchError{URL: strings.TrimSpace(rawURL), Err: ErrReadIdle}
		}
		return nil, err
	}
	if resp.Body == nil {
		cancel()
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrEmptyBody}
	}
	return &idleBody{ReadCloser: resp.Body, watch: w, cancel: cancel}, nil
}

// idleWatch cancels a request when a blocking step outlasts timeout.
type idleWatch struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleWatch(timeout time.Duration, cancel context.CancelFunc) *idleWatch {
	w := &idleWatch{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.fired.Store(true)
			cancel()
		})
		w.timer.Stop()
	}
	return w
}

func (w *idleWatch) arm() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatch) disarm() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// idleBody times each Read against the watch and releases the request on Close.
type idleBody struct {
	io.ReadCloser
	watch  *idleWatch
	cancel context.CancelFunc
}

func (b *idleBody) Read(p []byte) (int, error) {
	b.watch.arm()
	n, err := b.ReadCloser.Read(p)
	b.watch.disarm()
	if err != nil && err != io.EOF && b.watch.fired.Load() {
		err = fmt.Errorf("%w: %w", ErrReadIdle, err)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.watch.disarm()
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (c *Client) get(ctx context.Context, rawURL string, headers http.Header) (*http.Response, error) {
	target := strings.TrimSpace(rawURL)
	u, err := url.Parse(target)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchError{URL: target, Err: ErrUnsupportedURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header = httpclient.FilterPassthrough(headers)
	restrictAcceptEncoding(req.Header)
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.log.Debug("origin request", "url", target, "headers", len(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := c.wrapDecompression(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}
	resp.Body = body
	return resp, nil
}
