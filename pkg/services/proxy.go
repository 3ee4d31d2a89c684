// Package services holds the playlist and segment processing shared by the
// HTTP routes and by programmatic callers.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"hls-proxy-go/pkg/logging"
	"hls-proxy-go/pkg/metrics"
	"hls-proxy-go/pkg/origin"
	"hls-proxy-go/pkg/playlist"
	"hls-proxy-go/pkg/sniff"
)

// Fetcher is the origin side of the proxy. *origin.Client satisfies it.
type Fetcher interface {
	FetchPlaylistText(ctx context.Context, rawURL string, headers http.Header) (string, error)
	FetchSegment(ctx context.Context, rawURL string, headers http.Header) (io.ReadCloser, error)
}

// ProxyService fetches from origin and applies playlist rewriting and
// disguise stripping.
type ProxyService struct {
	origin  Fetcher
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewProxyService creates a new proxy service.
func NewProxyService(fetcher Fetcher, m *metrics.Metrics, log *logging.Logger) *ProxyService {
	return &ProxyService{
		origin:  fetcher,
		metrics: m,
		log:     log.WithComponent("proxy-service"),
	}
}

// ProcessPlaylist fetches a playlist and rewrites its references to the
// local proxy listening on port.
func (s *ProxyService) ProcessPlaylist(ctx context.Context, rawURL string, headers http.Header, port int) (string, error) {
	start := time.Now()
	text, err := s.origin.FetchPlaylistText(ctx, rawURL, headers)
	s.metrics.OriginDuration.WithLabelValues("playlist").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Playlists.WithLabelValues(metrics.ResultError).Inc()
		s.log.WithURL(rawURL).WithError(err).Warn("playlist fetch failed")
		return "", err
	}

	if playlist.Inspect(text) == playlist.KindMaster {
		// Variants go through /segment and are not rewritten themselves.
		s.metrics.MasterPlaylists.Inc()
		s.log.WithURL(rawURL).Warn("master playlist: variant playlists will not be rewritten")
	}

	s.metrics.Playlists.WithLabelValues(metrics.ResultOK).Inc()
	return playlist.Rewrite(text, port), nil
}

// Segment is an origin segment with any disguise header removed.
// Bytes come out in origin order: the sampled prefix after the skip, then
// the rest of the origin body.
type Segment struct {
	Detection sniff.Result

	r       io.Reader
	body    io.Closer
	n       int64
	metrics *metrics.Metrics
}

func (s *Segment) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	return n, err
}

// Close releases the origin connection. Closing before EOF abandons the
// transfer.
func (s *Segment) Close() error {
	s.metrics.SegmentBytes.Add(float64(s.n))
	return s.body.Close()
}

// OpenSegment fetches a segment, samples its first sniff.SampleSize bytes and
// returns a reader positioned after any disguise header.
func (s *ProxyService) OpenSegment(ctx context.Context, rawURL string, headers http.Header) (*Segment, error) {
	start := time.Now()
	body, err := s.origin.FetchSegment(ctx, rawURL, headers)
	s.metrics.OriginDuration.WithLabelValues("segment").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Segments.WithLabelValues(metrics.ResultError).Inc()
		s.log.WithURL(rawURL).WithError(err).Warn("segment fetch failed")
		return nil, err
	}

	sample, err := readSample(body)
	if err != nil {
		body.Close()
		s.metrics.Segments.WithLabelValues(metrics.ResultError).Inc()
		s.log.WithURL(rawURL).WithError(err).Warn("segment read failed")
		return nil, &origin.FetchError{URL: rawURL, Err: fmt.Errorf("reading segment: %w", err)}
	}

	det := sniff.Detect(sample)
	if det.Skip > 0 {
		s.metrics.DisguisedSegments.WithLabelValues(string(det.Disguise), string(det.Container)).Inc()
		s.metrics.SkippedBytes.Add(float64(det.Skip))
		s.log.Debug("stripped disguise header",
			"url", rawURL,
			"disguise", det.Disguise,
			"container", det.Container,
			"skip", det.Skip,
		)
	}
	s.metrics.Segments.WithLabelValues(metrics.ResultOK).Inc()

	return &Segment{
		Detection: det,
		r:         io.MultiReader(bytes.NewReader(sample[det.Skip:]), body),
		body:      body,
		metrics:   s.metrics,
	}, nil
}

// readSample reads up to sniff.SampleSize bytes. Only a clean EOF ends the
// sample early; a body that breaks off is an error.
func readSample(r io.Reader) ([]byte, error) {
	sample := make([]byte, sniff.SampleSize)
	n := 0
	for n < len(sample) {
		m, err := r.Read(sample[n:])
		n += m
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return sample[:n], nil
}

// ProcessSegment returns the whole corrected segment in memory.
func (s *ProxyService) ProcessSegment(ctx context.Context, rawURL string, headers http.Header) ([]byte, error) {
	seg, err := s.OpenSegment(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer seg.Close()

	data, err := io.ReadAll(seg)
	if err != nil {
		return nil, &origin.FetchError{URL: rawURL, Err: fmt.Errorf("reading segment: %w", err)}
	}
	return data, nil
}
