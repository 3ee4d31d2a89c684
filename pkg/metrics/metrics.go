// Package metrics exposes proxy counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hls_proxy"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the proxy collectors on a private registry, so several
// proxies (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Playlists         *prometheus.CounterVec
	MasterPlaylists   prometheus.Counter
	Segments          *prometheus.CounterVec
	DisguisedSegments *prometheus.CounterVec
	SegmentBytes      prometheus.Counter
	SkippedBytes      prometheus.Counter
	OriginDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Playlists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playlists_total",
			Help:      "Playlist requests by result.",
		}, []string{"result"}),
		MasterPlaylists: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "master_playlists_total",
			Help:      "Master playlists rewritten without recursing into variants.",
		}),
		Segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Segment requests by result.",
		}, []string{"result"}),
		DisguisedSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disguised_segments_total",
			Help:      "Segments with a stripped image header, by disguise and real container.",
		}, []string{"disguise", "container"}),
		SegmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_bytes_total",
			Help:      "Segment bytes written to players.",
		}),
		SkippedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_bytes_total",
			Help:      "Leading segment bytes discarded as disguise headers.",
		}),
		OriginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "origin_request_duration_seconds",
			Help:      "Time to first byte of origin responses.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.Playlists,
		m.MasterPlaylists,
		m.Segments,
		m.DisguisedSegments,
		m.SegmentBytes,
		m.SkippedBytes,
		m.OriginDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
