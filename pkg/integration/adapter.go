// Package integration routes HLS video descriptors through the local proxy.
package integration

import (
	"context"
	"net/http"
	"strings"

	"hls-proxy-go/pkg/logging"
)

// MimeTypeHLS is the declared media type that marks a descriptor as HLS.
const MimeTypeHLS = "application/vnd.apple.mpegurl"

// Track is a subtitle or audio track attached to a video.
type Track struct {
	URL      string
	Language string
}

// Video is a playable link produced by a content source.
type Video struct {
	URL       string
	Quality   string
	MimeType  string
	Headers   http.Header
	Subtitles []Track
	Audio     []Track
}

// IsHLS reports whether v should be served through the proxy.
func IsHLS(v Video) bool {
	if strings.Contains(strings.ToLower(v.URL), ".m3u8") {
		return true
	}
	mime, _, _ := strings.Cut(v.MimeType, ";")
	return strings.EqualFold(strings.TrimSpace(mime), MimeTypeHLS)
}

// Proxy is the part of the server manager the adapter needs.
// *manager.Manager satisfies it.
type Proxy interface {
	ProcessM3U8(ctx context.Context, playlistURL string, headers http.Header) (string, error)
	PlaylistURL(playlistURL string) (string, error)
}

// Adapter rewrites video descriptors to use the local proxy.
type Adapter struct {
	proxy Proxy
	log   *logging.Logger
}

// NewAdapter creates an adapter backed by proxy.
func NewAdapter(proxy Proxy, log *logging.Logger) *Adapter {
	return &Adapter{
		proxy: proxy,
		log:   log.WithComponent("integration"),
	}
}

// Rewrite returns a copy of videos in which every HLS descriptor whose
// playlist the proxy can load points at the proxy. Descriptors are never
// dropped: on any failure the original URL is kept. Fields other than URL
// are left as they are.
func (a *Adapter) Rewrite(ctx context.Context, videos []Video) []Video {
	out := make([]Video, len(videos))
	for i, v := range videos {
		out[i] = v
		if !IsHLS(v) {
			continue
		}
		if proxied, ok := a.proxied(ctx, v); ok {
			out[i].URL = proxied
		}
	}
	return out
}

func (a *Adapter) proxied(ctx context.Context, v Video) (string, bool) {
	log := a.log.WithURL(v.URL)

	if _, err := a.proxy.ProcessM3U8(ctx, v.URL, v.Headers); err != nil {
		log.WithError(err).Warn("playlist not proxied, keeping original url")
		return "", false
	}

	proxied, err := a.proxy.PlaylistURL(v.URL)
	if err != nil {
		log.WithError(err).Warn("playlist not proxied, keeping original url")
		return "", false
	}

	log.Debug("video routed through proxy", "quality", v.Quality)
	return proxied, true
}
