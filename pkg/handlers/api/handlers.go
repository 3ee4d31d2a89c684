// Package api provides the HTTP routes of the local HLS proxy.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"hls-proxy-go/pkg/appctx"
	"hls-proxy-go/pkg/httpclient"
	"hls-proxy-go/pkg/logging"

	"github.com/go-chi/chi/v5"
)

// Content types of proxy responses.
const (
	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
	contentTypeText     = "text/plain; charset=utf-8"
)

const copyBufferSize = 32 * 1024

// MissingParameterError reports an absent required query parameter.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("Missing %s parameter", e.Name)
}

// Handlers contains all API handlers.
type Handlers struct {
	ctx  *appctx.Context
	port func() int
	log  *logging.Logger
}

// NewHandlers creates a new Handlers instance. port reports the port the
// proxy is bound to, which rewritten playlists point back at.
func NewHandlers(ctx *appctx.Context, port func() int) *Handlers {
	return &Handlers{
		ctx:  ctx,
		port: port,
		log:  ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers the proxy routes. Every other path and method
// gets 404.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/m3u8", h.handlePlaylist)
	r.Get("/segment", h.handleSegment)

	r.NotFound(h.handleNotFound)
	r.MethodNotAllowed(h.handleNotFound)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeText(w, http.StatusOK, fmt.Sprintf("HLS proxy running on port %d", h.port()))
}

func (h *Handlers) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeText(w, http.StatusNotFound, "Not Found")
}

// handlePlaylist fetches an origin playlist and rewrites it to route every
// reference through /segment.
func (h *Handlers) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	target, err := requireURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	headers := httpclient.FilterPassthrough(r.Header)
	text, err := h.ctx.ProxyService.ProcessPlaylist(r.Context(), target, headers, h.port())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", ContentTypePlaylist)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// handleSegment streams an origin segment with any disguise header removed.
// The body is chunked: the length after stripping is not known up front.
func (h *Handlers) handleSegment(w http.ResponseWriter, r *http.Request) {
	target, err := requireURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	headers := httpclient.FilterPassthrough(r.Header)
	seg, err := h.ctx.ProxyService.OpenSegment(r.Context(), target, headers)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer seg.Close()

	w.Header().Set("Content-Type", ContentTypeSegment)
	w.Header().Del("Content-Length")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	// Sending headers now commits the response to chunked encoding.
	_ = rc.Flush()

	if err := copyFlush(w, rc, seg); err != nil {
		// The status is already sent. Aborting resets the connection so the
		// player sees a broken transfer instead of a short, complete segment.
		log := logging.FromContext(r.Context())
		if r.Context().Err() != nil {
			log.Debug("player went away mid-segment", "url", target, "error", err)
		} else {
			log.Warn("segment stream aborted", "url", target, "error", err)
		}
		panic(http.ErrAbortHandler)
	}
}

// copyFlush copies src to w, flushing after every write so players get
// bytes as soon as the origin sends them.
func copyFlush(w io.Writer, rc *http.ResponseController, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func requireURL(r *http.Request) (string, error) {
	target := r.URL.Query().Get("url")
	if target == "" {
		return "", &MissingParameterError{Name: "url"}
	}
	return target, nil
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeText(w, status, err.Error())
}

func (h *Handlers) writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}
