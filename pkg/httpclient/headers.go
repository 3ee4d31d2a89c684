package httpclient

import (
	"net/http"
	"strings"
)

// PassthroughHeaderNames are the only request headers copied from a player
// request to the origin request. Names are lower case.
var PassthroughHeaderNames = []string{
	"user-agent",
	"referer",
	"origin",
	"accept",
	"accept-language",
	"accept-encoding",
	"connection",
	"cache-control",
	"pragma",
}

var passthrough = func() map[string]bool {
	m := make(map[string]bool, len(PassthroughHeaderNames))
	for _, name := range PassthroughHeaderNames {
		m[name] = true
	}
	return m
}()

// IsPassthrough reports whether name is on the allow-list, ignoring case.
func IsPassthrough(name string) bool {
	return passthrough[strings.ToLower(name)]
}

// FilterPassthrough returns a copy of headers holding only allow-listed names.
// Keys are canonicalized; a nil or empty input gives an empty, non-nil header.
func FilterPassthrough(headers http.Header) http.Header {
	filtered := make(http.Header)
	for key, values := range headers {
		if !IsPassthrough(key) || len(values) == 0 {
			continue
		}
		canonical := http.CanonicalHeaderKey(key)
		filtered[canonical] = append(filtered[canonical], values...)
	}
	return filtered
}

// HeadersFromMap converts a flat name/value map, as carried by video
// descriptors, into an allow-listed http.Header.
func HeadersFromMap(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return FilterPassthrough(h)
}
