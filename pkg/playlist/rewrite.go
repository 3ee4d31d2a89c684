// Package playlist rewrites HLS playlists so every media reference is fetched
// through the local proxy.
package playlist

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"
)

// SegmentPath is the proxy route that serves rewritten references.
const SegmentPath = "/segment"

// Kind is the playlist type reported by Inspect.
type Kind string

const (
	KindUnknown Kind = "unknown"
	KindMaster  Kind = "master"
	KindMedia   Kind = "media"
)

// Rewrite replaces every line that is neither blank nor a '#' directive with
// a local /segment URL carrying the original line as its url parameter.
//
// The line count and order are preserved and directive lines are copied
// byte for byte. Variant playlist references in a master playlist are
// treated like segments and are not rewritten recursively.
func Rewrite(text string, port int) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if isPassthrough(line) {
			continue
		}
		lines[i] = SegmentURL(port, line)
	}
	return strings.Join(lines, "\n")
}

// SegmentURL builds the local proxy URL for a single media reference.
func SegmentURL(port int, ref string) string {
	return fmt.Sprintf("http://localhost:%d%s?url=%s", port, SegmentPath, url.QueryEscape(ref))
}

// isPassthrough reports whether a line is copied unchanged: a directive
// starts with '#' in its first byte, and a blank line is empty after
// trimming (a lone CR from CRLF playlists counts as blank). An indented
// "#..." line is a reference like any other non-directive text.
func isPassthrough(line string) bool {
	return strings.HasPrefix(line, "#") || strings.TrimSpace(line) == ""
}

// Inspect reports whether text is a master or media playlist.
// It is diagnostic only and never changes how Rewrite treats a line.
func Inspect(text string) Kind {
	_, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return KindUnknown
	}
	switch listType {
	case m3u8.MASTER:
		return KindMaster
	case m3u8.MEDIA:
		return KindMedia
	}
	return KindUnknown
}
