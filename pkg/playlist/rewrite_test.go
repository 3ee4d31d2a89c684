package playlist

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.0,
https://cdn.example.com/live/seg0.ts?token=a&b=c
#EXTINF:10.0,
seg1.ts

#EXT-X-ENDLIST`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1920x1080
1080p/index.m3u8
`

func TestRewrite(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		port     int
		expected string
	}{
		{
			name:     "absolute url",
			input:    "#EXTM3U\nhttps://cdn.example.com/a.ts",
			port:     8080,
			expected: "#EXTM3U\nhttp://localhost:8080/segment?url=https%3A%2F%2Fcdn.example.com%2Fa.ts",
		},
		{
			name:     "relative reference stays relative",
			input:    "#EXTM3U\n#EXTINF:10,\nseg1.ts",
			port:     9000,
			expected: "#EXTM3U\n#EXTINF:10,\nhttp://localhost:9000/segment?url=seg1.ts",
		},
		{
			name:     "blank lines kept",
			input:    "#EXTM3U\n\n\nseg.ts\n",
			port:     1,
			expected: "#EXTM3U\n\n\nhttp://localhost:1/segment?url=seg.ts\n",
		},
		{
			name:     "directives with uris are not touched",
			input:    `#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example.com/k"`,
			port:     8080,
			expected: `#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example.com/k"`,
		},
		{
			name:     "empty text",
			input:    "",
			port:     8080,
			expected: "",
		},
		{
			name:     "indented hash is a reference",
			input:    "#EXTM3U\n  #EXT-X-ENDLIST",
			port:     8080,
			expected: "#EXTM3U\nhttp://localhost:8080/segment?url=++%23EXT-X-ENDLIST",
		},
		{
			name:     "whitespace-only line is blank",
			input:    "#EXTM3U\n \t\nseg.ts",
			port:     8080,
			expected: "#EXTM3U\n \t\nhttp://localhost:8080/segment?url=seg.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Rewrite(tt.input, tt.port))
		})
	}
}

func TestRewrite_PreservesStructure(t *testing.T) {
	out := Rewrite(mediaPlaylist, 41234)

	in := strings.Split(mediaPlaylist, "\n")
	got := strings.Split(out, "\n")
	require.Len(t, got, len(in))

	for i, line := range in {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			assert.Equal(t, line, got[i], "line %d", i)
			continue
		}

		u, err := url.Parse(got[i])
		require.NoError(t, err)
		assert.Equal(t, "localhost:41234", u.Host)
		assert.Equal(t, SegmentPath, u.Path)
		assert.Equal(t, line, u.Query().Get("url"), "line %d must round-trip", i)
	}
}

func TestRewrite_QueryStringIsEncoded(t *testing.T) {
	out := Rewrite("https://cdn.example.com/seg.ts?token=a&b=c", 8080)

	u, err := url.Parse(out)
	require.NoError(t, err)
	assert.Len(t, u.Query(), 1)
	assert.Equal(t, "https://cdn.example.com/seg.ts?token=a&b=c", u.Query().Get("url"))
}

func TestRewrite_MasterPlaylistVariantsRewrittenOnce(t *testing.T) {
	out := Rewrite(masterPlaylist, 8080)

	assert.Contains(t, out, "http://localhost:8080/segment?url=720p%2Findex.m3u8")
	assert.Contains(t, out, "http://localhost:8080/segment?url=1080p%2Findex.m3u8")
	assert.Contains(t, out, "#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720")
}

func TestRewrite_CRLF(t *testing.T) {
	out := Rewrite("#EXTM3U\r\n\r\nseg.ts\r\n", 8080)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "#EXTM3U\r", lines[0])
	assert.Equal(t, "\r", lines[1])
	assert.Equal(t, "http://localhost:8080/segment?url=seg.ts%0D", lines[2])
}

func TestSegmentURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/segment?url=a+b", SegmentURL(8080, "a b"))
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Kind
	}{
		{"media", mediaPlaylist, KindMedia},
		{"master", masterPlaylist, KindMaster},
		{"not a playlist", "hello world", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Inspect(tt.input))
		})
	}
}
