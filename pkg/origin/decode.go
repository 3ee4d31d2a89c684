package origin

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned when an origin answers with a
// Content-Encoding this client cannot decode.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// decodableEncodings are the Accept-Encoding tokens forwarded to origins.
var decodableEncodings = map[string]bool{
	"gzip":     true,
	"x-gzip":   true,
	"deflate":  true,
	"br":       true,
	"zstd":     true,
	"identity": true,
}

// restrictAcceptEncoding drops codings the proxy cannot undo from a forwarded
// Accept-Encoding, keeping q-values. If nothing is left the header is removed
// and the transport negotiates gzip itself.
func restrictAcceptEncoding(h http.Header) {
	values := h.Values("Accept-Encoding")
	if len(values) == 0 {
		return
	}

	var kept []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			coding, _, _ := strings.Cut(part, ";")
			if decodableEncodings[strings.ToLower(strings.TrimSpace(coding))] {
				kept = append(kept, part)
			}
		}
	}

	if len(kept) == 0 {
		h.Del("Accept-Encoding")
		return
	}
	h.Set("Accept-Encoding", strings.Join(kept, ", "))
}

// wrapDecompression decodes bodies the transport left encoded. That happens
// whenever the player's Accept-Encoding was forwarded, since Go then skips its
// own gzip handling. Encoded bytes never pass through as media.
func (c *Client) wrapDecompression(resp *http.Response) (io.ReadCloser, error) {
	if resp.Uncompressed {
		return resp.Body, nil
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	switch encoding {
	case "", "identity":
		return resp.Body, nil

	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(resp.Body)
		if errors.Is(err, io.EOF) {
			// Empty body; callers report it.
			return resp.Body, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return &decompressReader{reader: reader, closer: resp.Body}, nil

	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}, nil

	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}, nil

	case "zstd":
		decoder, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		return &decompressReader{reader: decoder.IOReadCloser(), closer: resp.Body}, nil

	default:
		c.log.Warn("undecodable content encoding", "encoding", encoding)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}
