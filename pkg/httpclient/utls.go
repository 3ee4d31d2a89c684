package httpclient

import (
	"bufio"
	"context"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// fingerprintTransport sends a Chrome 120 ClientHello so hosts that filter on
// the TLS fingerprint answer as they would a browser. Plain http goes to
// fallback.
//
// Every request gets its own connection, closed together with the response
// body.
type fingerprintTransport struct {
	dial             dialFunc
	handshakeTimeout time.Duration
	rootCAs          *x509.CertPool // nil means the system pool
	fallback         http.RoundTripper
	h2               *http2.Transport
}

func newFingerprintTransport(dial dialFunc, handshakeTimeout time.Duration, fallback http.RoundTripper) *fingerprintTransport {
	return &fingerprintTransport{
		dial:             dial,
		handshakeTimeout: handshakeTimeout,
		fallback:         fallback,
		h2:               &http2.Transport{},
	}
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.fallback.RoundTrip(req)
	}

	conn, err := t.handshake(req)
	if err != nil {
		return nil, err
	}

	if conn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
		return t.roundTripH2(conn, req)
	}
	return roundTripH1(conn, req)
}

func (t *fingerprintTransport) handshake(req *http.Request) (*utls.UConn, error) {
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = "443"
	}

	raw, err := t.dial(req.Context(), "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: host, RootCAs: t.rootCAs}, utls.HelloChrome_120)

	ctx := req.Context()
	if t.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.handshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

func (t *fingerprintTransport) roundTripH2(conn net.Conn, req *http.Request) (*http.Response, error) {
	cc, err := t.h2.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := cc.RoundTrip(req)
	if err != nil {
		cc.Close()
		return nil, err
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: cc}
	return resp, nil
}

// roundTripH1 runs one HTTP/1.1 exchange on conn. Cancelling the request
// context closes conn, which unblocks a pending body read.
func roundTripH1(conn net.Conn, req *http.Request) (*http.Response, error) {
	stop := context.AfterFunc(req.Context(), func() { conn.Close() })

	if err := req.Write(conn); err != nil {
		stop()
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		stop()
		conn.Close()
		return nil, err
	}

	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn, stop: stop}
	return resp, nil
}

// connBody releases the connection a response arrived on when its body is
// closed.
type connBody struct {
	io.ReadCloser
	conn io.Closer
	stop func() bool
}

func (b *connBody) Close() error {
	if b.stop != nil {
		b.stop()
	}
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
