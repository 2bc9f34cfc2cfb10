package rest

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/http2"
)

// http2IdleTimeout closes an idle opt-in HTTP/2 connection after 60s of
// inactivity, one session per base URL.
const http2IdleTimeout = 60 * time.Second

// buildTransport returns the RoundTripper for a Node's rest.Client.
// useHTTP2 upgrades to a cleartext-or-TLS HTTP/2 transport with a shared
// connection per base URL; otherwise a plain HTTP/1.1 transport is used.
func buildTransport(ssl bool, useHTTP2 bool) http.RoundTripper {
	if useHTTP2 {
		t := &http2.Transport{
			AllowHTTP:       !ssl,
			IdleConnTimeout: http2IdleTimeout,
		}
		if !ssl {
			// Worker nodes are almost always plaintext on a private
			// network; http2.Transport only dials h2c when DialTLSContext
			// is overridden to a plain net.Dial, since AllowHTTP alone
			// still tries a TLS handshake.
			t.DialTLSContext = func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
				return net.Dial(network, addr)
			}
		}
		return t
	}
	return &http.Transport{
		IdleConnTimeout:     http2IdleTimeout,
		MaxIdleConnsPerHost: 8,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// acceptEncodingHeader advertises every decoder decodeBody knows how to
// transparently decompress.
const acceptEncodingHeader = "br, gzip, deflate"

// decodeBody wraps resp.Body with the decompressor matching its
// Content-Encoding header, or returns it unwrapped if the encoding is
// absent or unrecognized (identity).
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		return &readCloserWrapper{Reader: brotli.NewReader(resp.Body), closer: resp.Body}, nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return &readCloserWrapper{Reader: gz, closer: resp.Body}, nil
	case "deflate":
		fr := flate.NewReader(resp.Body)
		return &readCloserWrapper{Reader: fr, closer: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

// readCloserWrapper pairs a decompressing Reader with the underlying
// response body's Close, so callers can treat the pair as one ReadCloser.
type readCloserWrapper struct {
	io.Reader
	closer io.Closer
}

func (r *readCloserWrapper) Close() error { return r.closer.Close() }
