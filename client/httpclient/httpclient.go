// Package httpclient provides the HTTP client used for calls to the
// monitoring provider and the site registry.
package httpclient

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds a single request including reading the body.
const DefaultTimeout = 30 * time.Second

// New returns an HTTP client with traced requests and a connection pool that
// is flushed on TLS or connection errors.
func New(log *slog.Logger, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(NewPoolFlusherTransport(transport, log)),
		Timeout:   timeout,
	}
}
