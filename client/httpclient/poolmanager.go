package httpclient

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"syscall"

	"go.ntppool.org/common/logger"
)

// PoolFlusherTransport wraps an http.Transport and closes its idle
// connections when certificate or connection errors are detected, so a
// rotated endpoint certificate or a restarted load balancer doesn't keep
// failing on stale connections.
type PoolFlusherTransport struct {
	*http.Transport
	log *slog.Logger
}

func NewPoolFlusherTransport(transport *http.Transport, log *slog.Logger) *PoolFlusherTransport {
	if log == nil {
		log = logger.Setup()
	}
	return &PoolFlusherTransport{
		Transport: transport,
		log:       log.WithGroup("pool-flusher"),
	}
}

// RoundTrip implements http.RoundTripper. A request that failed is sent once
// more on a fresh connection if its body can be replayed.
func (pft *PoolFlusherTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := pft.Transport.RoundTrip(req)

	if !shouldFlushConnections(resp, err) {
		return resp, err
	}

	ctx := req.Context()
	pft.log.InfoContext(ctx, "detected certificate/connection error, flushing connection pool",
		"url", req.URL.Redacted(),
		"err", err,
		"status", getStatusCode(resp))

	pft.Transport.CloseIdleConnections()

	if err == nil {
		return resp, nil
	}

	retry := req
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return resp, err
		}
		body, berr := req.GetBody()
		if berr != nil {
			return resp, err
		}
		retry = req.Clone(ctx)
		retry.Body = body
	}

	pft.log.DebugContext(ctx, "retrying request after pool flush")
	return pft.Transport.RoundTrip(retry)
}

func shouldFlushConnections(resp *http.Response, err error) bool {
	if err != nil {
		return isTLSError(err) || isConnectionError(err)
	}

	if resp != nil {
		switch resp.StatusCode {
		case 495, // SSL Certificate Error (nginx)
			496, // SSL Certificate Required (nginx)
			497: // HTTP Request Sent to HTTPS Port (nginx)
			return true
		}
	}

	return false
}

func isTLSError(err error) bool {
	if err == nil {
		return false
	}

	var tlsErr *tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "certificate") ||
		strings.Contains(msg, "tls:") ||
		strings.Contains(msg, "x509:")
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}

func getStatusCode(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
