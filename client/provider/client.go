// Package provider talks to the synthetic monitoring API of F5 Distributed
// Cloud: the DNS monitor catalog, per monitor summaries and the batched
// per source health digest.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.ntppool.org/common/version"

	"go.ntppool.org/dnsresults/client/auth"
	"go.ntppool.org/dnsresults/client/httpclient"
)

const (
	defaultMaxTries  = 3
	maxResponseBytes = 16 * 1024 * 1024
)

// TenantURL returns the console API base URL for a tenant.
func TenantURL(tenant string) string {
	return fmt.Sprintf("https://%s.console.ves.volterra.io", tenant)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the tenant console URL, see TenantURL.
	BaseURL string
	// Namespace holds the synthetic DNS monitors.
	Namespace string
	Tokens    auth.TokenSource

	HTTPClient *http.Client
	MaxTries   uint
	// RetryInterval is the first delay between tries of a failed call.
	RetryInterval time.Duration
}

// Client is the monitoring provider API client. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	namespace string
	tokens    auth.TokenSource
	http      *http.Client
	maxTries  uint
	retry     time.Duration

	log     *slog.Logger
	metrics *Metrics
}

// New returns a Client. Metrics may be nil.
func New(ctx context.Context, cfg Config, metrics *Metrics) (*Client, error) {
	if len(cfg.BaseURL) == 0 {
		return nil, auth.ConfigurationError{Setting: "tenant"}
	}
	if len(cfg.Namespace) == 0 {
		return nil, auth.ConfigurationError{Setting: "namespace"}
	}
	if cfg.Tokens == nil {
		return nil, auth.ConfigurationError{Setting: "api-key"}
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, auth.ConfigurationError{Setting: "api-url", Message: err.Error()}
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, auth.ConfigurationError{Setting: "api-url", Message: fmt.Sprintf("unsupported scheme %q", base.Scheme)}
	}

	log := logger.FromContext(ctx).WithGroup("provider")

	c := &Client{
		base:      base,
		namespace: cfg.Namespace,
		tokens:    cfg.Tokens,
		http:      cfg.HTTPClient,
		maxTries:  cfg.MaxTries,
		retry:     cfg.RetryInterval,
		log:       log,
		metrics:   metrics,
	}
	if c.http == nil {
		c.http = httpclient.New(log, httpclient.DefaultTimeout)
	}
	if c.maxTries == 0 {
		c.maxTries = defaultMaxTries
	}
	if c.retry <= 0 {
		c.retry = 500 * time.Millisecond
	}

	return c, nil
}

func (c *Client) monitorPath(endpoint string) string {
	return fmt.Sprintf("/api/observability/synthetic_monitor/namespaces/%s/%s", url.PathEscape(c.namespace), endpoint)
}

// Request makes an API call and decodes the JSON response into out.
// Transport errors, 429 and 5xx responses are retried; other failures are
// returned right away. All failures are *UpstreamError.
func (c *Client) Request(ctx context.Context, call, method, path string, query url.Values, body, out any) error {
	ctx, span := tracing.Start(ctx, "provider."+call)
	defer span.End()
	span.SetAttributes(attribute.String("call", call))

	u := *c.base
	u.Path = u.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &UpstreamError{Call: call, Err: fmt.Errorf("encoding request: %w", err)}
		}
	}

	expback := backoff.NewExponentialBackOff()
	expback.InitialInterval = c.retry
	expback.MaxInterval = 10 * time.Second

	try := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		try++
		err := c.do(ctx, call, method, u.String(), payload, out)
		if err == nil {
			return struct{}{}, nil
		}

		var uerr *UpstreamError
		if errors.As(err, &uerr) && !uerr.temporary() {
			return struct{}{}, backoff.Permanent(err)
		}
		c.log.DebugContext(ctx, "upstream call failed", "call", call, "try", try, "err", err)
		return struct{}{}, err
	},
		backoff.WithBackOff(expback),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		var uerr *UpstreamError
		if errors.As(err, &uerr) {
			err = uerr
		} else {
			err = &UpstreamError{Call: call, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Client) do(ctx context.Context, call, method, u string, payload []byte, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return backoff.Permanent(&UpstreamError{Call: call, Err: err})
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return backoff.Permanent(&UpstreamError{Call: call, Err: err})
	}
	req.Header.Set("Authorization", "APIToken "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dnsresults/"+version.Version())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(call, "error", time.Since(start))
		return &UpstreamError{Call: call, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.observe(call, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return &UpstreamError{Call: call, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{
			Call:       call,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", truncate(b, 200)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return backoff.Permanent(&UpstreamError{Call: call, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)})
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
