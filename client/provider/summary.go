package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Summary has the latency statistics of one monitor over a time window.
// Fields are nil when the provider had no value.
type Summary struct {
	Latency    *float64
	AvgLatency *float64
	MaxLatency *float64
}

type summaryResponse struct {
	Latency    number `json:"latency"`
	AvgLatency number `json:"avg_latency"`
	MaxLatency number `json:"max_latency"`
}

// Summarize returns the latency statistics of a monitor for the window
// ending at end.
func (c *Client) Summarize(ctx context.Context, name string, end time.Time, window time.Duration) (Summary, error) {
	end = end.UTC()
	q := url.Values{}
	q.Set("monitorName", name)
	q.Set("startTime", end.Add(-window).Format(time.RFC3339))
	q.Set("endTime", end.Format(time.RFC3339))

	var resp summaryResponse
	err := c.Request(ctx, CallMonitorSummary, http.MethodGet, c.monitorPath("dns-monitor-summary"), q, nil, &resp)
	if err != nil {
		return Summary{}, err
	}

	for field, n := range map[string]number{"latency": resp.Latency, "avg_latency": resp.AvgLatency, "max_latency": resp.MaxLatency} {
		if !n.valid && len(n.raw) > 0 && n.raw != "null" {
			c.log.WarnContext(ctx, "unparseable summary value", "monitor", name, "field", field, "value", n.raw)
		}
	}

	return Summary{
		Latency:    resp.Latency.ptr(),
		AvgLatency: resp.AvgLatency.ptr(),
		MaxLatency: resp.MaxLatency.ptr(),
	}, nil
}
