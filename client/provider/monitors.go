package provider

import (
	"context"
	"net/http"
	"strings"
)

// Monitor is a DNS monitor from the catalog.
type Monitor struct {
	Name        string
	Description string
	Logo        string
}

type monitorListResponse struct {
	Items []struct {
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Labels      map[string]string `json:"labels"`
	} `json:"items"`
}

// ListMonitors returns the DNS monitors in the namespace, keyed by name.
// When prefix isn't empty only monitors whose name starts with it are
// returned (case sensitive, no globbing).
func (c *Client) ListMonitors(ctx context.Context, prefix string) (map[string]Monitor, error) {
	var resp monitorListResponse
	err := c.Request(ctx, CallListMonitors, http.MethodGet, c.monitorPath("v1_dns_monitors"), nil, nil, &resp)
	if err != nil {
		return nil, err
	}

	monitors := make(map[string]Monitor, len(resp.Items))
	for _, item := range resp.Items {
		if len(item.Name) == 0 {
			continue
		}
		if !MatchesPrefix(item.Name, prefix) {
			continue
		}
		monitors[item.Name] = Monitor{
			Name:        item.Name,
			Description: item.Description,
			Logo:        item.Labels["logo"],
		}
	}

	c.log.DebugContext(ctx, "listed monitors", "total", len(resp.Items), "matched", len(monitors), "prefix", prefix)

	return monitors, nil
}

// MatchesPrefix reports if a monitor name passes the prefix filter. An
// empty prefix matches everything.
func MatchesPrefix(name, prefix string) bool {
	return len(prefix) == 0 || strings.HasPrefix(name, prefix)
}
