package provider

import (
	"context"
	"net/http"
)

// Coordinates is a geographic position.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// SourceHealth is the latest result of a monitor from one source region.
type SourceHealth struct {
	Region      string
	Provider    string
	Coordinates *Coordinates
	Latency     float64
	Critical    *int
	Healthy     *int
}

// HealthDigest maps monitor name to region to the latest source result.
type HealthDigest map[string]map[string]SourceHealth

type healthRequest struct {
	MonitorNames []string `json:"monitor_names"`
}

type healthResponse struct {
	Items []struct {
		MonitorName string `json:"monitor_name"`
		Sources     []struct {
			Region      string `json:"region"`
			Provider    string `json:"provider"`
			Coordinates *struct {
				Latitude  number `json:"latitude"`
				Longitude number `json:"longitude"`
			} `json:"coordinates"`
			CurrLatency   number `json:"curr_latency"`
			CriticalCount number `json:"critical_count"`
			HealthyCount  number `json:"healthy_count"`
		} `json:"sources"`
	} `json:"items"`
}

// Health returns the latest per source latency of all the named monitors
// in a single request. Sources without a usable latency are left out.
func (c *Client) Health(ctx context.Context, names []string) (HealthDigest, error) {
	digest := HealthDigest{}
	if len(names) == 0 {
		return digest, nil
	}

	var resp healthResponse
	err := c.Request(ctx, CallMonitorsHealth, http.MethodPost, c.monitorPath("dns-monitors-health"),
		nil, healthRequest{MonitorNames: names}, &resp)
	if err != nil {
		return nil, err
	}

	for _, item := range resp.Items {
		if len(item.MonitorName) == 0 {
			continue
		}
		regions, ok := digest[item.MonitorName]
		if !ok {
			regions = map[string]SourceHealth{}
			digest[item.MonitorName] = regions
		}

		for _, src := range item.Sources {
			if len(src.Region) == 0 {
				continue
			}
			if !src.CurrLatency.valid {
				c.log.WarnContext(ctx, "skipping source without latency",
					"monitor", item.MonitorName, "region", src.Region, "value", src.CurrLatency.raw)
				continue
			}
			if _, dup := regions[src.Region]; dup {
				c.log.DebugContext(ctx, "duplicate source in health digest",
					"monitor", item.MonitorName, "region", src.Region)
				continue
			}

			sh := SourceHealth{
				Region:   src.Region,
				Provider: src.Provider,
				Latency:  src.CurrLatency.value,
				Critical: src.CriticalCount.intPtr(),
				Healthy:  src.HealthyCount.intPtr(),
			}
			if src.Coordinates != nil && src.Coordinates.Latitude.valid && src.Coordinates.Longitude.valid {
				sh.Coordinates = &Coordinates{
					Latitude:  src.Coordinates.Latitude.value,
					Longitude: src.Coordinates.Longitude.value,
				}
			}
			regions[src.Region] = sh
		}
	}

	return digest, nil
}
