package aggregator

import (
	"time"
)

// SentinelLatency is larger than any realistic latency so the first real
// observation in a region always becomes the winner.
const SentinelLatency = 2000000

// HomeProvider is the provider tag for sources run by the home network.
const HomeProvider = "f5xc"

// ExternalProvider is used when the health digest doesn't name a provider.
const ExternalProvider = "external"

// MonitorDescriptor is one synthetic DNS monitor from the catalog,
// enriched with the summary statistics for the current window.
type MonitorDescriptor struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Logo           string   `json:"logo"`
	Latency        *float64 `json:"latency,omitempty"`
	AverageLatency *float64 `json:"averageLatency,omitempty"`
	MaximumLatency *float64 `json:"maximumLatency,omitempty"`
}

// Observation is the latest latency of one monitor from one region.
type Observation struct {
	Name     string  `json:"name"`
	Latency  float64 `json:"latency"`
	Critical *int    `json:"critical,omitempty"`
	Healthy  *int    `json:"healthy,omitempty"`
}

// RegionResult ranks the monitors observed from one region.
type RegionResult struct {
	Region    string   `json:"region"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Provider  string   `json:"provider"`

	RegionalWinner string  `json:"regionalWinner,omitempty"`
	WinnerLatency  float64 `json:"winnerLatency"`
	WinnerLogo     string  `json:"winnerLogo,omitempty"`

	RegionalWinnerWithoutF5 string  `json:"regionalWinnerWithoutF5,omitempty"`
	WinnerLatencyWithoutF5  float64 `json:"winnerLatencyWithoutF5"`
	WinnerLogoWithoutF5     string  `json:"winnerLogoWithoutF5,omitempty"`

	Monitors []Observation `json:"monitors"`
}

// Snapshot is the result of one refresh cycle. A published Snapshot is
// never modified; readers share it.
type Snapshot struct {
	ID                     string              `json:"id"`
	Monitors               []MonitorDescriptor `json:"monitors"`
	Results                []RegionResult      `json:"results"`
	IncludedMonitorPrefix  string              `json:"includedMonitorPrefix"`
	ReferenceMonitorSuffix string              `json:"referenceMonitorSuffix"`
	CollectedAt            time.Time           `json:"collectedAt"`
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CollectedAt)
}

// Monitor returns the descriptor with the given name.
func (s *Snapshot) Monitor(name string) (MonitorDescriptor, bool) {
	for _, m := range s.Monitors {
		if m.Name == name {
			return m, true
		}
	}
	return MonitorDescriptor{}, false
}

// Region returns the result for the given region.
func (s *Snapshot) Region(region string) (RegionResult, bool) {
	for _, r := range s.Results {
		if r.Region == region {
			return r, true
		}
	}
	return RegionResult{}, false
}
