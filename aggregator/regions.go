package aggregator

import "strings"

// IsReference reports if the monitor is a reference monitor. An empty
// suffix means there are none.
func IsReference(name, suffix string) bool {
	return len(suffix) > 0 && strings.HasSuffix(name, suffix)
}

func newRegionResult(region string) *RegionResult {
	return &RegionResult{
		Region:                 region,
		WinnerLatency:          SentinelLatency,
		WinnerLatencyWithoutF5: SentinelLatency,
		Monitors:               []Observation{},
	}
}

// observe adds an observation to the region and updates the winners. The
// non-reference winner is updated first, then the overall winner on a
// strict improvement; on an exact tie a reference monitor takes the overall
// win from a non-reference one.
func (r *RegionResult) observe(obs Observation, logo, suffix string) {
	r.Monitors = append(r.Monitors, obs)

	candidateRef := IsReference(obs.Name, suffix)

	if !candidateRef && obs.Latency < r.WinnerLatencyWithoutF5 {
		r.RegionalWinnerWithoutF5 = obs.Name
		r.WinnerLatencyWithoutF5 = obs.Latency
		r.WinnerLogoWithoutF5 = logo
	}

	switch {
	case obs.Latency < r.WinnerLatency:
		r.setWinner(obs, logo)
	case obs.Latency == r.WinnerLatency && candidateRef &&
		len(r.RegionalWinner) > 0 && !IsReference(r.RegionalWinner, suffix):
		r.setWinner(obs, logo)
	}
}

func (r *RegionResult) setWinner(obs Observation, logo string) {
	r.RegionalWinner = obs.Name
	r.WinnerLatency = obs.Latency
	r.WinnerLogo = logo
}
