package aggregator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference("race-test-f5xc", "-f5xc"))
	assert.False(t, IsReference("race-f5xc-test", "-f5xc"))
	assert.False(t, IsReference("race-test-F5XC", "-f5xc"))
	assert.False(t, IsReference("anything", ""))
}

func TestObserveWinners(t *testing.T) {
	const suffix = "-f5"

	tests := []struct {
		name string
		obs  []Observation

		winner         string
		winnerLatency  float64
		without        string
		withoutLatency float64
	}{
		{
			name:           "first observation wins",
			obs:            []Observation{{Name: "a", Latency: 500}},
			winner:         "a",
			winnerLatency:  500,
			without:        "a",
			withoutLatency: 500,
		},
		{
			name: "reference wins a tie",
			obs: []Observation{
				{Name: "a", Latency: 120},
				{Name: "b", Latency: 95},
				{Name: "c-f5", Latency: 95},
			},
			winner:         "c-f5",
			winnerLatency:  95,
			without:        "b",
			withoutLatency: 95,
		},
		{
			name: "reference wins a tie seen first",
			obs: []Observation{
				{Name: "c-f5", Latency: 95},
				{Name: "b", Latency: 95},
			},
			winner:         "c-f5",
			winnerLatency:  95,
			without:        "b",
			withoutLatency: 95,
		},
		{
			name: "first non-reference keeps a tie",
			obs: []Observation{
				{Name: "a", Latency: 40},
				{Name: "b", Latency: 40},
			},
			winner:         "a",
			winnerLatency:  40,
			without:        "a",
			withoutLatency: 40,
		},
		{
			name: "reference never wins when slower",
			obs: []Observation{
				{Name: "a", Latency: 30},
				{Name: "c-f5", Latency: 31},
			},
			winner:         "a",
			winnerLatency:  30,
			without:        "a",
			withoutLatency: 30,
		},
		{
			name: "only reference monitors",
			obs: []Observation{
				{Name: "c-f5", Latency: 12},
				{Name: "d-f5", Latency: 10},
			},
			winner:         "d-f5",
			winnerLatency:  10,
			without:        "",
			withoutLatency: SentinelLatency,
		},
		{
			name: "numeric comparison",
			obs: []Observation{
				{Name: "a", Latency: 9},
				{Name: "b", Latency: 10},
				{Name: "c", Latency: 100},
			},
			winner:         "a",
			winnerLatency:  9,
			without:        "a",
			withoutLatency: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegionResult("us-east")
			for _, obs := range tt.obs {
				r.observe(obs, obs.Name+".svg", suffix)
			}

			assert.Equal(t, tt.winner, r.RegionalWinner)
			assert.Equal(t, tt.winnerLatency, r.WinnerLatency)
			assert.Equal(t, tt.without, r.RegionalWinnerWithoutF5)
			assert.Equal(t, tt.withoutLatency, r.WinnerLatencyWithoutF5)
			if len(tt.winner) > 0 {
				assert.Equal(t, tt.winner+".svg", r.WinnerLogo)
			}
			assert.Equal(t, tt.obs, r.Monitors, "observations in insertion order")
		})
	}
}

func TestObserveMinimumProperty(t *testing.T) {
	const suffix = "-ref"

	latencies := []float64{73.5, 12, 1999999, 12, 0.25, 88, 0.25, 640}
	names := []string{"a", "b-ref", "c", "d", "e-ref", "f", "g", "h-ref"}

	r := newRegionResult("eu-west")
	for i, l := range latencies {
		r.observe(Observation{Name: names[i], Latency: l}, "", suffix)
	}

	minAll, minWithout := math.Inf(1), math.Inf(1)
	for _, obs := range r.Monitors {
		minAll = math.Min(minAll, obs.Latency)
		if !IsReference(obs.Name, suffix) {
			minWithout = math.Min(minWithout, obs.Latency)
		}
	}

	assert.Equal(t, minAll, r.WinnerLatency)
	assert.Equal(t, minWithout, r.WinnerLatencyWithoutF5)
	assert.Equal(t, "e-ref", r.RegionalWinner)
	assert.Equal(t, "g", r.RegionalWinnerWithoutF5)
}
