package provider

import (
	"fmt"
)

// Names of the upstream calls, used in errors, metrics and logs.
const (
	CallListMonitors   = "list-monitors"
	CallMonitorSummary = "monitor-summary"
	CallMonitorsHealth = "monitors-health"
	CallListSites      = "list-sites"
)

// UpstreamError is returned when a call to the monitoring provider fails,
// either in transport or with a non-success status.
type UpstreamError struct {
	Call       string
	StatusCode int // zero for transport and decoding errors
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s: status %d: %s", e.Call, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s", e.Call, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// temporary reports if repeating the call could succeed.
func (e *UpstreamError) temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}
