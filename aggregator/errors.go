package aggregator

import (
	"fmt"
	"strings"
)

// Stages of a refresh cycle where a monitor can be missing data.
const (
	StageSummary = "summary"
	StageHealth  = "health"
)

// MissingData records one monitor that lacked data in a cycle.
type MissingData struct {
	Monitor string
	Stage   string
	Err     error
}

func (m MissingData) Error() string {
	if m.Err == nil {
		return fmt.Sprintf("%s: no %s data", m.Monitor, m.Stage)
	}
	return fmt.Sprintf("%s: %s: %s", m.Monitor, m.Stage, m.Err)
}

// PartialDataError is returned with a usable Snapshot when some monitors
// had no summary or health data.
type PartialDataError struct {
	Missing []MissingData
}

func (e *PartialDataError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, m.Monitor+"/"+m.Stage)
	}
	return fmt.Sprintf("partial data for %d monitor(s): %s", len(e.Missing), strings.Join(names, ", "))
}

func (e *PartialDataError) Unwrap() []error {
	var errs []error
	for _, m := range e.Missing {
		if m.Err != nil {
			errs = append(errs, m.Err)
		}
	}
	return errs
}

// Monitors returns the names of monitors missing data in the given stage.
func (e *PartialDataError) Monitors(stage string) []string {
	var names []string
	for _, m := range e.Missing {
		if m.Stage == stage {
			names = append(names, m.Monitor)
		}
	}
	return names
}
