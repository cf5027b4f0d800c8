package domain

import "time"

// ItemError records a contained per-item failure inside a cycle. One item's
// failure never aborts evaluation of its siblings; it is collected here and
// surfaced in the cycle summary instead.
type ItemError struct {
	Key    string // market ID, group ID, or prediction ID
	Metric Metric // empty when not metric-specific
	Err    error
}

// DetectionReport summarises one detection cycle.
type DetectionReport struct {
	StartedAt  time.Time
	Evaluated  int // markets evaluated
	Groups     int // correlation groups evaluated
	Alerts     []Alert
	ArbSignals []ArbitrageSignal
	Notified   int // alerts that cleared the quality bar and were dispatched
	Suppressed int // duplicate alerts suppressed by the dedup window
	Skipped    int // items skipped for insufficient data
	Errors     []ItemError
}

// Notifiable returns the alerts eligible for notification at the given
// quality bar.
func (r DetectionReport) Notifiable(minQuality int) []Alert {
	var out []Alert
	for _, a := range r.Alerts {
		if a.NotifyEligible(minQuality) {
			out = append(out, a)
		}
	}
	return out
}

// ResolutionReport summarises one resolution cycle.
type ResolutionReport struct {
	StartedAt time.Time
	Checked   int // unresolved predictions past their end date
	Resolved  int // newly resolved this cycle
	Pending   int // past end date but price not decisive
	Errors    []ItemError
}
