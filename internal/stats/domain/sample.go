package domain

import "time"

// Sample is one append-only statistics observation for a running session,
// extracted from the job's diagnostics output.
type Sample struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Rate      float64 // reported throughput
	Accepted  int64   // accepted work units
	Rejected  int64   // rejected work units
}

// Summary aggregates samples for the admin stats surface.
type Summary struct {
	Sessions      int
	Samples       int64
	AvgRate       float64
	TotalAccepted int64
	TotalRejected int64
}
