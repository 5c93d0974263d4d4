package model

import "time"

// RunFilter narrows run listings and metrics. Zero values mean "no
// constraint"; Limit 0 falls back to the store default.
type RunFilter struct {
	Status   RunStatus
	Provider Provider
	// Query is matched case-insensitively against pipeline name, branch,
	// and triggered-by.
	Query    string
	TimeFrom *time.Time
	TimeTo   *time.Time
	Limit    int
	Offset   int
}

// Metrics are dashboard aggregates computed over a filtered set of runs at
// read time.
type Metrics struct {
	TotalRuns       int64
	SuccessCount    int64
	FailureCount    int64
	RunningCount    int64
	SuccessRate     float64 // percentage, rounded to two decimals
	AvgDurationSecs *float64
	LastStatus      RunStatus // empty when the filtered set is empty
}
