package model

import "time"

// PipelineRun is one observed execution of a CI job, from first sighting
// (poll or webhook) to terminal status. The surrogate ID is assigned by the
// store; the real-world identity is (Provider, PipelineName, BuildNumber).
type PipelineRun struct {
	ID              int64
	Provider        Provider
	PipelineName    string
	Status          RunStatus
	StartedAt       *time.Time
	FinishedAt      *time.Time
	DurationSeconds *float64
	Branch          string // empty when upstream did not report one
	TriggeredBy     string // empty when upstream did not report one
	URL             string
	Logs            string
	BuildNumber     *int64 // upstream-native build sequence number
	Notified        bool
}

// WithDerivedDuration returns the run with DurationSeconds recomputed from
// StartedAt and FinishedAt when both are known. A negative span is clamped
// to zero; an already-set duration is kept when timestamps are incomplete.
func (r PipelineRun) WithDerivedDuration() PipelineRun {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return r
	}
	secs := r.FinishedAt.Sub(*r.StartedAt).Seconds()
	if secs < 0 {
		secs = 0
	}
	r.DurationSeconds = &secs
	return r
}

// Merge overlays incoming observation data on an existing row. Known values
// are never erased by missing incoming ones, status never regresses from a
// terminal state back to running, and the duration is rederived once both
// timestamps are present. The surrogate ID and Notified flag always come
// from the existing row.
func Merge(existing, incoming PipelineRun) PipelineRun {
	merged := existing

	if incoming.Status != "" && incoming.Status != StatusUnknown {
		if !(existing.Status.Terminal() && incoming.Status == StatusRunning) {
			merged.Status = incoming.Status
		}
	}
	if incoming.StartedAt != nil {
		merged.StartedAt = incoming.StartedAt
	}
	if incoming.FinishedAt != nil {
		merged.FinishedAt = incoming.FinishedAt
	}
	if incoming.DurationSeconds != nil {
		merged.DurationSeconds = incoming.DurationSeconds
	}
	if incoming.Branch != "" {
		merged.Branch = incoming.Branch
	}
	if incoming.TriggeredBy != "" {
		merged.TriggeredBy = incoming.TriggeredBy
	}
	if incoming.URL != "" {
		merged.URL = incoming.URL
	}
	if incoming.Logs != "" {
		merged.Logs = incoming.Logs
	}
	if incoming.BuildNumber != nil {
		merged.BuildNumber = incoming.BuildNumber
	}

	return merged.WithDerivedDuration()
}

// JobRef is an upstream job descriptor returned by the job listing.
type JobRef struct {
	Name string
	URL  string
}

// Build is an upstream build descriptor. Result is the raw upstream result
// string ("SUCCESS", "FAILURE", empty while building); TriggeredBy is the
// user extracted from the build causes, empty when none was reported.
type Build struct {
	Number      int64
	Timestamp   *time.Time
	DurationMS  *int64
	Result      string
	URL         string
	TriggeredBy string
}

// WebhookBuild is the provider-agnostic shape handed to the sync engine by
// the webhook endpoints. Fields other than the identifying ones default
// when absent rather than failing the request.
type WebhookBuild struct {
	Provider     Provider
	PipelineName string
	Number       *int64
	Status       string
	Timestamp    *time.Time
	FinishedAt   *time.Time
	DurationMS   *int64
	Branch       string
	TriggeredBy  string
	URL          string
	Logs         string
}
