package model

// SyncReport summarizes one reconciliation pass. Per-job fetch failures are
// aggregated here instead of aborting the pass.
type SyncReport struct {
	JobsSeen          int `json:"jobs_seen"`
	JobsFailed        int `json:"jobs_failed"`
	BuildsCreated     int `json:"builds_created"`
	BuildsUpdated     int `json:"builds_updated"`
	NotificationsSent int `json:"notifications_sent"`
}

// Merge adds the counters of other into the report.
func (r *SyncReport) Merge(other SyncReport) {
	r.JobsSeen += other.JobsSeen
	r.JobsFailed += other.JobsFailed
	r.BuildsCreated += other.BuildsCreated
	r.BuildsUpdated += other.BuildsUpdated
	r.NotificationsSent += other.NotificationsSent
}
