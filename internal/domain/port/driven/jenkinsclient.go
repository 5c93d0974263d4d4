package driven

import (
	"context"

	"github.com/pipeboard/pipeboard/internal/domain/model"
)

// JenkinsClient defines the driven port for talking to the upstream CI
// server. Empty job or build lists are valid successful results. Failures
// are reported as model.UpstreamUnavailableError (network/timeout/5xx) or
// model.UpstreamProtocolError (unexpected response shape).
type JenkinsClient interface {
	ListJobs(ctx context.Context) ([]model.JobRef, error)
	ListBuilds(ctx context.Context, jobName string) ([]model.Build, error)
	// GetBuild fetches a single build's details. Returns nil, nil when the
	// build does not exist upstream.
	GetBuild(ctx context.Context, jobName string, number int64) (*model.Build, error)
	// TriggerBuild starts a new build for the job. This is a state-mutating
	// call and requires a CSRF crumb; the client refreshes a rejected crumb
	// once before failing.
	TriggerBuild(ctx context.Context, jobName string) error
}
