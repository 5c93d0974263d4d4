package driven

import (
	"context"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
)

// RunStore defines the driven port for pipeline run persistence. It is the
// single source of truth for observed builds.
type RunStore interface {
	// Upsert inserts the run or merges it into the existing row with the
	// same (provider, pipeline_name, build_number). It returns the row as
	// persisted and whether it was newly created. Concurrent upserts of the
	// same key are serialized by the store.
	Upsert(ctx context.Context, run model.PipelineRun) (model.PipelineRun, bool, error)

	GetByID(ctx context.Context, id int64) (*model.PipelineRun, error)
	List(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, int64, error)
	Metrics(ctx context.Context, filter model.RunFilter) (model.Metrics, error)
	// ListRecentFailures returns failed runs newest-first, independent of
	// their notified flag. since may be nil.
	ListRecentFailures(ctx context.Context, limit int, since *time.Time) ([]model.PipelineRun, error)

	// Delete removes a run by surrogate id, returning model.ErrNotFound for
	// missing rows.
	Delete(ctx context.Context, id int64) error
	// DeleteByProvider removes all rows for a provider and returns the count.
	DeleteByProvider(ctx context.Context, provider model.Provider) (int64, error)

	// ClaimNotification atomically flips notified from false to true for the
	// given run. It returns false when the flag was already set, in which
	// case the caller must not send.
	ClaimNotification(ctx context.Context, id int64) (bool, error)
	// ReleaseNotification rolls the notified flag back to false after a
	// failed delivery so a later cycle can retry.
	ReleaseNotification(ctx context.Context, id int64) error
}
