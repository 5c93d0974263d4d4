// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
	"github.com/pipeboard/pipeboard/internal/events"
)

// Alerter is the notification gate the sync engine hands failed runs to.
type Alerter interface {
	// NotifyIfNeeded reports whether a notification was actually sent.
	NotifyIfNeeded(ctx context.Context, run model.PipelineRun) (bool, error)
}

// syncRequest represents a manual sync trigger.
type syncRequest struct {
	fresh bool
	done  chan syncResult
}

type syncResult struct {
	report model.SyncReport
	err    error
}

// SyncService orchestrates periodic Jenkins polling, webhook ingestion, and
// persistence. All poll-driven syncs run on the single Start goroutine, so
// sync cycles never overlap; webhook ingestion runs on the caller's
// goroutine and relies on the store's idempotent upsert.
type SyncService struct {
	client             driven.JenkinsClient
	runs               driven.RunStore
	alerts             Alerter
	broker             *events.Broker
	defaultTriggeredBy string
	interval           time.Duration
	syncCh             chan syncRequest
}

// NewSyncService creates a new SyncService with all required dependencies.
func NewSyncService(
	client driven.JenkinsClient,
	runs driven.RunStore,
	alerts Alerter,
	broker *events.Broker,
	defaultTriggeredBy string,
	interval time.Duration,
) *SyncService {
	return &SyncService{
		client:             client,
		runs:               runs,
		alerts:             alerts,
		broker:             broker,
		defaultTriggeredBy: defaultTriggeredBy,
		interval:           interval,
		syncCh:             make(chan syncRequest),
	}
}

// Start begins the sync loop. It runs an immediate sync, then syncs on the
// configured interval. It also listens for manual sync requests. Start
// blocks until the context is canceled.
func (s *SyncService) Start(ctx context.Context) {
	if _, err := s.SyncAll(ctx); err != nil {
		slog.Error("initial sync failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync service stopped")
			return
		case <-ticker.C:
			if _, err := s.SyncAll(ctx); err != nil {
				slog.Error("sync cycle failed", "error", err)
			}
		case req := <-s.syncCh:
			req.done <- s.handleRequest(ctx, req)
		}
	}
}

// SyncNow triggers a manual sync, bypassing the polling interval. It blocks
// until the sync completes or the context is canceled. The sync itself runs
// on the Start goroutine so it cannot overlap a ticker cycle.
func (s *SyncService) SyncNow(ctx context.Context) (model.SyncReport, error) {
	return s.request(ctx, syncRequest{done: make(chan syncResult, 1)})
}

// FreshSync discards all jenkins-provider rows and rebuilds them from
// upstream. Like SyncNow it runs on the Start goroutine and blocks until
// complete.
func (s *SyncService) FreshSync(ctx context.Context) (model.SyncReport, error) {
	return s.request(ctx, syncRequest{fresh: true, done: make(chan syncResult, 1)})
}

func (s *SyncService) request(ctx context.Context, req syncRequest) (model.SyncReport, error) {
	select {
	case s.syncCh <- req:
	case <-ctx.Done():
		return model.SyncReport{}, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.report, res.err
	case <-ctx.Done():
		return model.SyncReport{}, ctx.Err()
	}
}

func (s *SyncService) handleRequest(ctx context.Context, req syncRequest) syncResult {
	if req.fresh {
		deleted, err := s.runs.DeleteByProvider(ctx, model.ProviderJenkins)
		if err != nil {
			return syncResult{err: err}
		}
		slog.Info("cleared jenkins runs for fresh sync", "deleted", deleted)
	}

	report, err := s.SyncAll(ctx)
	return syncResult{report: report, err: err}
}

// SyncAll lists all upstream jobs and upserts their builds. A single job's
// fetch failure is logged and counted but does not abort the cycle; only a
// failed job listing makes the whole sync fail.
func (s *SyncService) SyncAll(ctx context.Context) (model.SyncReport, error) {
	start := time.Now()
	var report model.SyncReport

	jobs, err := s.client.ListJobs(ctx)
	if err != nil {
		return report, err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		jobReport, err := s.syncJob(ctx, job)
		report.Merge(jobReport)
		report.JobsSeen++
		if err != nil {
			slog.Error("job sync failed", "job", job.Name, "error", err)
			report.JobsFailed++
		}
	}

	slog.Info("sync cycle complete",
		"jobs", report.JobsSeen,
		"failed", report.JobsFailed,
		"created", report.BuildsCreated,
		"updated", report.BuildsUpdated,
		"notified", report.NotificationsSent,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return report, nil
}

// syncJob fetches and upserts all builds of one job.
func (s *SyncService) syncJob(ctx context.Context, job model.JobRef) (model.SyncReport, error) {
	var report model.SyncReport

	builds, err := s.client.ListBuilds(ctx, job.Name)
	if err != nil {
		return report, err
	}

	for _, build := range builds {
		run := s.runFromBuild(job, build)

		merged, created, err := s.runs.Upsert(ctx, run)
		if err != nil {
			slog.Error("upsert failed", "job", job.Name, "build", build.Number, "error", err)
			continue
		}
		if created {
			report.BuildsCreated++
		} else {
			report.BuildsUpdated++
		}

		s.publish(merged, created)

		if sent := s.maybeNotify(ctx, merged); sent {
			report.NotificationsSent++
		}
	}

	return report, nil
}

// SyncFromWebhook ingests one build pushed by an upstream webhook. For
// jenkins builds it attempts to enrich the sparse payload from the remote
// API first; enrichment failures are logged and the webhook data is stored
// as-is. The upsert converges with the polling path on the natural key.
func (s *SyncService) SyncFromWebhook(ctx context.Context, wb model.WebhookBuild) error {
	run := s.runFromWebhook(wb)

	if wb.Provider == model.ProviderJenkins && wb.Number != nil {
		if detail, err := s.client.GetBuild(ctx, wb.PipelineName, *wb.Number); err != nil {
			slog.Warn("webhook enrichment failed", "pipeline", wb.PipelineName, "build", *wb.Number, "error", err)
		} else if detail != nil {
			run = enrich(run, *detail)
		}
	}

	merged, created, err := s.runs.Upsert(ctx, run)
	if err != nil {
		return err
	}

	slog.Info("webhook ingested",
		"provider", merged.Provider,
		"pipeline", merged.PipelineName,
		"status", merged.Status,
		"created", created,
	)

	s.publish(merged, created)
	s.maybeNotify(ctx, merged)

	return nil
}

// maybeNotify hands a failed, not-yet-notified run to the alert gate.
func (s *SyncService) maybeNotify(ctx context.Context, run model.PipelineRun) bool {
	if run.Status != model.StatusFailure || run.Notified {
		return false
	}

	sent, err := s.alerts.NotifyIfNeeded(ctx, run)
	if err != nil {
		slog.Error("failure notification failed",
			"pipeline", run.PipelineName,
			"run_id", run.ID,
			"error", err,
		)
	}
	if sent {
		s.broker.Publish(events.Event{
			Type:        events.TypeNotificationSent,
			RunID:       run.ID,
			Provider:    run.Provider,
			Pipeline:    run.PipelineName,
			BuildNumber: run.BuildNumber,
			Status:      run.Status,
		})
	}
	return sent
}

func (s *SyncService) publish(run model.PipelineRun, created bool) {
	evType := events.TypeRunUpdated
	if created {
		evType = events.TypeRunCreated
	}
	s.broker.Publish(events.Event{
		Type:        evType,
		RunID:       run.ID,
		Provider:    run.Provider,
		Pipeline:    run.PipelineName,
		BuildNumber: run.BuildNumber,
		Status:      run.Status,
	})
}

// runFromBuild maps an upstream build descriptor onto a run. Finish time is
// derived from the start timestamp plus the reported duration.
func (s *SyncService) runFromBuild(job model.JobRef, build model.Build) model.PipelineRun {
	number := build.Number
	run := model.PipelineRun{
		Provider:     model.ProviderJenkins,
		PipelineName: job.Name,
		Status:       model.NormalizeStatus(build.Result),
		StartedAt:    build.Timestamp,
		TriggeredBy:  build.TriggeredBy,
		URL:          build.URL,
		BuildNumber:  &number,
	}
	if run.URL == "" {
		run.URL = job.URL
	}

	if build.Timestamp != nil && build.DurationMS != nil {
		finished := build.Timestamp.Add(time.Duration(*build.DurationMS) * time.Millisecond)
		run.FinishedAt = &finished
	}

	return run.WithDerivedDuration()
}

// runFromWebhook maps a webhook payload onto a run. Rows that carry no
// build number get the configured default trigger attribution; numbered
// builds leave the field to enrichment or a later poll.
func (s *SyncService) runFromWebhook(wb model.WebhookBuild) model.PipelineRun {
	run := model.PipelineRun{
		Provider:     wb.Provider,
		PipelineName: wb.PipelineName,
		Status:       model.NormalizeStatus(wb.Status),
		StartedAt:    wb.Timestamp,
		FinishedAt:   wb.FinishedAt,
		Branch:       wb.Branch,
		TriggeredBy:  wb.TriggeredBy,
		URL:          wb.URL,
		Logs:         wb.Logs,
		BuildNumber:  wb.Number,
	}

	if run.FinishedAt == nil && wb.Timestamp != nil && wb.DurationMS != nil {
		finished := wb.Timestamp.Add(time.Duration(*wb.DurationMS) * time.Millisecond)
		run.FinishedAt = &finished
	}
	if run.TriggeredBy == "" && run.BuildNumber == nil {
		run.TriggeredBy = s.defaultTriggeredBy
	}

	return run.WithDerivedDuration()
}

// enrich overlays remote build detail on a sparse webhook run. Webhook
// fields win when both are present; the remote API fills the gaps.
func enrich(run model.PipelineRun, detail model.Build) model.PipelineRun {
	if run.Status == model.StatusRunning && detail.Result != "" {
		run.Status = model.NormalizeStatus(detail.Result)
	}
	if run.StartedAt == nil {
		run.StartedAt = detail.Timestamp
	}
	if run.FinishedAt == nil && detail.Timestamp != nil && detail.DurationMS != nil {
		finished := detail.Timestamp.Add(time.Duration(*detail.DurationMS) * time.Millisecond)
		run.FinishedAt = &finished
	}
	if run.TriggeredBy == "" {
		run.TriggeredBy = detail.TriggeredBy
	}
	if run.URL == "" {
		run.URL = detail.URL
	}
	return run.WithDerivedDuration()
}
