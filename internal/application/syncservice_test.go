package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/events"
)

func newTestSyncService(client *mockJenkinsClient, store *mockRunStore, notifier *mockNotifier) *SyncService {
	alerts := NewAlertService(store, notifier, "http://jenkins:8080", "https://ci.example.com")
	return NewSyncService(client, store, alerts, events.NewBroker(), "unknown", time.Minute)
}

func int64p(v int64) *int64 { return &v }

func timep(t time.Time) *time.Time { return &t }

func TestSyncService_SyncAll(t *testing.T) {
	started := time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC)

	client := newMockJenkinsClient()
	client.addJob("Deploy",
		model.Build{Number: 18, Timestamp: timep(started), DurationMS: int64p(125000), Result: "FAILURE", URL: "http://jenkins:8080/job/Deploy/18/", TriggeredBy: "alice"},
		model.Build{Number: 19, Timestamp: timep(started.Add(time.Hour))},
	)
	client.addJob("Build",
		model.Build{Number: 3, Timestamp: timep(started), DurationMS: int64p(30000), Result: "SUCCESS", URL: "http://jenkins:8080/job/Build/3/"},
	)

	store := newMockRunStore()
	notifier := &mockNotifier{}
	svc := newTestSyncService(client, store, notifier)

	report, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.JobsSeen)
	assert.Equal(t, 0, report.JobsFailed)
	assert.Equal(t, 3, report.BuildsCreated)
	assert.Equal(t, 0, report.BuildsUpdated)
	assert.Equal(t, 1, report.NotificationsSent)
	assert.Equal(t, 3, store.count())

	runs, _, err := store.List(context.Background(), model.RunFilter{})
	require.NoError(t, err)

	var failed model.PipelineRun
	for _, r := range runs {
		if r.Status == model.StatusFailure {
			failed = r
		}
	}
	assert.Equal(t, "Deploy", failed.PipelineName)
	require.NotNil(t, failed.DurationSeconds)
	assert.InDelta(t, 125.0, *failed.DurationSeconds, 0.001)
	assert.True(t, failed.Notified)

	// Build 19 has no result yet and stays running.
	var running int
	for _, r := range runs {
		if r.Status == model.StatusRunning {
			running++
		}
	}
	assert.Equal(t, 1, running)
}

func TestSyncService_SyncAllTwiceIsIdempotent(t *testing.T) {
	started := time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC)

	client := newMockJenkinsClient()
	client.addJob("Deploy",
		model.Build{Number: 18, Timestamp: timep(started), DurationMS: int64p(125000), Result: "FAILURE", URL: "http://jenkins:8080/job/Deploy/18/"},
	)

	store := newMockRunStore()
	notifier := &mockNotifier{}
	svc := newTestSyncService(client, store, notifier)

	_, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	report, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, store.count())
	assert.Equal(t, 0, report.BuildsCreated)
	assert.Equal(t, 1, report.BuildsUpdated)
	assert.Equal(t, 0, report.NotificationsSent)
	assert.Len(t, notifier.sent(), 1)
}

func TestSyncService_SyncAllPartialFailure(t *testing.T) {
	client := newMockJenkinsClient()
	client.addJob("Broken")
	client.addJob("Build", model.Build{Number: 1, Result: "SUCCESS"})
	client.jobErrs["Broken"] = &model.UpstreamUnavailableError{Op: "list builds", Err: errors.New("timeout")}

	store := newMockRunStore()
	svc := newTestSyncService(client, store, &mockNotifier{})

	report, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.JobsSeen)
	assert.Equal(t, 1, report.JobsFailed)
	assert.Equal(t, 1, report.BuildsCreated)
	assert.Equal(t, 1, store.count())
}

func TestSyncService_SyncAllListJobsFailure(t *testing.T) {
	client := newMockJenkinsClient()
	client.listErr = &model.UpstreamUnavailableError{Op: "list jobs", Err: errors.New("connection refused")}

	svc := newTestSyncService(client, newMockRunStore(), &mockNotifier{})

	_, err := svc.SyncAll(context.Background())
	var unavailable *model.UpstreamUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestSyncService_SyncNowAndFreshSync(t *testing.T) {
	client := newMockJenkinsClient()
	client.addJob("Deploy", model.Build{Number: 1, Result: "SUCCESS"})

	store := newMockRunStore()
	svc := newTestSyncService(client, store, &mockNotifier{})

	// Seed a github row that a fresh sync must keep.
	_, _, err := store.Upsert(context.Background(), model.PipelineRun{
		Provider:     model.ProviderGitHub,
		PipelineName: "ci",
		Status:       model.StatusSuccess,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	report, err := svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.JobsSeen)

	report, err = svc.FreshSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.BuildsCreated)

	runs, _, err := store.List(ctx, model.RunFilter{})
	require.NoError(t, err)

	var github int
	for _, r := range runs {
		if r.Provider == model.ProviderGitHub {
			github++
		}
	}
	assert.Equal(t, 1, github)
}

func TestSyncService_SyncFromWebhook_GitHubDefaultsTrigger(t *testing.T) {
	store := newMockRunStore()
	svc := newTestSyncService(newMockJenkinsClient(), store, &mockNotifier{})

	err := svc.SyncFromWebhook(context.Background(), model.WebhookBuild{
		Provider:     model.ProviderGitHub,
		PipelineName: "ci",
		Status:       "passed",
		Branch:       "main",
	})
	require.NoError(t, err)

	runs, _, err := store.List(context.Background(), model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.StatusSuccess, runs[0].Status)
	assert.Equal(t, "unknown", runs[0].TriggeredBy)
	assert.Nil(t, runs[0].BuildNumber)
}

func TestSyncService_SyncFromWebhook_EnrichesFromUpstream(t *testing.T) {
	started := time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC)

	client := newMockJenkinsClient()
	client.addJob("Deploy",
		model.Build{Number: 18, Timestamp: timep(started), DurationMS: int64p(125000), Result: "FAILURE", URL: "http://jenkins:8080/job/Deploy/18/", TriggeredBy: "bob"},
	)

	store := newMockRunStore()
	notifier := &mockNotifier{}
	svc := newTestSyncService(client, store, notifier)

	err := svc.SyncFromWebhook(context.Background(), model.WebhookBuild{
		Provider:     model.ProviderJenkins,
		PipelineName: "Deploy",
		Number:       int64p(18),
		Status:       "FAILURE",
	})
	require.NoError(t, err)

	runs, _, err := store.List(context.Background(), model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "bob", run.TriggeredBy)
	require.NotNil(t, run.StartedAt)
	assert.Equal(t, started, *run.StartedAt)
	require.NotNil(t, run.DurationSeconds)
	assert.InDelta(t, 125.0, *run.DurationSeconds, 0.001)
	assert.Len(t, notifier.sent(), 1)
}

func TestSyncService_WebhookThenPollConvergesToOneRow(t *testing.T) {
	started := time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC)

	client := newMockJenkinsClient()
	client.addJob("Deploy",
		model.Build{Number: 18, Timestamp: timep(started), DurationMS: int64p(125000), Result: "FAILURE", URL: "http://jenkins:8080/job/Deploy/18/", TriggeredBy: "alice"},
	)

	store := newMockRunStore()
	notifier := &mockNotifier{}
	svc := newTestSyncService(client, store, notifier)

	err := svc.SyncFromWebhook(context.Background(), model.WebhookBuild{
		Provider:     model.ProviderJenkins,
		PipelineName: "Deploy",
		Number:       int64p(18),
		Status:       "FAILURE",
		URL:          "http://jenkins:8080/job/Deploy/18/",
	})
	require.NoError(t, err)

	_, err = svc.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, store.count())
	// The webhook already claimed the notification; the poll must not
	// produce a second one.
	assert.Len(t, notifier.sent(), 1)
}

func TestSyncService_PublishesEvents(t *testing.T) {
	client := newMockJenkinsClient()
	client.addJob("Deploy", model.Build{Number: 1, Result: "SUCCESS"})

	store := newMockRunStore()
	broker := events.NewBroker()
	defer broker.Close()
	alerts := NewAlertService(store, &mockNotifier{}, "", "")
	svc := NewSyncService(client, store, alerts, broker, "unknown", time.Minute)

	ch, cancel := broker.Subscribe()
	defer cancel()

	_, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, events.TypeRunCreated, ev.Type)
	assert.Equal(t, "Deploy", ev.Pipeline)
	assert.Equal(t, model.StatusSuccess, ev.Status)

	_, err = svc.SyncAll(context.Background())
	require.NoError(t, err)

	ev = <-ch
	assert.Equal(t, events.TypeRunUpdated, ev.Type)
}
