package application

import (
	"context"
	"sync"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
)

// mockRunStore is an in-memory RunStore with the real store's merge and
// claim semantics, good enough for exercising the services.
type mockRunStore struct {
	mu     sync.Mutex
	nextID int64
	runs   []model.PipelineRun

	upsertErr error
}

var _ driven.RunStore = (*mockRunStore)(nil)

func newMockRunStore() *mockRunStore {
	return &mockRunStore{nextID: 1}
}

func (m *mockRunStore) Upsert(_ context.Context, run model.PipelineRun) (model.PipelineRun, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return model.PipelineRun{}, false, m.upsertErr
	}

	if run.BuildNumber != nil {
		for i, existing := range m.runs {
			if existing.Provider == run.Provider &&
				existing.PipelineName == run.PipelineName &&
				existing.BuildNumber != nil &&
				*existing.BuildNumber == *run.BuildNumber {
				merged := model.Merge(existing, run)
				m.runs[i] = merged
				return merged, false, nil
			}
		}
	}

	run.ID = m.nextID
	m.nextID++
	run.Notified = false
	run = run.WithDerivedDuration()
	m.runs = append(m.runs, run)
	return run, true, nil
}

func (m *mockRunStore) GetByID(_ context.Context, id int64) (*model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, nil
}

func (m *mockRunStore) List(_ context.Context, _ model.RunFilter) ([]model.PipelineRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PipelineRun, len(m.runs))
	copy(out, m.runs)
	return out, int64(len(out)), nil
}

func (m *mockRunStore) Metrics(_ context.Context, _ model.RunFilter) (model.Metrics, error) {
	return model.Metrics{}, nil
}

func (m *mockRunStore) ListRecentFailures(_ context.Context, _ int, _ *time.Time) ([]model.PipelineRun, error) {
	return nil, nil
}

func (m *mockRunStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == id {
			m.runs = append(m.runs[:i], m.runs[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *mockRunStore) DeleteByProvider(_ context.Context, provider model.Provider) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []model.PipelineRun
	var deleted int64
	for _, r := range m.runs {
		if r.Provider == provider {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return deleted, nil
}

func (m *mockRunStore) ClaimNotification(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == id && !r.Notified {
			m.runs[i].Notified = true
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRunStore) ReleaseNotification(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == id {
			m.runs[i].Notified = false
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *mockRunStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *mockRunStore) byID(id int64) (model.PipelineRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			return r, true
		}
	}
	return model.PipelineRun{}, false
}

// mockJenkinsClient serves canned jobs and builds, with per-job error
// injection.
type mockJenkinsClient struct {
	mu        sync.Mutex
	jobs      []model.JobRef
	builds    map[string][]model.Build
	jobErrs   map[string]error
	listErr   error
	triggered []string
}

var _ driven.JenkinsClient = (*mockJenkinsClient)(nil)

func newMockJenkinsClient() *mockJenkinsClient {
	return &mockJenkinsClient{
		builds:  make(map[string][]model.Build),
		jobErrs: make(map[string]error),
	}
}

func (m *mockJenkinsClient) addJob(name string, builds ...model.Build) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, model.JobRef{Name: name, URL: "http://jenkins:8080/job/" + name + "/"})
	m.builds[name] = builds
}

func (m *mockJenkinsClient) ListJobs(_ context.Context) ([]model.JobRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.jobs, nil
}

func (m *mockJenkinsClient) ListBuilds(_ context.Context, jobName string) ([]model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.jobErrs[jobName]; err != nil {
		return nil, err
	}
	return m.builds[jobName], nil
}

func (m *mockJenkinsClient) GetBuild(_ context.Context, jobName string, number int64) (*model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.jobErrs[jobName]; err != nil {
		return nil, err
	}
	for _, b := range m.builds[jobName] {
		if b.Number == number {
			build := b
			return &build, nil
		}
	}
	return nil, nil
}

func (m *mockJenkinsClient) TriggerBuild(_ context.Context, jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = append(m.triggered, jobName)
	return nil
}

// mockNotifier records posted messages and can fail on demand.
type mockNotifier struct {
	mu      sync.Mutex
	posts   []string
	postErr error
}

var _ driven.Notifier = (*mockNotifier)(nil)

func (m *mockNotifier) Post(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return m.postErr
	}
	m.posts = append(m.posts, text)
	return nil
}

func (m *mockNotifier) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.posts))
	copy(out, m.posts)
	return out
}
