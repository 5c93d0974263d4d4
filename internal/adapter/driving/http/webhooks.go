package httphandler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
)

// jenkinsWebhookPayload is the shape pushed by the Jenkins notification
// plugin. Most fields are optional; the job identity comes from the name or
// from the build's full_url.
type jenkinsWebhookPayload struct {
	Name  string `json:"name"`
	Build struct {
		FullURL   string `json:"full_url"`
		Number    *int64 `json:"number"`
		Phase     string `json:"phase"`
		Status    string `json:"status"`
		Timestamp *int64 `json:"timestamp"` // epoch milliseconds
		Duration  *int64 `json:"duration"`  // milliseconds
		Log       string `json:"log"`
		SCM       struct {
			Branch string `json:"branch"`
		} `json:"scm"`
	} `json:"build"`
}

// githubWebhookPayload is the flat shape pushed for github-provider runs.
type githubWebhookPayload struct {
	PipelineName string `json:"pipeline_name"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at"`
	Branch       string `json:"branch"`
	TriggeredBy  string `json:"triggered_by"`
	URL          string `json:"url"`
	Logs         string `json:"logs"`
	BuildNumber  *int64 `json:"build_number"`
}

// JenkinsWebhook ingests a build notification pushed by Jenkins. Ingestion
// is synchronous; 202 means the run was persisted.
func (h *Handler) JenkinsWebhook(w http.ResponseWriter, r *http.Request) {
	var payload jenkinsWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := payload.Name
	if name == "" {
		name = jobNameFromURL(payload.Build.FullURL)
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing job name")
		return
	}

	build := model.WebhookBuild{
		Provider:     model.ProviderJenkins,
		PipelineName: name,
		Number:       payload.Build.Number,
		Status:       payload.Build.Status,
		DurationMS:   payload.Build.Duration,
		Branch:       shortBranch(payload.Build.SCM.Branch),
		URL:          payload.Build.FullURL,
		Logs:         payload.Build.Log,
	}
	if payload.Build.Timestamp != nil {
		t := time.UnixMilli(*payload.Build.Timestamp).UTC()
		build.Timestamp = &t
	}

	if err := h.syncSvc.SyncFromWebhook(r.Context(), build); err != nil {
		h.logger.Error("jenkins webhook ingestion failed", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GitHubWebhook ingests a run pushed by a GitHub-side sender.
func (h *Handler) GitHubWebhook(w http.ResponseWriter, r *http.Request) {
	var payload githubWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PipelineName == "" {
		writeError(w, http.StatusBadRequest, "missing pipeline_name")
		return
	}

	started, err := parseOptionalTime(payload.StartedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid started_at: expected RFC3339 timestamp")
		return
	}
	finished, err := parseOptionalTime(payload.FinishedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid finished_at: expected RFC3339 timestamp")
		return
	}

	build := model.WebhookBuild{
		Provider:     model.ProviderGitHub,
		PipelineName: payload.PipelineName,
		Number:       payload.BuildNumber,
		Status:       payload.Status,
		Timestamp:    started,
		FinishedAt:   finished,
		Branch:       payload.Branch,
		TriggeredBy:  payload.TriggeredBy,
		URL:          payload.URL,
		Logs:         payload.Logs,
	}

	if err := h.syncSvc.SyncFromWebhook(r.Context(), build); err != nil {
		h.logger.Error("github webhook ingestion failed", "pipeline", payload.PipelineName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// jobNameFromURL extracts the job name from a Jenkins build URL like
// http://host/job/Deploy/18/.
func jobNameFromURL(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "job" && i+1 < len(segments) {
			name, err := url.PathUnescape(segments[i+1])
			if err != nil {
				return segments[i+1]
			}
			return name
		}
	}

	return ""
}

// shortBranch strips the origin/ prefix Jenkins reports on SCM branches.
func shortBranch(branch string) string {
	return strings.TrimPrefix(branch, "origin/")
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
