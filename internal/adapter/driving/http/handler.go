// Package httphandler is the HTTP driving adapter serving the REST API,
// the upstream webhooks, and the live event stream.
package httphandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
	"github.com/pipeboard/pipeboard/internal/events"
)

// Syncer is the slice of the sync engine the HTTP layer drives.
type Syncer interface {
	SyncNow(ctx context.Context) (model.SyncReport, error)
	FreshSync(ctx context.Context) (model.SyncReport, error)
	SyncFromWebhook(ctx context.Context, build model.WebhookBuild) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	runs    driven.RunStore
	syncSvc Syncer
	jenkins driven.JenkinsClient
	broker  *events.Broker
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	runs driven.RunStore,
	syncSvc Syncer,
	jenkins driven.JenkinsClient,
	broker *events.Broker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		runs:    runs,
		syncSvc: syncSvc,
		jenkins: jenkins,
		broker:  broker,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /runs", h.ListRuns)
	mux.HandleFunc("GET /runs/{id}", h.GetRun)
	mux.HandleFunc("DELETE /runs/{id}", h.DeleteRun)
	mux.HandleFunc("GET /metrics", h.GetMetrics)
	mux.HandleFunc("GET /notifications/failed", h.ListFailedNotifications)
	mux.HandleFunc("POST /jenkins/sync", h.SyncNow)
	mux.HandleFunc("POST /jenkins/sync-now", h.SyncNow)
	mux.HandleFunc("POST /jenkins/fresh-sync", h.FreshSync)
	mux.HandleFunc("POST /jenkins/jobs/{name}/build", h.TriggerBuild)
	mux.HandleFunc("POST /webhooks/jenkins", h.JenkinsWebhook)
	mux.HandleFunc("POST /webhooks/github", h.GitHubWebhook)
	mux.HandleFunc("GET /stream", h.Stream)
	mux.HandleFunc("GET /health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListRuns returns a filtered, paginated page of runs with the unpaged total.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, total, err := h.runs.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	items := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, RunListResponse{Items: items, Total: total})
}

// GetRun returns a single run by surrogate id.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

// DeleteRun removes a single run by surrogate id.
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	if err := h.runs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to delete run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMetrics returns dashboard aggregates over the filtered run set.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, err := h.runs.Metrics(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to compute metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toMetricsResponse(metrics))
}

// ListFailedNotifications returns recent failed runs, newest first,
// regardless of whether they were announced.
func (h *Handler) ListFailedNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	since, err := parseTimeParam(r, "time_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.runs.ListRecentFailures(r.Context(), limit, since)
	if err != nil {
		h.logger.Error("failed to list recent failures", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	items := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, items)
}

// SyncNow triggers a blocking manual sync and returns the report.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncSvc.SyncNow(r.Context())
	if err != nil {
		h.logger.Error("manual sync failed", "error", err)
		writeError(w, upstreamStatus(err), "sync failed: upstream unavailable")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// FreshSync clears all jenkins runs and rebuilds them from upstream.
func (h *Handler) FreshSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncSvc.FreshSync(r.Context())
	if err != nil {
		h.logger.Error("fresh sync failed", "error", err)
		writeError(w, upstreamStatus(err), "sync failed: upstream unavailable")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// TriggerBuild starts a new upstream build for the named job.
func (h *Handler) TriggerBuild(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing job name")
		return
	}

	if err := h.jenkins.TriggerBuild(r.Context(), name); err != nil {
		h.logger.Error("trigger build failed", "job", name, "error", err)
		writeError(w, upstreamStatus(err), "could not trigger build")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "job": name})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// upstreamStatus maps upstream errors onto a gateway status; anything else
// is an internal error.
func upstreamStatus(err error) int {
	var unavailable *model.UpstreamUnavailableError
	var protocol *model.UpstreamProtocolError
	if errors.As(err, &unavailable) || errors.As(err, &protocol) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// parseRunFilter builds a RunFilter from query parameters, rejecting
// malformed values.
func parseRunFilter(r *http.Request) (model.RunFilter, error) {
	var filter model.RunFilter

	limit, err := parseIntParam(r, "limit")
	if err != nil {
		return filter, err
	}
	offset, err := parseIntParam(r, "offset")
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Offset = offset

	if status := r.URL.Query().Get("status"); status != "" {
		if !model.ValidStatus(status) {
			return filter, fmt.Errorf("invalid status %q", status)
		}
		filter.Status = model.RunStatus(status)
	}

	if provider := r.URL.Query().Get("provider"); provider != "" {
		if !model.ValidProvider(provider) {
			return filter, fmt.Errorf("invalid provider %q", provider)
		}
		filter.Provider = model.Provider(provider)
	}

	filter.Query = r.URL.Query().Get("q")

	if filter.TimeFrom, err = parseTimeParam(r, "time_from"); err != nil {
		return filter, err
	}
	if filter.TimeTo, err = parseTimeParam(r, "time_to"); err != nil {
		return filter, err
	}

	return filter, nil
}

// parseIntParam reads a non-negative integer query parameter, zero when absent.
func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}

	return v, nil
}

// parseTimeParam reads an RFC3339 timestamp query parameter, nil when absent.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 timestamp", name)
	}

	return &t, nil
}
