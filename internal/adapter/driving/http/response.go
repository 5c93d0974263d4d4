package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RunResponse is the JSON representation of a pipeline run.
type RunResponse struct {
	ID              int64    `json:"id"`
	Provider        string   `json:"provider"`
	PipelineName    string   `json:"pipeline_name"`
	Status          string   `json:"status"`
	StartedAt       *string  `json:"started_at"`
	FinishedAt      *string  `json:"finished_at"`
	DurationSeconds *float64 `json:"duration_seconds"`
	Branch          string   `json:"branch"`
	TriggeredBy     string   `json:"triggered_by"`
	URL             string   `json:"url"`
	Logs            string   `json:"logs"`
	BuildNumber     *int64   `json:"build_number"`
	Notified        bool     `json:"notified"`
}

// RunListResponse is a page of runs plus the unpaged match count.
type RunListResponse struct {
	Items []RunResponse `json:"items"`
	Total int64         `json:"total"`
}

// MetricsResponse is the JSON representation of dashboard aggregates.
type MetricsResponse struct {
	TotalRuns       int64    `json:"total_runs"`
	SuccessCount    int64    `json:"success_count"`
	FailureCount    int64    `json:"failure_count"`
	RunningCount    int64    `json:"running_count"`
	SuccessRate     float64  `json:"success_rate"`
	AvgDurationSecs *float64 `json:"avg_duration_seconds"`
	LastStatus      string   `json:"last_status"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toRunResponse converts a domain PipelineRun to its JSON response representation.
func toRunResponse(run model.PipelineRun) RunResponse {
	return RunResponse{
		ID:              run.ID,
		Provider:        string(run.Provider),
		PipelineName:    run.PipelineName,
		Status:          string(run.Status),
		StartedAt:       formatTimePtr(run.StartedAt),
		FinishedAt:      formatTimePtr(run.FinishedAt),
		DurationSeconds: run.DurationSeconds,
		Branch:          run.Branch,
		TriggeredBy:     run.TriggeredBy,
		URL:             run.URL,
		Logs:            run.Logs,
		BuildNumber:     run.BuildNumber,
		Notified:        run.Notified,
	}
}

// toMetricsResponse converts domain Metrics to the JSON representation.
func toMetricsResponse(m model.Metrics) MetricsResponse {
	return MetricsResponse{
		TotalRuns:       m.TotalRuns,
		SuccessCount:    m.SuccessCount,
		FailureCount:    m.FailureCount,
		RunningCount:    m.RunningCount,
		SuccessRate:     m.SuccessRate,
		AvgDurationSecs: m.AvgDurationSecs,
		LastStatus:      string(m.LastStatus),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
