package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ Alerter = (*AlertService)(nil)

// AlertService is the failure notification gate. Each failed run is
// announced at most once: the store's claim is an atomic flag flip, and a
// failed delivery rolls the claim back so a later cycle can retry.
type AlertService struct {
	runs         driven.RunStore
	notifier     driven.Notifier
	internalHost string
	publicHost   string
}

// NewAlertService creates the notification gate. A nil notifier disables it
// entirely; runs are then left unclaimed so alerting can start after a
// restart with delivery configured. internalHost and publicHost rewrite
// build links from the address the poller uses to the one humans can reach.
func NewAlertService(runs driven.RunStore, notifier driven.Notifier, internalHost, publicHost string) *AlertService {
	return &AlertService{
		runs:         runs,
		notifier:     notifier,
		internalHost: strings.TrimRight(internalHost, "/"),
		publicHost:   strings.TrimRight(publicHost, "/"),
	}
}

// NotifyIfNeeded announces a failed run unless it was already announced.
// Reports whether a notification went out. Returns a
// NotificationDeliveryError when delivery failed; the claim is rolled back
// in that case.
func (a *AlertService) NotifyIfNeeded(ctx context.Context, run model.PipelineRun) (bool, error) {
	if run.Status != model.StatusFailure {
		return false, nil
	}
	if a.notifier == nil {
		return false, nil
	}

	claimed, err := a.runs.ClaimNotification(ctx, run.ID)
	if err != nil {
		return false, fmt.Errorf("claim notification for run %d: %w", run.ID, err)
	}
	if !claimed {
		return false, nil
	}

	if err := a.notifier.Post(ctx, a.message(run)); err != nil {
		if relErr := a.runs.ReleaseNotification(ctx, run.ID); relErr != nil {
			slog.Error("notification claim rollback failed", "run_id", run.ID, "error", relErr)
		}
		return false, err
	}

	slog.Info("failure notification sent",
		"pipeline", run.PipelineName,
		"run_id", run.ID,
	)

	return true, nil
}

// message renders the Slack text for one failed run.
func (a *AlertService) message(run model.PipelineRun) string {
	var b strings.Builder

	b.WriteString(":rotating_light: Pipeline failed: *")
	b.WriteString(run.PipelineName)
	b.WriteString("*")
	if run.BuildNumber != nil {
		fmt.Fprintf(&b, " #%d", *run.BuildNumber)
	}
	if run.Branch != "" {
		b.WriteString("\nBranch: ")
		b.WriteString(run.Branch)
	}
	if run.TriggeredBy != "" {
		b.WriteString("\nTriggered by: ")
		b.WriteString(run.TriggeredBy)
	}
	if url := a.buildLink(run); url != "" {
		b.WriteString("\n")
		b.WriteString(url)
	}

	return b.String()
}

// buildLink rewrites the stored build URL from the internal upstream host to
// the public one and makes sure it points at the concrete build.
func (a *AlertService) buildLink(run model.PipelineRun) string {
	url := run.URL
	if url == "" {
		return ""
	}

	if a.internalHost != "" && a.publicHost != "" && a.internalHost != a.publicHost {
		url = strings.Replace(url, a.internalHost, a.publicHost, 1)
	}

	if run.BuildNumber != nil {
		suffix := fmt.Sprintf("/%d/", *run.BuildNumber)
		if !strings.HasSuffix(url, suffix) {
			url = strings.TrimRight(url, "/") + suffix
		}
	}

	return url
}
