// Package slack implements the Notifier port against a Slack incoming
// webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Notifier)(nil)

// Notifier posts plain-text messages to a Slack incoming webhook URL.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack webhook notifier with a bounded request
// timeout.
func NewNotifier(webhookURL string, timeout time.Duration) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewNotifierWithHTTPClient creates a Notifier with a custom http.Client.
// This constructor is intended for testing.
func NewNotifierWithHTTPClient(httpClient *http.Client, webhookURL string) *Notifier {
	return &Notifier{webhookURL: webhookURL, httpClient: httpClient}
}

// Post delivers one message. Any transport or status failure is reported as
// a NotificationDeliveryError so callers can roll back their claim.
func (n *Notifier) Post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return &model.NotificationDeliveryError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &model.NotificationDeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &model.NotificationDeliveryError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &model.NotificationDeliveryError{Err: fmt.Errorf("webhook answered status %d", resp.StatusCode)}
	}

	return nil
}
