package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store lookups and deletes for missing rows.
var ErrNotFound = errors.New("not found")

// UpstreamUnavailableError indicates the CI server could not be reached
// (network failure, timeout, or a 5xx). The caller retries on the next
// scheduled cycle.
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable during %s: %v", e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// UpstreamProtocolError indicates the CI server answered with an unexpected
// status or a response shape that could not be decoded. The affected
// job/build is skipped and the sync continues.
type UpstreamProtocolError struct {
	Op     string
	Detail string
	Err    error
}

func (e *UpstreamProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream protocol error during %s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("upstream protocol error during %s: %s", e.Op, e.Detail)
}

func (e *UpstreamProtocolError) Unwrap() error { return e.Err }

// NotificationDeliveryError indicates a failure alert could not be posted.
// The notified flag is rolled back so a later cycle retries delivery.
type NotificationDeliveryError struct {
	Err error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("notification delivery failed: %v", e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }
