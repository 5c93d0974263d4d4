package model

import "strings"

// Provider identifies the CI system a run was observed from.
type Provider string

const (
	ProviderJenkins Provider = "jenkins"
	ProviderGitHub  Provider = "github"
	ProviderOther   Provider = "other"
)

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailure RunStatus = "failure"
	StatusRunning RunStatus = "running"
	StatusUnknown RunStatus = "unknown"
)

// Terminal reports whether the status is final. A terminal run never goes
// back to running.
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ValidStatus reports whether s is one of the four known statuses. Used by
// the HTTP layer to reject malformed filter values.
func ValidStatus(s string) bool {
	switch RunStatus(s) {
	case StatusSuccess, StatusFailure, StatusRunning, StatusUnknown:
		return true
	}
	return false
}

// ValidProvider reports whether p is a known provider value.
func ValidProvider(p string) bool {
	switch Provider(p) {
	case ProviderJenkins, ProviderGitHub, ProviderOther:
		return true
	}
	return false
}

// NormalizeStatus maps the status vocabulary of the upstream systems onto
// RunStatus. Jenkins reports "SUCCESS"/"FAILURE"/"ABORTED"/"UNSTABLE" (or an
// empty result while a build is still executing); webhook senders use looser
// synonyms. Aborted and unstable builds count as failures: they are terminal
// and not successful.
func NormalizeStatus(raw string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "passed", "pass", "ok", "green":
		return StatusSuccess
	case "failure", "failed", "error", "errored", "red", "aborted", "unstable", "cancelled", "canceled":
		return StatusFailure
	case "", "running", "building", "in_progress", "queued", "pending":
		return StatusRunning
	}
	return StatusUnknown
}
