package domain

import "strings"

// ProviderKind distinguishes providers that answer in one call from those that
// hand back a job to poll.
type ProviderKind string

const (
	ProviderKindSync  ProviderKind = "sync"
	ProviderKindAsync ProviderKind = "async"
)

// JobStatus enumerates the normalized generation job lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further polling is required.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// NormalizeJobStatus maps provider specific status words onto JobStatus.
// Unknown words are treated as still pending.
func NormalizeJobStatus(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "completed", "complete":
		return JobStatusSucceeded
	case "failed", "failure", "error", "canceled", "cancelled", "aborted":
		return JobStatusFailed
	default:
		return JobStatusPending
	}
}

// JobResult is the uniform outcome of a poll. ImageURL is only set when the
// job succeeded and Reason only when it failed.
type JobResult struct {
	Status   JobStatus
	ImageURL string
	Reason   string
}

// Pending returns a non-terminal result.
func Pending() JobResult {
	return JobResult{Status: JobStatusPending}
}

// Succeeded returns a terminal result pointing at the generated image.
func Succeeded(imageURL string) JobResult {
	return JobResult{Status: JobStatusSucceeded, ImageURL: imageURL}
}

// Failed returns a terminal failure carrying the provider's reason.
func Failed(reason string) JobResult {
	return JobResult{Status: JobStatusFailed, Reason: reason}
}

// JobHandle identifies a submitted generation request. Synchronous providers
// fill Result at submission time; asynchronous ones leave it nil until polled.
type JobHandle struct {
	Provider string
	ID       string
	Kind     ProviderKind
	Result   *JobResult
}

// Resolved reports whether the handle already carries a terminal result.
func (h JobHandle) Resolved() bool {
	return h.Result != nil && h.Result.Status.IsTerminal()
}
