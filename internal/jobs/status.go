// Package jobs defines the lifecycle model of background jobs as observed by
// the dashboard: statuses, which of them are terminal, and how they map to
// display classes.
package jobs

// Status represents the lifecycle status of a job as reported by the backend
type Status string

const (
	// StatusPending means the job is queued and has not started yet
	StatusPending Status = "pending"

	// StatusProcessing means the job is currently running
	StatusProcessing Status = "processing"

	// StatusCompleted means the job finished successfully
	StatusCompleted Status = "completed"

	// StatusCompletedPartial means the job finished but some of its work failed
	StatusCompletedPartial Status = "completed_partial"

	// StatusFailed means the job finished with an error
	StatusFailed Status = "failed"

	// StatusCancelled means the job was aborted before finishing
	StatusCancelled Status = "cancelled"
)

// Class is the display classification of a status
type Class string

const (
	// ClassQueued is used for jobs waiting to run
	ClassQueued Class = "queued"
	// ClassRunning is used for jobs in progress
	ClassRunning Class = "running"
	// ClassSuccess is used for successfully completed jobs
	ClassSuccess Class = "success"
	// ClassPartialSuccess is used for jobs that completed with partial results
	ClassPartialSuccess Class = "partial-success"
	// ClassFailure is used for failed jobs
	ClassFailure Class = "failure"
	// ClassAborted is used for cancelled jobs
	ClassAborted Class = "aborted"
)

var classes = map[Status]Class{
	StatusPending:          ClassQueued,
	StatusProcessing:       ClassRunning,
	StatusCompleted:        ClassSuccess,
	StatusCompletedPartial: ClassPartialSuccess,
	StatusFailed:           ClassFailure,
	StatusCancelled:        ClassAborted,
}

// AllStatuses returns every known status in lifecycle order
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusProcessing,
		StatusCompleted,
		StatusCompletedPartial,
		StatusFailed,
		StatusCancelled,
	}
}

// IsTerminal reports whether no further status change is expected after s.
// Unknown statuses are treated as non-terminal.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCompletedPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal is the method form of IsTerminal
func (s Status) IsTerminal() bool {
	return IsTerminal(s)
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	_, ok := classes[s]
	return ok
}

// Classify maps a status to its display class. Unknown statuses classify as
// queued, the same as a job the backend has not picked up yet.
func Classify(s Status) Class {
	if c, ok := classes[s]; ok {
		return c
	}
	return ClassQueued
}

// CanTransition reports whether a job may move from one status to another.
// Terminal statuses never change; any other move is accepted because the
// backend is the authority on which transition happened.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return !IsTerminal(from)
}

// ParseStatus normalizes a raw status string. It returns false for values
// outside the known set; the normalized string is still returned so callers
// can keep displaying it.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}
