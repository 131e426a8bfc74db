package jobs

import "time"

const shortIDLength = 8

// Job is the dashboard's view of one background job
type Job struct {
	ID            string     `json:"id"`
	Type          string     `json:"job_type,omitempty"`
	Status        Status     `json:"status"`
	Progress      int        `json:"progress"`
	StatusMessage string     `json:"status_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ShortID returns the abbreviated job ID used in notifications
func (j Job) ShortID() string {
	return ShortID(j.ID)
}

// Consistent reports whether CompletedAt is set exactly when the status is terminal
func (j Job) Consistent() bool {
	return (j.CompletedAt != nil) == j.Status.IsTerminal()
}

// ShortID abbreviates a job ID to its first eight characters
func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// ClampProgress bounds a progress value to the 0-100 range
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
