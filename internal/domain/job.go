package domain

// Document ingestion statuses reported by the backend.
const (
	StatusQueued = "queued"
	StatusReady  = "ready"
)

// Job is a server-side ingestion task observed by the client.
type Job struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
}

// InProgress reports whether the job still needs polling.
func (j Job) InProgress() bool {
	return j.Status == StatusQueued
}
