package model

import "time"

// TaskStatus is the lifecycle status of a generation task
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusTimedOut   TaskStatus = "timedOut"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal returns true if no further transition is allowed
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimedOut, TaskStatusCancelled:
		return true
	}
	return false
}

// Error codes carried by terminal events
const (
	ErrCodeSubmissionRejected = "SubmissionRejected"
	ErrCodeTaskFailed         = "TaskFailed"
	ErrCodeTimeout            = "Timeout"
)

// TaskHandle is what a provider hands back for a submitted job
type TaskHandle struct {
	TaskID      string            `json:"taskId"`
	Request     GenerationRequest `json:"request"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// TaskState is the mutable record of one in-flight task. TaskID is the
// server-side id subscribers use, not the provider's id.
type TaskState struct {
	TaskID      string            `json:"taskId"`
	Kind        Kind              `json:"kind"`
	Status      TaskStatus        `json:"status"`
	Progress    int               `json:"progress"`
	ResultURL   string            `json:"resultUrl,omitempty"`
	Error       string            `json:"error,omitempty"`
	Message     string            `json:"message,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

// Event returns the wire form of the state
func (s TaskState) Event() Event {
	return Event{
		TaskID:    s.TaskID,
		Progress:  s.Progress,
		Status:    s.Status,
		ResultURL: s.ResultURL,
		Error:     s.Error,
		Message:   s.Message,
		Meta:      s.Meta,
	}
}

// Event is pushed to subscribers on every state change
type Event struct {
	TaskID    string            `json:"taskId"`
	Progress  int               `json:"progress"`
	Status    TaskStatus        `json:"status"`
	ResultURL string            `json:"resultUrl,omitempty"`
	Error     string            `json:"error,omitempty"`
	Message   string            `json:"message,omitempty"`
	Cached    bool              `json:"cached,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// CacheEntry maps a fingerprint to a produced artifact
type CacheEntry struct {
	Fingerprint string            `json:"fingerprint"`
	ArtifactURL string            `json:"artifactUrl"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Expired reports whether the entry is older than ttl at now
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) >= ttl
}
