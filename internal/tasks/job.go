package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// JobKind distinguishes the two pipelines a session can run.
type JobKind string

const (
	KindImport JobKind = "import"
	KindExport JobKind = "export"
)

// ParseJobKind validates a kind read from a route or flag.
func ParseJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case KindImport, KindExport:
		return JobKind(s), nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// JobStatus is the lifecycle state reported for a (session, kind) pair.
type JobStatus string

const (
	StatusIdle      JobStatus = "idle"
	StatusRunning   JobStatus = "running"
	StatusSuccess   JobStatus = "success"
	StatusError     JobStatus = "error"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status ends a job.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ErrCancelled is returned by the executor when a job's context is cancelled between images.
var ErrCancelled = errors.New("job cancelled")

// JobPayload carries the arguments of a submitted job.
type JobPayload struct {
	SessionID int64 `json:"sessionId"`
}

// Job is a handle to a submitted job.
type Job struct {
	ID        string
	Kind      JobKind
	SessionID int64
	StartedAt time.Time

	done chan struct{}
}

// Done is closed once the job has recorded its terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func jobID(kind JobKind, sessionID int64) string {
	return fmt.Sprintf("%s-%d", kind, sessionID)
}

// JobState is what callers observe about a (session, kind) pair.
type JobState struct {
	ID        string
	Kind      JobKind
	SessionID int64
	Status    JobStatus
	Message   string
	UpdatedAt time.Time
}

type jobStateJSON struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	SessionID int64     `json:"sessionId"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt string    `json:"updatedAt"`
}

// MarshalJSON writes UpdatedAt as an RFC 3339 UTC timestamp with millisecond precision.
func (s JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobStateJSON{
		ID:        s.ID,
		Kind:      s.Kind,
		SessionID: s.SessionID,
		Status:    s.Status,
		Message:   s.Message,
		UpdatedAt: s.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// Summary reports what the manager is doing right now.
type Summary struct {
	Running  int     `json:"running"`
	Active   bool    `json:"active"`
	Sessions []int64 `json:"sessions"`
}
