// Package jobs defines the inbound work queue: one job per chat message.
package jobs

import (
	"context"
	"errors"
	"time"
)

// Kind is the payload type of an inbound message.
type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
)

var (
	// ErrQueueClosed is returned by Publish and Start after Stop.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrJobNotFound is returned by JobStore lookups.
	ErrJobNotFound = errors.New("job not found")
)

// MessageJob is one inbound chat event waiting for a reply.
type MessageJob struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`

	// RoomID is the chat room the reply goes to. Empty for HTTP callers.
	RoomID string `json:"room_id,omitempty"`

	Kind Kind   `json:"kind"`
	Text string `json:"text,omitempty"`

	// Audio carries voice payloads and is never serialized. MediaURL points
	// at audio still to be downloaded by the worker.
	Audio     []byte `json:"-"`
	AudioMIME string `json:"audio_mime,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// Reply is the rendered answer once the job completed.
	Reply string `json:"reply,omitempty"`
}

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job *MessageJob) error
	Close() error
}

// Consumer runs a handler over queued jobs.
type Consumer interface {
	// Start launches the workers and returns immediately.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. It may set job.Reply. A returned error marks
// the job failed. Jobs are never retried.
type JobHandler func(ctx context.Context, job *MessageJob) error

// JobStore keeps job state for status lookups.
type JobStore interface {
	SaveJob(ctx context.Context, job *MessageJob) error
	GetJob(ctx context.Context, jobID string) (*MessageJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*MessageJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	UserID string
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
