package events

import (
	"context"
	"time"
)

// Topics carried on the message bus.
const (
	TopicAttemptStarted   = "exam.attempt.started"
	TopicAttemptCompleted = "exam.attempt.completed"
)

// AttemptStartedEvent is emitted when a new attempt is created (not on
// resume of an existing one).
type AttemptStartedEvent struct {
	EventID   string    `json:"event_id"`
	AttemptID uint      `json:"attempt_id"`
	ExamID    uint      `json:"exam_id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

// AttemptCompletedEvent is emitted exactly once per finalization, whether
// the submit was explicit or automatic.
type AttemptCompletedEvent struct {
	EventID       string    `json:"event_id"`
	AttemptID     uint      `json:"attempt_id"`
	ExamID        uint      `json:"exam_id"`
	UserID        string    `json:"user_id"`
	MarksObtained float64   `json:"marks_obtained"`
	Percentage    float64   `json:"percentage"`
	Passed        bool      `json:"passed"`
	AutoSubmitted bool      `json:"auto_submitted"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// EventPublisher pushes attempt lifecycle events to downstream consumers
// (notifications, analytics). Implementations must be safe for concurrent use.
type EventPublisher interface {
	PublishAttemptStarted(ctx context.Context, event AttemptStartedEvent) error
	PublishAttemptCompleted(ctx context.Context, event AttemptCompletedEvent) error
	Close() error
}
