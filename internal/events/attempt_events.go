package events

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

type AttemptEventType string

const (
	EventAttemptStarted   AttemptEventType = "attempt.started"
	EventAttemptResumed   AttemptEventType = "attempt.resumed"
	EventAttemptSubmitted AttemptEventType = "attempt.submitted"
	EventAttemptTimedOut  AttemptEventType = "attempt.timed_out"
)

const eventSource = "attempt-service"

// AttemptEvent is the envelope published for every attempt lifecycle
// transition. Downstream consumers (notifications, analytics) key off Type.
type AttemptEvent struct {
	ID        string           `json:"id"`
	Type      AttemptEventType `json:"type"`
	Source    string           `json:"source"`
	Version   string           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`

	AssessmentID uint   `json:"assessment_id"`
	AttemptID    uint   `json:"attempt_id"`
	StudentID    string `json:"student_id"`

	// Type-specific payload
	Data map[string]interface{} `json:"data,omitempty"`
}

// NewAttemptEvent builds an event envelope with a fresh id and timestamp.
func NewAttemptEvent(eventType AttemptEventType, assessmentID, attemptID uint, studentID string) *AttemptEvent {
	return &AttemptEvent{
		ID:           watermill.NewUUID(),
		Type:         eventType,
		Source:       eventSource,
		Version:      "1.0",
		Timestamp:    time.Now().UTC(),
		AssessmentID: assessmentID,
		AttemptID:    attemptID,
		StudentID:    studentID,
	}
}

// WithData attaches a type-specific payload to the event.
func (e *AttemptEvent) WithData(data map[string]interface{}) *AttemptEvent {
	e.Data = data
	return e
}
