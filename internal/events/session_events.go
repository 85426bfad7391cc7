package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventSessionStarted      EventType = "session.started"
	EventSessionViolation    EventType = "session.violation"
	EventSessionSubmitted    EventType = "session.submitted"
	EventSessionSubmitFailed EventType = "session.submit_failed"
)

const (
	source  = "exstem-proctor"
	version = "1"
)

// SessionEvent is the envelope published for every lifecycle event.
type SessionEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	TestID    string    `json:"test_id"`
	StudentID int       `json:"student_id"`

	Violation *model.Violation     `json:"violation,omitempty"`
	Result    *model.SessionResult `json:"result,omitempty"`
}

// NewSessionEvent stamps a fresh event with an id and the service metadata.
func NewSessionEvent(t EventType, testID string, studentID int, at time.Time) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: at.UTC(),
		Source:    source,
		Version:   version,
		TestID:    testID,
		StudentID: studentID,
	}
}
