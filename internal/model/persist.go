package model

import "time"

// AnswerChange is queued for the autosave worker on every answer write or clear.
// A nil Answer means the answer was cleared.
type AnswerChange struct {
	TestID        string    `json:"test_id"`
	StudentID     int       `json:"student_id"`
	QuestionIndex int       `json:"question_index"`
	QuestionID    string    `json:"question_id"`
	Answer        *Answer   `json:"answer"`
	ChangedAt     time.Time `json:"changed_at"`
}

// QuestionOrder is the shuffled display order of a session: Order[display] = original index.
type QuestionOrder struct {
	TestID    string `json:"test_id"`
	StudentID int    `json:"student_id"`
	Order     []int  `json:"order"`
}

// SessionOutcome names how a session ended.
type SessionOutcome string

const (
	OutcomeSubmitted    SessionOutcome = "submitted"
	OutcomeSubmitFailed SessionOutcome = "submit_failed"
)

// SessionResult is the durable record of a session's end.
type SessionResult struct {
	TestID     string         `json:"test_id"`
	StudentID  int            `json:"student_id"`
	Outcome    SessionOutcome `json:"outcome"`
	Trigger    SubmitTrigger  `json:"trigger"`
	Answered   int            `json:"answered"`
	Violations int            `json:"violations"`
	Error      string         `json:"error,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}

// MonitorEvent is published on a test's monitor channel for live proctoring dashboards.
type MonitorEvent struct {
	Type      string        `json:"type"`
	TestID    string        `json:"test_id"`
	StudentID int           `json:"student_id"`
	Phase     SessionPhase  `json:"phase,omitempty"`
	Violation *Violation    `json:"violation,omitempty"`
	Threshold int           `json:"threshold,omitempty"`
	Trigger   SubmitTrigger `json:"trigger,omitempty"`
	Answered  int           `json:"answered,omitempty"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// StudentProgress is one row of the monitor's refresh payload.
type StudentProgress struct {
	StudentID  int   `json:"student_id"`
	Answered   int64 `json:"answered_count"`
	Violations int64 `json:"violation_count"`
}
