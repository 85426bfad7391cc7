package model

import "time"

// SessionPhase enumerates the lifecycle of an exam-taking session.
type SessionPhase string

const (
	PhaseNotStarted SessionPhase = "not_started"
	PhaseRunning    SessionPhase = "running"
	PhaseSubmitting SessionPhase = "submitting"
	PhaseSubmitted  SessionPhase = "submitted"
)

// PaletteStatus is the derived per-question display status.
type PaletteStatus string

const (
	PaletteNotVisited  PaletteStatus = "not_visited"
	PaletteAnswered    PaletteStatus = "answered"
	PaletteReview      PaletteStatus = "review"
	PaletteNotAnswered PaletteStatus = "not_answered"
)

// SubmitTrigger names what latched the submission.
type SubmitTrigger string

const (
	TriggerUser      SubmitTrigger = "user"
	TriggerTimer     SubmitTrigger = "timer"
	TriggerViolation SubmitTrigger = "violation"
)

// TestContent is the payload returned by the test backend.
type TestContent struct {
	Title     string     `json:"title" binding:"required"`
	Subject   string     `json:"subject"`
	Questions []Question `json:"questions" binding:"required,min=1,dive"`
	Rules     []string   `json:"rules"`
	Minutes   int        `json:"minutes" binding:"min=0"`
}

// SessionInfo is derived once from the fetched test content.
type SessionInfo struct {
	Title         string   `json:"title"`
	Subject       string   `json:"subject"`
	QuestionCount int      `json:"question_count"`
	TotalPoints   int      `json:"total_points"`
	TimeBudget    int      `json:"time_budget_seconds"`
	Instructions  []string `json:"instructions"`
}

// SubmitResult is the backend acknowledgement of a submission.
type SubmitResult struct {
	Message string `json:"message"`
}

// SubmitSummary feeds the submit-confirmation prompt.
type SubmitSummary struct {
	Total       int `json:"total"`
	Answered    int `json:"answered"`
	Review      int `json:"review"`
	NotAnswered int `json:"not_answered"`
	NotVisited  int `json:"not_visited"`
}

// SessionSnapshot is a point-in-time view of a session.
type SessionSnapshot struct {
	TestID      string          `json:"test_id"`
	StudentID   int             `json:"student_id"`
	Phase       SessionPhase    `json:"phase"`
	Remaining   int             `json:"remaining_seconds"`
	Violations  int             `json:"violations"`
	Threshold   int             `json:"threshold"`
	Current     int             `json:"current"`
	Palette     []PaletteStatus `json:"palette"`
	Answers     map[int]Answer  `json:"answers"`
	Review      []int           `json:"review"`
	Trigger     SubmitTrigger   `json:"trigger,omitempty"`
	SubmitError string          `json:"submit_error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
	// Resumed marks a session continued from stored progress; it counts as started.
	Resumed bool `json:"resumed,omitempty"`
}

// Started reports whether the snapshot belongs to a session that was started.
func (s SessionSnapshot) Started() bool {
	return s.Resumed || (s.Phase != "" && s.Phase != PhaseNotStarted)
}
