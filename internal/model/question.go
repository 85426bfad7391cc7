package model

// QuestionKind enumerates the answer shapes a question accepts.
type QuestionKind string

const (
	QuestionKindSingleChoice QuestionKind = "single_choice"
	QuestionKindMultiChoice  QuestionKind = "multi_choice"
	QuestionKindBoolean      QuestionKind = "boolean"
	QuestionKindFreeText     QuestionKind = "free_text"
	QuestionKindCode         QuestionKind = "code"
)

// IsChoice reports whether answers are option indices.
func (k QuestionKind) IsChoice() bool {
	return k == QuestionKindSingleChoice || k == QuestionKindMultiChoice || k == QuestionKindBoolean
}

// Valid reports whether k is a known kind.
func (k QuestionKind) Valid() bool {
	switch k {
	case QuestionKindSingleChoice, QuestionKindMultiChoice, QuestionKindBoolean,
		QuestionKindFreeText, QuestionKindCode:
		return true
	}
	return false
}

// Question is immutable once loaded into a session.
type Question struct {
	ID         string       `json:"id" binding:"required"`
	Text       string       `json:"question" binding:"required"`
	Kind       QuestionKind `json:"type" binding:"required,oneof=single_choice multi_choice boolean free_text code"`
	Options    []string     `json:"options,omitempty"`
	Points     int          `json:"points" binding:"omitempty,min=0"`
	Difficulty string       `json:"difficulty,omitempty"`
}

// PointValue returns the question's points, defaulting to 1.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// OptionCount is the number of selectable options. Boolean questions
// without explicit options expose two (true, false).
func (q Question) OptionCount() int {
	if q.Kind == QuestionKindBoolean && len(q.Options) == 0 {
		return 2
	}
	return len(q.Options)
}

// QuestionForStudent is the question as sent to the client, stripped of the backend id.
type QuestionForStudent struct {
	Index      int          `json:"index"`
	Text       string       `json:"question"`
	Kind       QuestionKind `json:"type"`
	Options    []string     `json:"options,omitempty"`
	Points     int          `json:"points"`
	Difficulty string       `json:"difficulty,omitempty"`
}
