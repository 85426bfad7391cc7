package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidAnswer is returned when an answer does not fit its question.
var ErrInvalidAnswer = errors.New("invalid answer for question")

// Answer holds exactly one of: a selected option, a set of options, or text.
// On the wire it is encoded as a bare int, []int or string.
type Answer struct {
	choice  *int
	choices []int
	text    *string
}

// ChoiceAnswer selects a single option (single choice, boolean).
func ChoiceAnswer(option int) Answer {
	return Answer{choice: &option}
}

// MultiAnswer selects a set of options. Duplicates are dropped and the set is sorted.
func MultiAnswer(options ...int) Answer {
	seen := make(map[int]struct{}, len(options))
	set := make([]int, 0, len(options))
	for _, o := range options {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		set = append(set, o)
	}
	sort.Ints(set)
	return Answer{choices: set}
}

// TextAnswer holds free text or source code.
func TextAnswer(text string) Answer {
	return Answer{text: &text}
}

// Choice returns the selected option for single-choice answers.
func (a Answer) Choice() (int, bool) {
	if a.choice == nil {
		return 0, false
	}
	return *a.choice, true
}

// Choices returns a copy of the selected option set.
func (a Answer) Choices() ([]int, bool) {
	if a.choices == nil {
		return nil, false
	}
	out := make([]int, len(a.choices))
	copy(out, a.choices)
	return out, true
}

// Text returns the text for free-text and code answers.
func (a Answer) Text() (string, bool) {
	if a.text == nil {
		return "", false
	}
	return *a.text, true
}

// IsZero reports whether the answer holds nothing.
func (a Answer) IsZero() bool {
	return a.choice == nil && a.choices == nil && a.text == nil
}

// Equal compares two answers by value.
func (a Answer) Equal(b Answer) bool {
	switch {
	case a.choice != nil || b.choice != nil:
		return a.choice != nil && b.choice != nil && *a.choice == *b.choice
	case a.text != nil || b.text != nil:
		return a.text != nil && b.text != nil && *a.text == *b.text
	case a.choices != nil || b.choices != nil:
		if a.choices == nil || b.choices == nil || len(a.choices) != len(b.choices) {
			return false
		}
		for i := range a.choices {
			if a.choices[i] != b.choices[i] {
				return false
			}
		}
		return true
	}
	return true
}

// Validate checks the answer shape against the question kind and its options.
func (a Answer) Validate(q Question) error {
	n := q.OptionCount()
	switch q.Kind {
	case QuestionKindSingleChoice, QuestionKindBoolean:
		c, ok := a.Choice()
		if !ok {
			return fmt.Errorf("%w: %s expects an option index", ErrInvalidAnswer, q.Kind)
		}
		if c < 0 || c >= n {
			return fmt.Errorf("%w: option %d out of range [0,%d)", ErrInvalidAnswer, c, n)
		}
	case QuestionKindMultiChoice:
		set, ok := a.Choices()
		if !ok {
			// A lone index is accepted as a one-element set.
			if c, single := a.Choice(); single {
				set = []int{c}
			} else {
				return fmt.Errorf("%w: %s expects a set of option indices", ErrInvalidAnswer, q.Kind)
			}
		}
		for _, c := range set {
			if c < 0 || c >= n {
				return fmt.Errorf("%w: option %d out of range [0,%d)", ErrInvalidAnswer, c, n)
			}
		}
	case QuestionKindFreeText, QuestionKindCode:
		if _, ok := a.Text(); !ok {
			return fmt.Errorf("%w: %s expects text", ErrInvalidAnswer, q.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown question kind %q", ErrInvalidAnswer, q.Kind)
	}
	return nil
}

// Normalize coerces a valid answer into the canonical shape for its question kind.
func (a Answer) Normalize(q Question) Answer {
	if q.Kind == QuestionKindMultiChoice {
		if c, ok := a.Choice(); ok {
			return MultiAnswer(c)
		}
	}
	return a
}

// MarshalJSON encodes the answer as int, []int or string.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.choice != nil:
		return json.Marshal(*a.choice)
	case a.choices != nil:
		return json.Marshal(a.choices)
	case a.text != nil:
		return json.Marshal(*a.text)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes an int, []int or string.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
	case '[':
		var set []int
		if err := json.Unmarshal(data, &set); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		*a = MultiAnswer(set...)
	default:
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		*a = ChoiceAnswer(n)
	}
	return nil
}
