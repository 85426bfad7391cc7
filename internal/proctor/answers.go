package proctor

import (
	"sort"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerState holds the per-question answers, the review-later set, the active
// index and the palette derived from them.
type AnswerState struct {
	size    int
	current int
	answers map[int]model.Answer
	review  map[int]struct{}
	palette []model.PaletteStatus
}

// NewAnswerState allocates n empty slots, all not visited.
func NewAnswerState(n int) *AnswerState {
	palette := make([]model.PaletteStatus, n)
	for i := range palette {
		palette[i] = model.PaletteNotVisited
	}
	return &AnswerState{
		size:    n,
		answers: make(map[int]model.Answer),
		review:  make(map[int]struct{}),
		palette: palette,
	}
}

// Save writes the answer for index i and removes i from review.
func (s *AnswerState) Save(i int, a model.Answer) error {
	if err := s.check(i); err != nil {
		return err
	}
	s.answers[i] = a
	delete(s.review, i)
	s.refresh(i)
	return nil
}

// Clear removes the answer for index i and removes i from review.
func (s *AnswerState) Clear(i int) error {
	if err := s.check(i); err != nil {
		return err
	}
	delete(s.answers, i)
	delete(s.review, i)
	s.refresh(i)
	return nil
}

// MarkReview flags index i for review without touching its answer.
func (s *AnswerState) MarkReview(i int) error {
	if err := s.check(i); err != nil {
		return err
	}
	s.review[i] = struct{}{}
	s.refresh(i)
	return nil
}

// GoTo makes index i active, recomputing the departed and entered slots.
func (s *AnswerState) GoTo(i int) error {
	if err := s.check(i); err != nil {
		return err
	}
	departed := s.current
	s.current = i
	s.refresh(departed, i)
	return nil
}

// MarkVisited turns a not-visited slot into not answered. Other statuses are kept.
func (s *AnswerState) MarkVisited(i int) {
	if i >= 0 && i < s.size && s.palette[i] == model.PaletteNotVisited {
		s.palette[i] = model.PaletteNotAnswered
	}
}

// Current returns the active index.
func (s *AnswerState) Current() int {
	return s.current
}

// Len returns the number of slots.
func (s *AnswerState) Len() int {
	return s.size
}

// Answer returns the answer stored for i.
func (s *AnswerState) Answer(i int) (model.Answer, bool) {
	a, ok := s.answers[i]
	return a, ok
}

// InReview reports whether i is flagged for review.
func (s *AnswerState) InReview(i int) bool {
	_, ok := s.review[i]
	return ok
}

// Answers returns a copy of the answer record.
func (s *AnswerState) Answers() map[int]model.Answer {
	out := make(map[int]model.Answer, len(s.answers))
	for i, a := range s.answers {
		out[i] = a
	}
	return out
}

// Review returns the flagged indices in ascending order.
func (s *AnswerState) Review() []int {
	out := make([]int, 0, len(s.review))
	for i := range s.review {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Palette returns a copy of the current palette.
func (s *AnswerState) Palette() []model.PaletteStatus {
	out := make([]model.PaletteStatus, len(s.palette))
	copy(out, s.palette)
	return out
}

// Summary counts the palette for the submit-confirmation prompt.
func (s *AnswerState) Summary() model.SubmitSummary {
	sum := model.SubmitSummary{Total: s.size}
	for _, st := range s.palette {
		switch st {
		case model.PaletteAnswered:
			sum.Answered++
		case model.PaletteReview:
			sum.Review++
		case model.PaletteNotAnswered:
			sum.NotAnswered++
		default:
			sum.NotVisited++
		}
	}
	return sum
}

func (s *AnswerState) check(i int) error {
	if i < 0 || i >= s.size {
		return ErrIndexOutOfRange
	}
	return nil
}

func (s *AnswerState) refresh(touched ...int) {
	s.palette = DerivePalette(s.current, s.answers, s.review, s.palette, touched...)
}

// DerivePalette recomputes the status of the active index and of any touched
// indices; every other slot keeps its previous status. For each recomputed slot:
// answered and not in review → answered; in review → review; visited or active →
// not answered; otherwise it stays not visited.
func DerivePalette(
	current int,
	answers map[int]model.Answer,
	review map[int]struct{},
	previous []model.PaletteStatus,
	touched ...int,
) []model.PaletteStatus {
	next := make([]model.PaletteStatus, len(previous))
	copy(next, previous)

	derive := func(i int) {
		if i < 0 || i >= len(next) {
			return
		}
		_, answered := answers[i]
		_, marked := review[i]
		switch {
		case answered && !marked:
			next[i] = model.PaletteAnswered
		case marked:
			next[i] = model.PaletteReview
		case i == current || previous[i] != model.PaletteNotVisited:
			next[i] = model.PaletteNotAnswered
		}
	}

	derive(current)
	for _, i := range touched {
		if i != current {
			derive(i)
		}
	}
	return next
}
