package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestAnswerState_SaveReviewClear(t *testing.T) {
	s := NewAnswerState(3)

	require.NoError(t, s.Save(0, model.ChoiceAnswer(2)))
	require.NoError(t, s.MarkReview(1))
	require.NoError(t, s.Clear(0))

	_, ok := s.Answer(0)
	assert.False(t, ok)
	assert.Equal(t, []int{1}, s.Review())

	palette := s.Palette()
	assert.Equal(t, model.PaletteNotAnswered, palette[0])
	assert.Equal(t, model.PaletteReview, palette[1])
	assert.Equal(t, model.PaletteNotVisited, palette[2])
}

func TestAnswerState_SaveUnmarksReview(t *testing.T) {
	s := NewAnswerState(3)

	require.NoError(t, s.Save(2, model.ChoiceAnswer(1)))
	require.NoError(t, s.MarkReview(2))
	assert.True(t, s.InReview(2))
	require.NoError(t, s.Save(2, model.ChoiceAnswer(3)))

	assert.False(t, s.InReview(2))
	a, ok := s.Answer(2)
	require.True(t, ok)
	assert.True(t, a.Equal(model.ChoiceAnswer(3)))
	assert.Equal(t, model.PaletteAnswered, s.Palette()[2])
}

func TestAnswerState_MarkReviewKeepsAnswer(t *testing.T) {
	s := NewAnswerState(2)

	require.NoError(t, s.Save(1, model.TextAnswer("x := 1")))
	require.NoError(t, s.MarkReview(1))

	a, ok := s.Answer(1)
	require.True(t, ok)
	assert.True(t, a.Equal(model.TextAnswer("x := 1")))
	assert.Equal(t, model.PaletteReview, s.Palette()[1])
}

func TestAnswerState_LastWriteWins(t *testing.T) {
	type op struct {
		clear bool
		value int
	}
	sequences := [][]op{
		{{value: 1}, {value: 2}, {value: 3}},
		{{value: 1}, {clear: true}},
		{{clear: true}, {value: 0}},
		{{value: 3}, {clear: true}, {value: 2}, {clear: true}, {value: 1}},
		{{clear: true}, {clear: true}},
	}

	for _, seq := range sequences {
		s := NewAnswerState(1)
		var want *int
		for _, o := range seq {
			if o.clear {
				require.NoError(t, s.Clear(0))
				want = nil
				continue
			}
			require.NoError(t, s.Save(0, model.ChoiceAnswer(o.value)))
			v := o.value
			want = &v
		}

		got, ok := s.Answer(0)
		if want == nil {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		c, _ := got.Choice()
		assert.Equal(t, *want, c)
		assert.False(t, s.InReview(0))
	}
}

func TestAnswerState_GoToRecomputesDepartedAndEntered(t *testing.T) {
	s := NewAnswerState(4)

	require.NoError(t, s.GoTo(0))
	assert.Equal(t, model.PaletteNotAnswered, s.Palette()[0])

	require.NoError(t, s.GoTo(2))
	palette := s.Palette()
	assert.Equal(t, model.PaletteNotAnswered, palette[0])
	assert.Equal(t, model.PaletteNotVisited, palette[1])
	assert.Equal(t, model.PaletteNotAnswered, palette[2])
	assert.Equal(t, model.PaletteNotVisited, palette[3])
	assert.Equal(t, 2, s.Current())
}

func TestAnswerState_OutOfRange(t *testing.T) {
	s := NewAnswerState(2)

	assert.ErrorIs(t, s.Save(2, model.ChoiceAnswer(0)), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Clear(-1), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.MarkReview(5), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.GoTo(2), ErrIndexOutOfRange)
	assert.Empty(t, s.Answers())
}

func TestAnswerState_Summary(t *testing.T) {
	s := NewAnswerState(5)
	require.NoError(t, s.GoTo(0))
	require.NoError(t, s.Save(0, model.ChoiceAnswer(1)))
	require.NoError(t, s.GoTo(1))
	require.NoError(t, s.MarkReview(1))
	require.NoError(t, s.GoTo(2))

	assert.Equal(t, model.SubmitSummary{
		Total:       5,
		Answered:    1,
		Review:      1,
		NotAnswered: 1,
		NotVisited:  2,
	}, s.Summary())
}

func TestDerivePalette_UntouchedIndicesKeepStatus(t *testing.T) {
	prev := []model.PaletteStatus{
		model.PaletteAnswered,
		model.PaletteReview,
		model.PaletteNotAnswered,
	}
	// Index 0 lost its answer elsewhere, but it was not touched, so it keeps its status.
	next := DerivePalette(2, map[int]model.Answer{}, map[int]struct{}{}, prev)

	assert.Equal(t, prev, next)
	assert.NotSame(t, &prev[0], &next[0])
}
