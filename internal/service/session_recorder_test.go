package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/events"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func TestSessionRecorder_WritesInOrder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := repository.NewSessionStateRepository(rdb)
	pub := events.NewMemoryPublisher(true)
	who := proctor.Principal{TestID: "t1", StudentID: 7}
	rec := NewSessionRecorder(repo, pub, who, time.Minute, zerolog.Nop())
	ctx := context.Background()

	sub := repo.SubscribeMonitor(ctx, "t1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := model.ChoiceAnswer(0)
	running := model.SessionSnapshot{TestID: "t1", StudentID: 7, Phase: model.PhaseRunning}

	rec.Emit(proctor.Event{Type: proctor.EventOrder, Order: []int{1, 0}, At: at})
	rec.Emit(proctor.Event{Type: proctor.EventState, Phase: model.PhaseRunning, Snapshot: &running, At: at})
	rec.Emit(proctor.Event{Type: proctor.EventTick, Remaining: 10})
	rec.Emit(proctor.Event{Type: proctor.EventAnswer, Original: 1, QuestionID: "q2", Answer: &a, At: at})
	rec.Emit(proctor.Event{Type: proctor.EventReview, Original: 0, Review: true, At: at})
	rec.Emit(proctor.Event{
		Type:      proctor.EventViolation,
		Phase:     model.PhaseRunning,
		Violation: &model.Violation{Reason: model.ReasonTabSwitch, Count: 1, At: at},
		Threshold: 3,
		At:        at,
	})
	rec.Emit(proctor.Event{
		Type:    proctor.EventSubmitted,
		Phase:   model.PhaseSubmitted,
		Trigger: model.TriggerUser,
		Answers: map[int]model.Answer{1: a},
		At:      at,
	})

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rec.Close(closeCtx)

	// Emitting after close is a no-op.
	rec.Emit(proctor.Event{Type: proctor.EventOrder, Order: []int{0, 1}})

	order, err := repo.GetOrder(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, order)

	snap, err := repo.GetSnapshot(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRunning, snap.Phase)

	answers, err := repo.GetAnswers(ctx, "t1", 7)
	require.NoError(t, err)
	assert.True(t, answers[1].Equal(a))

	review, err := repo.GetReview(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, review)

	assert.False(t, mr.Exists(config.CacheKey.StudentActiveTestKey(7)), "cleared after submission")

	for queue, want := range map[string]int64{
		config.WorkerKey.PersistQuestionOrderQueue: 1,
		config.WorkerKey.PersistAnswersQueue:       1,
		config.WorkerKey.PersistViolationsQueue:    1,
		config.WorkerKey.PersistResultsQueue:       1,
	} {
		n, err := rdb.LLen(ctx, queue).Result()
		require.NoError(t, err)
		assert.Equal(t, want, n, queue)
	}

	raw, err := rdb.LIndex(ctx, config.WorkerKey.PersistResultsQueue, 0).Result()
	require.NoError(t, err)
	var res model.SessionResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))
	assert.Equal(t, model.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, 1, res.Answered)
	assert.Equal(t, 1, res.Violations)

	var types []events.EventType
	for _, ev := range pub.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventSessionStarted,
		events.EventSessionViolation,
		events.EventSessionSubmitted,
	}, types)

	var monitorTypes []string
	for i := 0; i < 3; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var ev model.MonitorEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		monitorTypes = append(monitorTypes, ev.Type)
	}
	assert.Equal(t, []string{MonitorStarted, MonitorViolation, MonitorSubmitted}, monitorTypes)
}
