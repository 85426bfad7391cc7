package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newStateRepo(t *testing.T) (*SessionStateRepository, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSessionStateRepository(rdb), mr, rdb
}

func TestSessionState_Snapshot(t *testing.T) {
	repo, _, _ := newStateRepo(t)
	ctx := context.Background()

	_, err := repo.GetSnapshot(ctx, "t1", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	snap := model.SessionSnapshot{
		TestID:    "t1",
		StudentID: 7,
		Phase:     model.PhaseRunning,
		Remaining: 42,
		Palette:   []model.PaletteStatus{model.PaletteAnswered, model.PaletteNotVisited},
		Answers:   map[int]model.Answer{0: model.ChoiceAnswer(1)},
	}
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	got, err := repo.GetSnapshot(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRunning, got.Phase)
	assert.Equal(t, 42, got.Remaining)
	assert.True(t, got.Answers[0].Equal(model.ChoiceAnswer(1)))
}

func TestSessionState_AnswersAndReview(t *testing.T) {
	repo, _, _ := newStateRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SetReview(ctx, "t1", 7, 3, true))
	require.NoError(t, repo.SetReview(ctx, "t1", 7, 1, true))
	review, err := repo.GetReview(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, review)

	a := model.TextAnswer("jawaban")
	require.NoError(t, repo.SetAnswer(ctx, "t1", 7, 3, &a))

	answers, err := repo.GetAnswers(ctx, "t1", 7)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.True(t, answers[3].Equal(a))

	review, err = repo.GetReview(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, review, "saving an answer takes it out of review")

	require.NoError(t, repo.SetAnswer(ctx, "t1", 7, 3, nil))
	answers, err = repo.GetAnswers(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Empty(t, answers)

	require.NoError(t, repo.SetReview(ctx, "t1", 7, 1, false))
	review, err = repo.GetReview(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Empty(t, review)
}

func TestSessionState_Order(t *testing.T) {
	repo, _, _ := newStateRepo(t)
	ctx := context.Background()

	_, err := repo.GetOrder(ctx, "t1", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.SaveOrder(ctx, "t1", 7, []int{2, 0, 1}))
	order, err := repo.GetOrder(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, order)
}

func TestSessionState_SubmitLatch(t *testing.T) {
	repo, _, _ := newStateRepo(t)
	ctx := context.Background()

	latched, err := repo.SubmitLatched(ctx, "t1", 7)
	require.NoError(t, err)
	assert.False(t, latched)

	ok, err := repo.TryLatchSubmit(ctx, "t1", 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TryLatchSubmit(ctx, "t1", 7)
	require.NoError(t, err)
	assert.False(t, ok)

	latched, err = repo.SubmitLatched(ctx, "t1", 7)
	require.NoError(t, err)
	assert.True(t, latched)
}

func TestSessionState_ActiveTest(t *testing.T) {
	repo, mr, _ := newStateRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SetActiveTest(ctx, 7, "t1"))
	assert.Equal(t, "t1", mustGet(t, mr, config.CacheKey.StudentActiveTestKey(7)))

	require.NoError(t, repo.ClearActiveTest(ctx, 7, "other"))
	assert.True(t, mr.Exists(config.CacheKey.StudentActiveTestKey(7)))

	require.NoError(t, repo.ClearActiveTest(ctx, 7, "t1"))
	assert.False(t, mr.Exists(config.CacheKey.StudentActiveTestKey(7)))
}

func TestSessionState_ExpireSession(t *testing.T) {
	repo, mr, _ := newStateRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveOrder(ctx, "t1", 7, []int{0}))
	_, err := repo.TryLatchSubmit(ctx, "t1", 7)
	require.NoError(t, err)

	require.NoError(t, repo.ExpireSession(ctx, "t1", 7, time.Minute))
	mr.FastForward(2 * time.Minute)

	assert.False(t, mr.Exists(config.CacheKey.SessionOrderKey("t1", 7)))
	assert.True(t, mr.Exists(config.CacheKey.SessionSubmitLatchKey("t1", 7)))
}

func TestSessionState_Enqueue(t *testing.T) {
	repo, _, rdb := newStateRepo(t)
	ctx := context.Background()

	order := model.QuestionOrder{TestID: "t1", StudentID: 7, Order: []int{1, 0}}
	require.NoError(t, repo.Enqueue(ctx, config.WorkerKey.PersistQuestionOrderQueue, order))

	raw, err := rdb.LPop(ctx, config.WorkerKey.PersistQuestionOrderQueue).Result()
	require.NoError(t, err)

	var got model.QuestionOrder
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, order, got)
}

func TestSessionState_PublishMonitor(t *testing.T) {
	repo, _, _ := newStateRepo(t)
	ctx := context.Background()

	sub := repo.SubscribeMonitor(ctx, "t1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.PublishMonitor(ctx, model.MonitorEvent{Type: "violation", TestID: "t1", StudentID: 7}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var ev model.MonitorEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.Equal(t, "violation", ev.Type)
	assert.Equal(t, 7, ev.StudentID)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
