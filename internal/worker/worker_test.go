package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	mu      sync.Mutex
	execs   []execCall
	copied  [][]any
	copyErr error
	execErr func(sql string, args []any) error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		if err := f.execErr(sql, args); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		f.copied = append(f.copied, vals)
		n++
	}
	return n, nil
}

func (f *fakeDB) Execs() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.execs...)
}

func (f *fakeDB) Copied() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.copied)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func push(t *testing.T, rdb *redis.Client, queue string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, rdb.RPush(context.Background(), queue, raw).Err())
}

func violation(student, count int) model.ViolationLog {
	return model.ViolationLog{
		TestID:     "t1",
		StudentID:  student,
		Reason:     model.ReasonTabSwitch,
		Count:      count,
		RecordedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestViolationWorker_BulkCopy(t *testing.T) {
	db := &fakeDB{}
	w := NewViolationWorker(db, newTestRedis(t), zerolog.Nop())

	w.Flush(context.Background(), []model.ViolationLog{violation(1, 1), violation(2, 1)})

	assert.Equal(t, 2, db.Copied())
	assert.Empty(t, db.Execs())
}

func TestViolationWorker_FallbackAndRequeue(t *testing.T) {
	rdb := newTestRedis(t)
	db := &fakeDB{
		copyErr: errors.New("copy failed"),
		execErr: func(_ string, args []any) error {
			if args[1] == 2 {
				return errors.New("insert failed")
			}
			return nil
		},
	}
	w := NewViolationWorker(db, rdb, zerolog.Nop())
	w.RequeueDelay = 0

	w.Flush(context.Background(), []model.ViolationLog{violation(1, 1), violation(2, 1), violation(3, 2)})

	assert.Len(t, db.Execs(), 2, "rows 1 and 3 go through the fallback")

	queued, err := rdb.LRange(context.Background(), config.WorkerKey.PersistViolationsQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)

	var back model.ViolationLog
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &back))
	assert.Equal(t, 2, back.StudentID)
}

func TestViolationWorker_RunFlushesAndStops(t *testing.T) {
	rdb := newTestRedis(t)
	db := &fakeDB{}
	w := NewViolationWorker(db, rdb, zerolog.Nop())
	w.Timeout = time.Millisecond

	push(t, rdb, config.WorkerKey.PersistViolationsQueue, violation(1, 1))
	push(t, rdb, config.WorkerKey.PersistViolationsQueue, violation(1, 2))
	require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistViolationsQueue, "{not json").Err())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return db.Copied() == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestQuestionOrderWorker_DedupesBatch(t *testing.T) {
	db := &fakeDB{}
	w := NewQuestionOrderWorker(db, newTestRedis(t), zerolog.Nop())

	w.Flush(context.Background(), []model.QuestionOrder{
		{TestID: "t1", StudentID: 1, Order: []int{0, 1}},
		{TestID: "t1", StudentID: 2, Order: []int{1, 0}},
		{TestID: "t1", StudentID: 1, Order: []int{1, 0}},
	})

	execs := db.Execs()
	require.Len(t, execs, 1)
	assert.Contains(t, execs[0].sql, "UNNEST")
	assert.Equal(t, []string{"t1", "t1"}, execs[0].args[0])
	assert.Equal(t, []int{1, 2}, execs[0].args[1])
	assert.Equal(t, []string{"[1,0]", "[1,0]"}, execs[0].args[2])
}

func TestResultWorker_BulkUpsert(t *testing.T) {
	db := &fakeDB{}
	w := NewResultWorker(db, newTestRedis(t), zerolog.Nop())

	w.Flush(context.Background(), []model.SessionResult{
		{TestID: "t1", StudentID: 1, Outcome: model.OutcomeSubmitFailed, Trigger: model.TriggerTimer, Error: "boom"},
		{TestID: "t1", StudentID: 1, Outcome: model.OutcomeSubmitted, Trigger: model.TriggerTimer, Answered: 4},
	})

	execs := db.Execs()
	require.Len(t, execs, 1)
	assert.Contains(t, execs[0].sql, "session_results.outcome <> 'submitted'")
	assert.Equal(t, []string{"submitted"}, execs[0].args[2])
	assert.Equal(t, []int{4}, execs[0].args[4])
}

func TestResultWorker_SingleFallback(t *testing.T) {
	db := &fakeDB{execErr: func(sql string, _ []any) error {
		if strings.Contains(sql, "UNNEST") {
			return errors.New("bulk failed")
		}
		return nil
	}}
	w := NewResultWorker(db, newTestRedis(t), zerolog.Nop())

	w.Flush(context.Background(), []model.SessionResult{
		{TestID: "t1", StudentID: 1, Outcome: model.OutcomeSubmitted},
		{TestID: "t1", StudentID: 2, Outcome: model.OutcomeSubmitted},
	})

	execs := db.Execs()
	require.Len(t, execs, 2)
	assert.Contains(t, execs[0].sql, "VALUES")
}

func TestAutosaveWorker_UpsertAndClear(t *testing.T) {
	rdb := newTestRedis(t)
	db := &fakeDB{}
	w := NewAutosaveWorker(db, rdb, zerolog.Nop())
	ctx := context.Background()

	a := model.ChoiceAnswer(2)
	push(t, rdb, config.WorkerKey.PersistAnswersQueue, model.AnswerChange{TestID: "t1", StudentID: 1, QuestionIndex: 3, QuestionID: "q3", Answer: &a})
	push(t, rdb, config.WorkerKey.PersistAnswersQueue, model.AnswerChange{TestID: "t1", StudentID: 1, QuestionIndex: 3, QuestionID: "q3"})

	w.processNext(ctx)
	w.processNext(ctx)

	execs := db.Execs()
	require.Len(t, execs, 2)
	assert.Contains(t, execs[0].sql, "INSERT INTO session_answers")
	assert.Equal(t, 3, execs[0].args[2])
	assert.Contains(t, execs[1].sql, "DELETE FROM session_answers")
}

func TestAutosaveWorker_RequeuesAtHead(t *testing.T) {
	rdb := newTestRedis(t)
	db := &fakeDB{execErr: func(string, []any) error { return errors.New("db down") }}
	w := NewAutosaveWorker(db, rdb, zerolog.Nop())
	w.retryDelay = 0
	ctx := context.Background()

	a := model.TextAnswer("x")
	first := model.AnswerChange{TestID: "t1", StudentID: 1, QuestionIndex: 0, Answer: &a}
	second := model.AnswerChange{TestID: "t1", StudentID: 1, QuestionIndex: 0}
	push(t, rdb, config.WorkerKey.PersistAnswersQueue, first)
	push(t, rdb, config.WorkerKey.PersistAnswersQueue, second)

	w.processNext(ctx)

	queued, err := rdb.LRange(ctx, config.WorkerKey.PersistAnswersQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 2)

	var head model.AnswerChange
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &head))
	require.NotNil(t, head.Answer)
}

func TestAutosaveWorker_DrainOnStop(t *testing.T) {
	rdb := newTestRedis(t)
	db := &fakeDB{}
	w := NewAutosaveWorker(db, rdb, zerolog.Nop())

	a := model.ChoiceAnswer(0)
	for i := 0; i < 3; i++ {
		push(t, rdb, config.WorkerKey.PersistAnswersQueue, model.AnswerChange{TestID: "t1", StudentID: 1, QuestionIndex: i, Answer: &a})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	assert.Len(t, db.Execs(), 3)
}
