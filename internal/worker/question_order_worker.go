package worker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionOrderWorker upserts each session's shuffled question order into session_orders.
type QuestionOrderWorker struct {
	db DB
	*Batcher[model.QuestionOrder]
}

func NewQuestionOrderWorker(db DB, rdb *redis.Client, log zerolog.Logger) *QuestionOrderWorker {
	w := &QuestionOrderWorker{db: db}
	w.Batcher = newBatcher[model.QuestionOrder](rdb,
		log.With().Str("component", "question_order_worker").Logger(),
		config.WorkerKey.PersistQuestionOrderQueue)
	w.Bulk = w.bulkUpsert
	w.Single = w.upsert
	return w
}

// Start runs the worker loop. Call in a goroutine.
func (w *QuestionOrderWorker) Start(ctx context.Context) {
	w.Run(ctx)
}

func (w *QuestionOrderWorker) bulkUpsert(ctx context.Context, batch []model.QuestionOrder) error {
	batch = lastPerSession(batch, func(o model.QuestionOrder) sessionKey {
		return sessionKey{o.TestID, o.StudentID}
	})

	tests := make([]string, 0, len(batch))
	students := make([]int, 0, len(batch))
	orders := make([]string, 0, len(batch))
	for _, o := range batch {
		raw, err := json.Marshal(o.Order)
		if err != nil {
			return err
		}
		tests = append(tests, o.TestID)
		students = append(students, o.StudentID)
		orders = append(orders, string(raw))
	}

	_, err := w.db.Exec(ctx, `
		INSERT INTO session_orders (test_id, student_id, question_order)
		SELECT u.test_id, u.student_id, u.qo
		FROM UNNEST($1::text[], $2::int[], $3::jsonb[]) AS u (test_id, student_id, qo)
		ON CONFLICT (test_id, student_id) DO UPDATE
		SET question_order = EXCLUDED.question_order, updated_at = NOW()`,
		tests, students, orders,
	)
	return err
}

func (w *QuestionOrderWorker) upsert(ctx context.Context, o model.QuestionOrder) error {
	raw, err := json.Marshal(o.Order)
	if err != nil {
		return err
	}
	_, err = w.db.Exec(ctx,
		`INSERT INTO session_orders (test_id, student_id, question_order)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (test_id, student_id) DO UPDATE
		 SET question_order = EXCLUDED.question_order, updated_at = NOW()`,
		o.TestID, o.StudentID, string(raw),
	)
	return err
}

type sessionKey struct {
	testID    string
	studentID int
}

// lastPerSession keeps the last item for every session, preserving first-seen order.
// A single upsert statement cannot touch the same row twice.
func lastPerSession[T any](batch []T, key func(T) sessionKey) []T {
	pos := make(map[sessionKey]int, len(batch))
	out := make([]T, 0, len(batch))
	for _, item := range batch {
		k := key(item)
		if i, ok := pos[k]; ok {
			out[i] = item
			continue
		}
		pos[k] = len(out)
		out = append(out, item)
	}
	return out
}
