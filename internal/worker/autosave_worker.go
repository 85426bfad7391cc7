package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AutosaveWorker consumes the answers queue one change at a time, so a clear
// that follows a save for the same question is applied after it.
type AutosaveWorker struct {
	db  DB
	rdb *redis.Client
	log zerolog.Logger

	queue      string
	poll       time.Duration
	retryDelay time.Duration
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(db DB, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		db:         db,
		rdb:        rdb,
		log:        log.With().Str("component", "autosave_worker").Logger(),
		queue:      config.WorkerKey.PersistAnswersQueue,
		poll:       PollTimeout,
		retryDelay: 5 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), ShutdownWait)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, w.poll, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var change model.AnswerChange
	if err := json.Unmarshal([]byte(result[1]), &change); err != nil {
		w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
		return
	}

	if err := w.persist(ctx, change); err != nil {
		w.log.Error().Err(err).
			Int("student_id", change.StudentID).
			Str("test_id", change.TestID).
			Int("question_index", change.QuestionIndex).
			Msg("Persist error, retrying")
		// Back to the head so later changes to the same answer stay behind it.
		if err := w.rdb.LPush(ctx, w.queue, result[1]).Err(); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue answer change. Data loss occurred.")
		}
		sleep(ctx, w.retryDelay)
	}
}

// persist upserts the answer, or deletes the row when the change is a clear.
func (w *AutosaveWorker) persist(ctx context.Context, c model.AnswerChange) error {
	if c.Answer == nil {
		_, err := w.db.Exec(ctx,
			`DELETE FROM session_answers
			 WHERE test_id = $1 AND student_id = $2 AND question_index = $3`,
			c.TestID, c.StudentID, c.QuestionIndex,
		)
		return err
	}

	raw, err := json.Marshal(c.Answer)
	if err != nil {
		return err
	}
	_, err = w.db.Exec(ctx,
		`INSERT INTO session_answers (test_id, student_id, question_index, question_id, answer, updated_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 ON CONFLICT (test_id, student_id, question_index) DO UPDATE
		 SET answer = EXCLUDED.answer, question_id = EXCLUDED.question_id, updated_at = EXCLUDED.updated_at`,
		c.TestID, c.StudentID, c.QuestionIndex, c.QuestionID, string(raw), c.ChangedAt,
	)
	return err
}

// drain persists what is left on the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		var change model.AnswerChange
		if err := json.Unmarshal([]byte(raw), &change); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		if err := w.persist(ctx, change); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.LPush(ctx, w.queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
