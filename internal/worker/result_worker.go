package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ResultWorker records how each session ended in session_results. A later
// submitted outcome overwrites an earlier submit_failed one, never the reverse.
type ResultWorker struct {
	db DB
	*Batcher[model.SessionResult]
}

func NewResultWorker(db DB, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	w := &ResultWorker{db: db}
	w.Batcher = newBatcher[model.SessionResult](rdb,
		log.With().Str("component", "result_worker").Logger(),
		config.WorkerKey.PersistResultsQueue)
	w.Bulk = w.bulkUpsert
	w.Single = w.upsert
	return w
}

// Start runs the worker loop. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.Run(ctx)
}

const resultConflict = `
		ON CONFLICT (test_id, student_id) DO UPDATE
		SET outcome = EXCLUDED.outcome,
		    submit_trigger = EXCLUDED.submit_trigger,
		    answered = EXCLUDED.answered,
		    violations = EXCLUDED.violations,
		    error = EXCLUDED.error,
		    finished_at = EXCLUDED.finished_at
		WHERE session_results.outcome <> 'submitted'`

func (w *ResultWorker) bulkUpsert(ctx context.Context, batch []model.SessionResult) error {
	batch = lastPerSession(batch, func(r model.SessionResult) sessionKey {
		return sessionKey{r.TestID, r.StudentID}
	})

	n := len(batch)
	tests := make([]string, 0, n)
	students := make([]int, 0, n)
	outcomes := make([]string, 0, n)
	triggers := make([]string, 0, n)
	answered := make([]int, 0, n)
	violations := make([]int, 0, n)
	errs := make([]string, 0, n)
	finished := make([]time.Time, 0, n)
	for _, r := range batch {
		tests = append(tests, r.TestID)
		students = append(students, r.StudentID)
		outcomes = append(outcomes, string(r.Outcome))
		triggers = append(triggers, string(r.Trigger))
		answered = append(answered, r.Answered)
		violations = append(violations, r.Violations)
		errs = append(errs, r.Error)
		finished = append(finished, r.FinishedAt)
	}

	_, err := w.db.Exec(ctx, `
		INSERT INTO session_results (test_id, student_id, outcome, submit_trigger, answered, violations, error, finished_at)
		SELECT u.test_id, u.student_id, u.outcome, u.submit_trigger, u.answered, u.violations, NULLIF(u.error, ''), u.finished_at
		FROM UNNEST(
			$1::text[], $2::int[], $3::text[], $4::text[],
			$5::int[], $6::int[], $7::text[], $8::timestamptz[]
		) AS u (test_id, student_id, outcome, submit_trigger, answered, violations, error, finished_at)`+resultConflict,
		tests, students, outcomes, triggers, answered, violations, errs, finished,
	)
	return err
}

func (w *ResultWorker) upsert(ctx context.Context, r model.SessionResult) error {
	_, err := w.db.Exec(ctx, `
		INSERT INTO session_results (test_id, student_id, outcome, submit_trigger, answered, violations, error, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`+resultConflict,
		r.TestID, r.StudentID, string(r.Outcome), string(r.Trigger), r.Answered, r.Violations, r.Error, r.FinishedAt,
	)
	return err
}
