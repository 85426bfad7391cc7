package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var violationColumns = []string{"test_id", "student_id", "reason", "detail", "violation_count", "recorded_at"}

// ViolationWorker copies queued violations into session_violations.
type ViolationWorker struct {
	db DB
	*Batcher[model.ViolationLog]
}

func NewViolationWorker(db DB, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{db: db}
	w.Batcher = newBatcher[model.ViolationLog](rdb,
		log.With().Str("component", "violation_worker").Logger(),
		config.WorkerKey.PersistViolationsQueue)
	w.Bulk = w.bulkInsert
	w.Single = w.insert
	return w
}

// Start runs the worker loop. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.Run(ctx)
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []model.ViolationLog) error {
	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []any{v.TestID, v.StudentID, string(v.Reason), v.Detail, v.Count, v.RecordedAt})
	}
	_, err := w.db.CopyFrom(ctx, pgx.Identifier{"session_violations"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ViolationWorker) insert(ctx context.Context, v model.ViolationLog) error {
	_, err := w.db.Exec(ctx,
		`INSERT INTO session_violations (test_id, student_id, reason, detail, violation_count, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.TestID, v.StudentID, string(v.Reason), v.Detail, v.Count, v.RecordedAt,
	)
	return err
}
