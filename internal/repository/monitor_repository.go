package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Querier is the subset of *pgxpool.Pool the repositories and workers use.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MonitorRepository reads the persisted proctoring data behind the live monitor.
type MonitorRepository struct {
	db Querier
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(db Querier) *MonitorRepository {
	return &MonitorRepository{db: db}
}

// GetInProgressStudentIDs returns every student who has started the test and has no
// successful submission recorded.
func (r *MonitorRepository) GetInProgressStudentIDs(ctx context.Context, testID string) ([]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT o.student_id
		 FROM session_orders o
		 WHERE o.test_id = $1
		   AND NOT EXISTS (
		       SELECT 1 FROM session_results s
		       WHERE s.test_id = o.test_id AND s.student_id = o.student_id AND s.outcome = 'submitted'
		   )
		 ORDER BY o.student_id`,
		testID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// GetAnsweredCounts returns the number of answered questions per student.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, testID string) (map[int]int64, error) {
	return r.countByStudent(ctx,
		`SELECT student_id, COUNT(*) FROM session_answers WHERE test_id = $1 GROUP BY student_id`,
		testID,
	)
}

// GetViolationCounts returns the number of recorded violations per student.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, testID string) (map[int]int64, error) {
	return r.countByStudent(ctx,
		`SELECT student_id, COUNT(*) FROM session_violations WHERE test_id = $1 GROUP BY student_id`,
		testID,
	)
}

func (r *MonitorRepository) countByStudent(ctx context.Context, sql, testID string) (map[int]int64, error) {
	rows, err := r.db.Query(ctx, sql, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}

// ListViolations returns one page of a test's violation log, newest first.
// A zero studentID lists every student.
func (r *MonitorRepository) ListViolations(ctx context.Context, testID string, studentID, limit, offset int) ([]model.ViolationLog, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_violations
		 WHERE test_id = $1 AND ($2 = 0 OR student_id = $2)`,
		testID, studentID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, test_id, student_id, reason, detail, violation_count, recorded_at
		 FROM session_violations
		 WHERE test_id = $1 AND ($2 = 0 OR student_id = $2)
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		testID, studentID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]model.ViolationLog, 0, limit)
	for rows.Next() {
		var v model.ViolationLog
		if err := rows.Scan(&v.ID, &v.TestID, &v.StudentID, &v.Reason, &v.Detail, &v.Count, &v.RecordedAt); err != nil {
			return nil, 0, err
		}
		logs = append(logs, v)
	}
	return logs, total, rows.Err()
}

// GetResult returns the recorded end of a student's session.
func (r *MonitorRepository) GetResult(ctx context.Context, testID string, studentID int) (*model.SessionResult, error) {
	var res model.SessionResult
	err := r.db.QueryRow(ctx,
		`SELECT test_id, student_id, outcome, submit_trigger, answered, violations, COALESCE(error, ''), finished_at
		 FROM session_results WHERE test_id = $1 AND student_id = $2`,
		testID, studentID,
	).Scan(&res.TestID, &res.StudentID, &res.Outcome, &res.Trigger, &res.Answered, &res.Violations, &res.Error, &res.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}
