package service

import (
	"context"
	"sort"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorStore is the read side the monitor needs. *repository.MonitorRepository implements it.
type MonitorStore interface {
	GetInProgressStudentIDs(ctx context.Context, testID string) ([]int, error)
	GetAnsweredCounts(ctx context.Context, testID string) (map[int]int64, error)
	GetViolationCounts(ctx context.Context, testID string) (map[int]int64, error)
	ListViolations(ctx context.Context, testID string, studentID, limit, offset int) ([]model.ViolationLog, int64, error)
	GetResult(ctx context.Context, testID string, studentID int) (*model.SessionResult, error)
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// PageBounds clamps pagination input to the defaults the violation log uses.
func PageBounds(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return page, perPage
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	store MonitorStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(store MonitorStore) *MonitorService {
	return &MonitorService{store: store}
}

// ProgressSnapshot is the periodic refresh payload of the monitor stream.
type ProgressSnapshot struct {
	Students        []model.StudentProgress `json:"students"`
	TotalViolations int64                   `json:"total_violations"`
}

// GetStudentProgress returns per-student answered and violation counts for every
// in-progress student. The three queries run concurrently; violation counts are
// best-effort.
func (s *MonitorService) GetStudentProgress(ctx context.Context, testID string) (*ProgressSnapshot, error) {
	var (
		ids           []int
		answered      map[int]int64
		violations    map[int]int64
		idsErr        error
		answeredErr   error
		violationsErr error
		wg            sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		ids, idsErr = s.store.GetInProgressStudentIDs(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		answered, answeredErr = s.store.GetAnsweredCounts(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		violations, violationsErr = s.store.GetViolationCounts(ctx, testID)
	}()
	wg.Wait()

	if idsErr != nil {
		return nil, idsErr
	}
	if answeredErr != nil {
		return nil, answeredErr
	}
	if violationsErr != nil {
		violations = nil
	}

	snap := &ProgressSnapshot{Students: make([]model.StudentProgress, 0, len(ids))}
	for _, id := range ids {
		snap.Students = append(snap.Students, model.StudentProgress{
			StudentID:  id,
			Answered:   answered[id],
			Violations: violations[id],
		})
	}
	sort.Slice(snap.Students, func(i, j int) bool {
		return snap.Students[i].StudentID < snap.Students[j].StudentID
	})
	for _, c := range violations {
		snap.TotalViolations += c
	}
	return snap, nil
}

// ListViolations returns one page of the violation log. A zero studentID lists every student.
func (s *MonitorService) ListViolations(ctx context.Context, testID string, studentID, page, perPage int) ([]model.ViolationLog, int64, error) {
	page, perPage = PageBounds(page, perPage)
	return s.store.ListViolations(ctx, testID, studentID, perPage, (page-1)*perPage)
}

// GetResult returns how a student's session ended, or repository.ErrNotFound
// while it is still open.
func (s *MonitorService) GetResult(ctx context.Context, testID string, studentID int) (*model.SessionResult, error) {
	return s.store.GetResult(ctx, testID, studentID)
}
