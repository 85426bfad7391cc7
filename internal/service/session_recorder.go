package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/events"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const (
	recorderBuffer  = 256
	recorderTimeout = 5 * time.Second
)

// Monitor event types published on a test's monitor channel.
const (
	MonitorStarted      = "started"
	MonitorViolation    = "violation"
	MonitorSubmitted    = "submitted"
	MonitorSubmitFailed = "submit_failed"
)

// StateStore is the Redis side of a live session. *repository.SessionStateRepository implements it.
type StateStore interface {
	SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error
	SetAnswer(ctx context.Context, testID string, studentID, index int, a *model.Answer) error
	SetReview(ctx context.Context, testID string, studentID, index int, on bool) error
	SaveOrder(ctx context.Context, testID string, studentID int, order []int) error
	SetActiveTest(ctx context.Context, studentID int, testID string) error
	ClearActiveTest(ctx context.Context, studentID int, testID string) error
	ExpireSession(ctx context.Context, testID string, studentID int, after time.Duration) error
	Enqueue(ctx context.Context, queue string, v any) error
	PublishMonitor(ctx context.Context, ev model.MonitorEvent) error
}

// SessionRecorder is an asynchronous proctor.Sink. Events are copied onto a
// buffered channel and written out in order by a single goroutine, so the session
// loop never waits on Redis. When the buffer is full the event is dropped.
type SessionRecorder struct {
	store     StateStore
	pub       events.Publisher
	who       proctor.Principal
	retention time.Duration
	log       zerolog.Logger

	mu     sync.Mutex
	ch     chan proctor.Event
	closed bool
	done   chan struct{}

	// Owned by the run goroutine.
	started    bool
	violations int
}

// NewSessionRecorder starts a recorder for one session.
func NewSessionRecorder(store StateStore, pub events.Publisher, who proctor.Principal, retention time.Duration, log zerolog.Logger) *SessionRecorder {
	r := &SessionRecorder{
		store:     store,
		pub:       pub,
		who:       who,
		retention: retention,
		log: log.With().
			Str("component", "session_recorder").
			Str("test_id", who.TestID).
			Int("student_id", who.StudentID).
			Logger(),
		ch:   make(chan proctor.Event, recorderBuffer),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Emit implements proctor.Sink.
func (r *SessionRecorder) Emit(e proctor.Event) {
	if e.Type == proctor.EventTick || e.Type == proctor.EventNotice || e.Type == proctor.EventNavigate {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.log.Warn().Str("event", string(e.Type)).Msg("Recorder buffer full, dropping event")
	}
}

// Close stops accepting events and waits until the buffered ones are written or ctx ends.
func (r *SessionRecorder) Close(ctx context.Context) {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		r.log.Warn().Msg("Recorder closed before flushing every event")
	}
}

func (r *SessionRecorder) run() {
	defer close(r.done)
	for e := range r.ch {
		r.record(e)
	}
}

func (r *SessionRecorder) record(e proctor.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
	defer cancel()

	testID, studentID := r.who.TestID, r.who.StudentID

	switch e.Type {
	case proctor.EventOrder:
		r.check(e, r.store.SaveOrder(ctx, testID, studentID, e.Order))
		r.check(e, r.store.Enqueue(ctx, config.WorkerKey.PersistQuestionOrderQueue, model.QuestionOrder{
			TestID:    testID,
			StudentID: studentID,
			Order:     e.Order,
		}))

	case proctor.EventState:
		if e.Snapshot != nil {
			r.check(e, r.store.SaveSnapshot(ctx, *e.Snapshot))
		}
		if e.Phase == model.PhaseRunning && !r.started {
			r.started = true
			r.check(e, r.store.SetActiveTest(ctx, studentID, testID))
			r.monitor(ctx, model.MonitorEvent{Type: MonitorStarted, Phase: e.Phase, At: e.At})
			r.publish(ctx, events.NewSessionEvent(events.EventSessionStarted, testID, studentID, e.At))
		}

	case proctor.EventAnswer:
		r.check(e, r.store.SetAnswer(ctx, testID, studentID, e.Original, e.Answer))
		r.check(e, r.store.Enqueue(ctx, config.WorkerKey.PersistAnswersQueue, model.AnswerChange{
			TestID:        testID,
			StudentID:     studentID,
			QuestionIndex: e.Original,
			QuestionID:    e.QuestionID,
			Answer:        e.Answer,
			ChangedAt:     e.At,
		}))

	case proctor.EventReview:
		r.check(e, r.store.SetReview(ctx, testID, studentID, e.Original, e.Review))

	case proctor.EventViolation:
		if e.Violation == nil {
			return
		}
		v := *e.Violation
		r.violations = v.Count
		r.check(e, r.store.Enqueue(ctx, config.WorkerKey.PersistViolationsQueue, model.ViolationLog{
			TestID:     testID,
			StudentID:  studentID,
			Reason:     v.Reason,
			Detail:     v.Detail,
			Count:      v.Count,
			RecordedAt: v.At,
		}))
		r.monitor(ctx, model.MonitorEvent{
			Type:      MonitorViolation,
			Phase:     e.Phase,
			Violation: &v,
			Threshold: e.Threshold,
			At:        e.At,
		})
		ev := events.NewSessionEvent(events.EventSessionViolation, testID, studentID, e.At)
		ev.Violation = &v
		r.publish(ctx, ev)

	case proctor.EventSubmitted, proctor.EventSubmitFailed:
		res := model.SessionResult{
			TestID:     testID,
			StudentID:  studentID,
			Outcome:    model.OutcomeSubmitted,
			Trigger:    e.Trigger,
			Answered:   len(e.Answers),
			Violations: r.violations,
			Error:      e.Err,
			FinishedAt: e.At,
		}
		monitorType, eventType := MonitorSubmitted, events.EventSessionSubmitted
		if e.Type == proctor.EventSubmitFailed {
			res.Outcome = model.OutcomeSubmitFailed
			monitorType, eventType = MonitorSubmitFailed, events.EventSessionSubmitFailed
		}

		r.check(e, r.store.Enqueue(ctx, config.WorkerKey.PersistResultsQueue, res))
		r.monitor(ctx, model.MonitorEvent{
			Type:     monitorType,
			Phase:    e.Phase,
			Trigger:  e.Trigger,
			Answered: res.Answered,
			Error:    e.Err,
			At:       e.At,
		})
		ev := events.NewSessionEvent(eventType, testID, studentID, e.At)
		ev.Result = &res
		r.publish(ctx, ev)

		if res.Outcome == model.OutcomeSubmitted {
			r.check(e, r.store.ClearActiveTest(ctx, studentID, testID))
			r.check(e, r.store.ExpireSession(ctx, testID, studentID, r.retention))
		}
	}
}

func (r *SessionRecorder) monitor(ctx context.Context, ev model.MonitorEvent) {
	ev.TestID = r.who.TestID
	ev.StudentID = r.who.StudentID
	if err := r.store.PublishMonitor(ctx, ev); err != nil {
		r.log.Warn().Err(err).Str("type", ev.Type).Msg("Failed to publish monitor event")
	}
}

func (r *SessionRecorder) publish(ctx context.Context, ev *events.SessionEvent) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish session event")
	}
}

func (r *SessionRecorder) check(e proctor.Event, err error) {
	if err != nil {
		r.log.Error().Err(err).Str("event", string(e.Type)).Msg("Failed to record session event")
	}
}
