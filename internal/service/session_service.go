package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/events"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

var (
	// ErrSessionFinished is returned when opening a session that was already submitted.
	ErrSessionFinished = errors.New("exam session already submitted")
	// ErrSessionNotOpen is returned when a session is used before it was opened.
	ErrSessionNotOpen = errors.New("exam session not open")
)

const janitorInterval = time.Minute

// SessionStore is everything the session registry keeps in Redis.
type SessionStore interface {
	StateStore
	SubmitLatch
	GetOrder(ctx context.Context, testID string, studentID int) ([]int, error)
	GetSnapshot(ctx context.Context, testID string, studentID int) (*model.SessionSnapshot, error)
	GetAnswers(ctx context.Context, testID string, studentID int) (map[int]model.Answer, error)
	GetReview(ctx context.Context, testID string, studentID int) ([]int, error)
	SubmitLatched(ctx context.Context, testID string, studentID int) (bool, error)
}

type sessionKey struct {
	testID    string
	studentID int
}

// SessionService is the registry of live exam sessions, one per (test, student).
// A session outlives its client connections: reconnecting reuses the same
// controller, so the clock keeps running and the question order never changes.
type SessionService struct {
	gw    proctor.Gateway
	store SessionStore
	pub   events.Publisher
	cfg   config.ProctorConfig
	log   zerolog.Logger

	// base scopes every session loop and backend fetch.
	base   context.Context
	cancel context.CancelFunc
	now    func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*LiveSession
}

// NewSessionService creates a new SessionService. Submissions go through a
// LatchedGateway over store.
func NewSessionService(gw proctor.Gateway, store SessionStore, pub events.Publisher, cfg config.ProctorConfig, log zerolog.Logger) *SessionService {
	base, cancel := context.WithCancel(context.Background())
	return &SessionService{
		gw:       NewLatchedGateway(gw, store),
		store:    store,
		pub:      pub,
		cfg:      cfg,
		log:      log.With().Str("component", "session_service").Logger(),
		base:     base,
		cancel:   cancel,
		now:      time.Now,
		sessions: make(map[sessionKey]*LiveSession),
	}
}

// Open returns the live session for who, creating it and loading the test content
// on first use. A fetch failure leaves the session registered so Open can retry.
func (s *SessionService) Open(ctx context.Context, who proctor.Principal) (*LiveSession, error) {
	key := sessionKey{who.TestID, who.StudentID}

	s.mu.Lock()
	ls, ok := s.sessions[key]
	s.mu.Unlock()

	if !ok {
		created, err := s.create(ctx, who)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if existing, raced := s.sessions[key]; raced {
			ls = existing
		} else {
			s.sessions[key] = created
			ls = created
		}
		s.mu.Unlock()

		if ls != created {
			created.close(ctx)
		}
	}

	if err := ls.Load(ctx); err != nil {
		return ls, err
	}
	return ls, nil
}

func (s *SessionService) create(ctx context.Context, who proctor.Principal) (*LiveSession, error) {
	latched, err := s.store.SubmitLatched(ctx, who.TestID, who.StudentID)
	if err != nil {
		return nil, fmt.Errorf("check submit latch: %w", err)
	}
	if latched {
		return nil, ErrSessionFinished
	}

	opts := s.options()
	order, err := s.store.GetOrder(ctx, who.TestID, who.StudentID)
	switch {
	case err == nil:
		opts.Order = order
	case !errors.Is(err, repository.ErrNotFound):
		s.log.Warn().Err(err).Str("test_id", who.TestID).Int("student_id", who.StudentID).Msg("Failed to read stored question order")
	}
	opts.Resume = s.resume(ctx, who)

	loop := proctor.NewLoop(s.log)
	go loop.Run(s.base)

	ls := &LiveSession{
		loop:     loop,
		who:      who,
		fetchCtx: s.base,
		lastSeen: s.now(),
		recorder: NewSessionRecorder(s.store, s.pub, who, s.cfg.SessionRetention, s.log),
	}
	ls.ctrl = proctor.NewController(loop, s.gw, who, ls, ls, opts)

	s.log.Info().Str("test_id", who.TestID).Int("student_id", who.StudentID).Msg("Session opened")
	return ls, nil
}

// resume reads what an earlier run of the session left in Redis, for example
// before a restart. Sessions that were never started have nothing to resume.
func (s *SessionService) resume(ctx context.Context, who proctor.Principal) *proctor.Resume {
	log := s.log.With().Str("test_id", who.TestID).Int("student_id", who.StudentID).Logger()

	snap, err := s.store.GetSnapshot(ctx, who.TestID, who.StudentID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to read stored session snapshot")
		}
		return nil
	}
	if !snap.Started() {
		return nil
	}

	r := &proctor.Resume{
		Started:    true,
		Remaining:  snap.Remaining,
		Violations: snap.Violations,
		Current:    snap.Current,
		Palette:    snap.Palette,
	}
	if r.Answers, err = s.store.GetAnswers(ctx, who.TestID, who.StudentID); err != nil {
		log.Warn().Err(err).Msg("Failed to read stored answers")
	}
	if r.Review, err = s.store.GetReview(ctx, who.TestID, who.StudentID); err != nil {
		log.Warn().Err(err).Msg("Failed to read stored review set")
	}

	log.Info().
		Int("remaining", r.Remaining).
		Int("violations", r.Violations).
		Int("answers", len(r.Answers)).
		Msg("Resuming session from stored progress")
	return r
}

func (s *SessionService) options() proctor.Options {
	opts := proctor.DefaultOptions()
	opts.Threshold = s.cfg.ViolationThreshold
	opts.FocusPollInterval = s.cfg.FocusPollInterval
	opts.DedupFocusLoss = s.cfg.DedupFocusLoss
	opts.RequireFullscreen = s.cfg.RequireFullscreen
	if s.cfg.PostSubmitRedirect != "" {
		opts.RedirectTo = s.cfg.PostSubmitRedirect
	}
	opts.Logger = s.log
	return opts
}

// Get returns an already opened session.
func (s *SessionService) Get(testID string, studentID int) (*LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[sessionKey{testID, studentID}]
	if !ok {
		return nil, ErrSessionNotOpen
	}
	return ls, nil
}

// Count returns the number of live sessions.
func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run evicts finished and abandoned sessions until ctx is cancelled.
func (s *SessionService) Run(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evicts every session idle past the retention window.
func (s *SessionService) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var evicted []*LiveSession
	for key, ls := range s.sessions {
		if ls.idle(now, s.cfg.SessionRetention) {
			delete(s.sessions, key)
			evicted = append(evicted, ls)
		}
	}
	s.mu.Unlock()

	for _, ls := range evicted {
		ls.close(ctx)
	}
	if len(evicted) > 0 {
		s.log.Info().Int("count", len(evicted)).Msg("Evicted idle sessions")
	}
	return len(evicted)
}

// Shutdown closes every session and asks attached clients to reconnect. Progress
// stays in Redis, so the next Open resumes it. A submission already in flight
// still reaches the backend, but its outcome is no longer recorded.
func (s *SessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*LiveSession, 0, len(s.sessions))
	for key, ls := range s.sessions {
		all = append(all, ls)
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, ls := range all {
		wg.Add(1)
		go func(ls *LiveSession) {
			defer wg.Done()
			ls.shutdown(ctx)
		}(ls)
	}
	wg.Wait()
	s.cancel()
	s.log.Info().Int("count", len(all)).Msg("Sessions closed")
}
