package service

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// Client is a connected student view of a session, usually one WebSocket.
// Deliver and RequestFullscreen must not block.
type Client interface {
	Deliver(e proctor.Event)
	RequestFullscreen() error
	// Evict tells a client it was replaced by a newer connection.
	Evict()
	// Restart tells a client the server is going away and it should reconnect.
	Restart()
}

// LiveSession is one running exam session: its loop, its controller and the
// client currently attached to it. The controller is only touched through Do.
type LiveSession struct {
	loop     *proctor.Loop
	ctrl     *proctor.Controller
	recorder *SessionRecorder
	who      proctor.Principal
	fetchCtx context.Context

	mu         sync.Mutex
	client     Client
	phase      model.SessionPhase
	finishedAt time.Time
	lastSeen   time.Time
}

// Do runs fn on the session loop and returns its error.
func (s *LiveSession) Do(ctx context.Context, fn func(c *proctor.Controller) error) error {
	var err error
	if callErr := s.loop.Call(ctx, func() { err = fn(s.ctrl) }); callErr != nil {
		return callErr
	}
	return err
}

// Load fetches the test content if it is not loaded yet and waits for the result.
func (s *LiveSession) Load(ctx context.Context) error {
	result := make(chan error, 1)
	err := s.loop.Call(ctx, func() {
		s.ctrl.Load(s.fetchCtx, func(err error) { result <- err })
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach makes c the session's client. A previously attached client is evicted.
// The returned function detaches c if it is still the current client.
func (s *LiveSession) Attach(c Client) (detach func()) {
	s.mu.Lock()
	prev := s.client
	s.client = c
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if prev != nil && prev != c {
		prev.Evict()
	}
	return func() {
		s.mu.Lock()
		if s.client == c {
			s.client = nil
			s.lastSeen = time.Now()
		}
		s.mu.Unlock()
	}
}

// Principal returns who the session belongs to.
func (s *LiveSession) Principal() proctor.Principal {
	return s.who
}

// Phase returns the last phase the session emitted.
func (s *LiveSession) Phase() model.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Emit implements proctor.Sink. It runs on the session loop.
func (s *LiveSession) Emit(e proctor.Event) {
	s.mu.Lock()
	if e.Phase != "" {
		s.phase = e.Phase
	}
	if e.Type == proctor.EventSubmitted || e.Type == proctor.EventSubmitFailed {
		s.finishedAt = time.Now()
	}
	c := s.client
	s.mu.Unlock()

	if c != nil {
		c.Deliver(e)
	}
	s.recorder.Emit(e)
}

// RequestFullscreen implements proctor.FullscreenRequester.
func (s *LiveSession) RequestFullscreen() error {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return proctor.ErrNoClient
	}
	return c.RequestFullscreen()
}

// idle reports whether the session can be evicted at now.
func (s *LiveSession) idle(now time.Time, retention time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.phase == model.PhaseSubmitted:
		return now.Sub(s.finishedAt) >= retention
	case !s.finishedAt.IsZero():
		// A failed submission stays until nobody is watching it.
		return s.client == nil && now.Sub(s.finishedAt) >= retention && now.Sub(s.lastSeen) >= retention
	case s.phase == model.PhaseNotStarted || s.phase == "":
		return s.client == nil && now.Sub(s.lastSeen) >= retention
	}
	return false
}

// shutdown detaches the client, asks it to reconnect, then closes the session.
func (s *LiveSession) shutdown(ctx context.Context) {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c != nil {
		c.Restart()
	}
	s.close(ctx)
}

// close tears the controller down and stops the loop and recorder.
func (s *LiveSession) close(ctx context.Context) {
	_ = s.loop.Call(ctx, s.ctrl.Close)
	s.loop.Close()
	s.recorder.Close(ctx)
}
