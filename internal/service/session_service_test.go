package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/events"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type stubGateway struct {
	mu        sync.Mutex
	content   *model.TestContent
	fetchErrs []error
	fetches   int
	submits   []map[int]model.Answer
}

func (g *stubGateway) FetchTest(context.Context, proctor.Principal) (*model.TestContent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if len(g.fetchErrs) > 0 {
		err := g.fetchErrs[0]
		g.fetchErrs = g.fetchErrs[1:]
		return nil, err
	}
	return g.content, nil
}

func (g *stubGateway) SubmitTest(_ context.Context, _ proctor.Principal, answers map[int]model.Answer) (*model.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, answers)
	return &model.SubmitResult{Message: "Terima kasih."}, nil
}

func (g *stubGateway) Submits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

type recordingClient struct {
	mu          sync.Mutex
	events      []proctor.Event
	fullscreens int
	evicted     bool
	restarted   bool
}

func (c *recordingClient) Deliver(e proctor.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *recordingClient) RequestFullscreen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreens++
	return nil
}

func (c *recordingClient) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = true
}

func (c *recordingClient) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarted = true
}

func (c *recordingClient) Restarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarted
}

func (c *recordingClient) Has(t proctor.EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func twoQuestionTest() *model.TestContent {
	return &model.TestContent{
		Title:   "Ujian Fisika",
		Minutes: 5,
		Questions: []model.Question{
			{ID: "q1", Text: "Satu", Kind: model.QuestionKindSingleChoice, Options: []string{"A", "B"}},
			{ID: "q2", Text: "Dua", Kind: model.QuestionKindFreeText},
		},
	}
}

type sessionFixture struct {
	svc  *SessionService
	gw   *stubGateway
	repo *repository.SessionStateRepository
	pub  *events.MemoryPublisher
	who  proctor.Principal
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	_, rdb := newTestRedis(t)
	f := &sessionFixture{
		gw:   &stubGateway{content: twoQuestionTest()},
		repo: repository.NewSessionStateRepository(rdb),
		pub:  events.NewMemoryPublisher(true),
		who:  proctor.Principal{TestID: "t1", StudentID: 7, Token: "tok"},
	}
	f.svc = NewSessionService(f.gw, f.repo, f.pub, testConfig().Proctor, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.svc.Shutdown(ctx)
	})
	return f
}

func TestSessionService_OpenReusesSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Open(ctx, f.who)
	require.NoError(t, err)
	second, err := f.svc.Open(ctx, f.who)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.gw.fetches)
	assert.Equal(t, 1, f.svc.Count())

	got, err := f.svc.Get("t1", 7)
	require.NoError(t, err)
	assert.Same(t, first, got)

	_, err = f.svc.Get("t1", 8)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestSessionService_FetchFailureRetries(t *testing.T) {
	f := newSessionFixture(t)
	f.gw.fetchErrs = []error{errors.New("backend down")}

	_, err := f.svc.Open(context.Background(), f.who)
	require.ErrorIs(t, err, proctor.ErrFetchFailed)

	ls, err := f.svc.Open(context.Background(), f.who)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseNotStarted, ls.Phase())
}

func TestSessionService_FullSessionIsRecorded(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	ls, err := f.svc.Open(ctx, f.who)
	require.NoError(t, err)

	client := &recordingClient{}
	detach := ls.Attach(client)
	defer detach()

	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error { return c.Start() }))
	assert.Equal(t, 1, client.fullscreens)

	var original int
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error {
		for display, q := range c.Questions() {
			if q.Kind == model.QuestionKindSingleChoice {
				original = c.Order()[display]
				return c.Save(display, model.ChoiceAnswer(1))
			}
		}
		return errors.New("no choice question")
	}))
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error { return c.ConfirmSubmit() }))

	require.Eventually(t, func() bool { return ls.Phase() == model.PhaseSubmitted }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, client.Has(proctor.EventNavigate))
	assert.Equal(t, 1, f.gw.Submits())

	require.Eventually(t, func() bool {
		for _, ev := range f.pub.Events() {
			if ev.Type == events.EventSessionSubmitted {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	answers, err := f.repo.GetAnswers(ctx, "t1", 7)
	require.NoError(t, err)
	assert.True(t, answers[original].Equal(model.ChoiceAnswer(1)))

	order, err := f.repo.GetOrder(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Len(t, order, 2)

	latched, err := f.repo.SubmitLatched(ctx, "t1", 7)
	require.NoError(t, err)
	assert.True(t, latched)
}

func TestSessionService_LatchedSessionCannotReopen(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	ok, err := f.repo.TryLatchSubmit(ctx, "t1", 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Open(ctx, f.who)
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestSessionService_RestoresStoredOrder(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveOrder(ctx, "t1", 7, []int{1, 0}))

	ls, err := f.svc.Open(ctx, f.who)
	require.NoError(t, err)

	var order []int
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error {
		order = c.Order()
		return nil
	}))
	assert.Equal(t, []int{1, 0}, order)
}

func TestSessionService_ResumesAfterRestart(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	ls, err := f.svc.Open(ctx, f.who)
	require.NoError(t, err)
	client := &recordingClient{}
	ls.Attach(client)

	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error { return c.Start() }))

	var display int
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error {
		for d, q := range c.Questions() {
			if q.Kind == model.QuestionKindSingleChoice {
				display = d
				return c.Save(d, model.ChoiceAnswer(1))
			}
		}
		return errors.New("no choice question")
	}))
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error {
		c.Dispatch(&proctor.Signal{Kind: proctor.SignalCopy})
		c.Dispatch(&proctor.Signal{Kind: proctor.SignalPaste})
		return nil
	}))

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		for _, e := range client.events {
			if e.Type == proctor.EventTick && e.Remaining < 300 {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	f.svc.Shutdown(shutdownCtx)
	assert.True(t, client.Restarted())
	assert.Zero(t, f.svc.Count())

	restarted := NewSessionService(f.gw, f.repo, f.pub, testConfig().Proctor, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		restarted.Shutdown(ctx)
	})

	ls, err = restarted.Open(ctx, f.who)
	require.NoError(t, err)
	ls.Attach(&recordingClient{})
	assert.Equal(t, 2, f.gw.fetches)
	assert.Equal(t, model.PhaseNotStarted, ls.Phase())

	var snap model.SessionSnapshot
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error {
		snap = c.Snapshot()
		return nil
	}))
	assert.True(t, snap.Resumed)
	assert.Equal(t, 2, snap.Violations)
	assert.Less(t, snap.Remaining, 300)
	assert.Positive(t, snap.Remaining)
	require.Contains(t, snap.Answers, display)
	assert.True(t, snap.Answers[display].Equal(model.ChoiceAnswer(1)))

	// Starting again continues the clock and the violation count.
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error { return c.Start() }))
	require.NoError(t, ls.Do(ctx, func(c *proctor.Controller) error {
		c.Dispatch(&proctor.Signal{Kind: proctor.SignalContextMenu})
		return nil
	}))
	require.Eventually(t, func() bool { return ls.Phase() == model.PhaseSubmitted }, 2*time.Second, 10*time.Millisecond)

	f.gw.mu.Lock()
	defer f.gw.mu.Unlock()
	require.Len(t, f.gw.submits, 1)
	assert.Len(t, f.gw.submits[0], 1)
}

func TestSessionService_SweepEvictsAbandonedSessions(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, f.who)
	require.NoError(t, err)

	assert.Zero(t, f.svc.Sweep(ctx))

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, f.svc.Sweep(ctx))
	assert.Zero(t, f.svc.Count())
}

func TestLiveSession_AttachEvictsPreviousClient(t *testing.T) {
	f := newSessionFixture(t)
	ls, err := f.svc.Open(context.Background(), f.who)
	require.NoError(t, err)

	first := &recordingClient{}
	detachFirst := ls.Attach(first)
	second := &recordingClient{}
	ls.Attach(second)

	assert.True(t, first.evicted)
	detachFirst()
	assert.NoError(t, ls.RequestFullscreen(), "stale detach keeps the newer client")
	assert.Equal(t, 1, second.fullscreens)
}

func TestLiveSession_RequestFullscreenWithoutClient(t *testing.T) {
	f := newSessionFixture(t)
	ls, err := f.svc.Open(context.Background(), f.who)
	require.NoError(t, err)
	assert.ErrorIs(t, ls.RequestFullscreen(), proctor.ErrNoClient)
}

func TestLatchedGateway(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := repository.NewSessionStateRepository(rdb)
	gw := &stubGateway{content: twoQuestionTest()}
	latched := NewLatchedGateway(gw, repo)
	who := proctor.Principal{TestID: "t1", StudentID: 1}

	_, err := latched.SubmitTest(context.Background(), who, nil)
	require.NoError(t, err)
	_, err = latched.SubmitTest(context.Background(), who, nil)
	assert.ErrorIs(t, err, proctor.ErrAlreadySubmitted)
	assert.Equal(t, 1, gw.Submits())

	_, err = latched.FetchTest(context.Background(), who)
	assert.NoError(t, err)
}
