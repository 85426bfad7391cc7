package proctor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// manualDispatcher runs every callback on the test goroutine. Time only moves in Advance.
type manualDispatcher struct {
	now    time.Duration
	seq    int
	queue  []func()
	timers []*manualTimer
}

type manualTimer struct {
	at        time.Duration
	seq       int
	fn        func()
	cancelled bool
}

func (m *manualDispatcher) Post(fn func()) {
	m.queue = append(m.queue, fn)
}

func (m *manualDispatcher) AfterFunc(d time.Duration, fn func()) func() {
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.seq++
	m.timers = append(m.timers, t)
	return func() { t.cancelled = true }
}

// Go defers blocking work to the next Drain so results still arrive through Post.
func (m *manualDispatcher) Go(fn func()) {
	m.queue = append(m.queue, fn)
}

func (m *manualDispatcher) Drain() {
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

func (m *manualDispatcher) Advance(d time.Duration) {
	target := m.now + d
	for {
		m.Drain()
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.at
		t.fn()
	}
	m.now = target
	m.Drain()
}

func (m *manualDispatcher) nextDue(limit time.Duration) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at != m.timers[j].at {
			return m.timers[i].at < m.timers[j].at
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if len(m.timers) == 0 || m.timers[0].at > limit {
		return nil
	}
	t := m.timers[0]
	m.timers = m.timers[1:]
	return t
}

// Pending counts timers that are scheduled and not cancelled.
func (m *manualDispatcher) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu        sync.Mutex
	content   *model.TestContent
	fetchErrs []error
	submitErr error
	fetches   int
	submits   []map[int]model.Answer
}

func (g *fakeGateway) FetchTest(_ context.Context, _ Principal) (*model.TestContent, error) {
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

func (g *fakeGateway) SubmitTest(_ context.Context, _ Principal, answers map[int]model.Answer) (*model.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, answers)
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return &model.SubmitResult{Message: "Jawaban tersimpan."}, nil
}

func (g *fakeGateway) Submits() []map[int]model.Answer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[int]model.Answer(nil), g.submits...)
}

type requesterFunc func() error

func (f requesterFunc) RequestFullscreen() error { return f() }

func fullscreenOK() FullscreenRequester {
	return requesterFunc(func() error { return nil })
}

type eventLog struct {
	events []Event
}

func (l *eventLog) Emit(e Event) {
	l.events = append(l.events, e)
}

func (l *eventLog) OfType(t EventType) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) Ticks() []int {
	var out []int
	for _, e := range l.OfType(EventTick) {
		out = append(out, e.Remaining)
	}
	return out
}

func choiceContent(n, minutes int) *model.TestContent {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:      "q" + string(rune('a'+i)),
			Text:    "Pertanyaan",
			Kind:    model.QuestionKindSingleChoice,
			Options: []string{"A", "B", "C", "D"},
		}
	}
	return &model.TestContent{
		Title:     "Ujian Fisika",
		Subject:   "Fisika",
		Questions: qs,
		Rules:     []string{"Kerjakan secara mandiri."},
		Minutes:   minutes,
	}
}
