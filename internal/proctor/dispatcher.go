package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher serializes every callback that touches session state.
// Post and AfterFunc callbacks run one at a time on the dispatcher's goroutine;
// Go runs blocking work elsewhere, which must hand its result back through Post.
type Dispatcher interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) (cancel func())
	Go(fn func())
}

// Loop is the production Dispatcher: an unbounded FIFO drained by Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	log     zerolog.Logger
}

// NewLoop creates a Loop. Call Run in a goroutine to start delivering callbacks.
func NewLoop(log zerolog.Logger) *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		log:     log.With().Str("component", "session_loop").Logger(),
	}
}

// Post enqueues fn. It never blocks; callbacks posted after the loop stops are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc runs fn on the loop after d. Once cancel returns, fn will not run,
// even if the timer already fired and its callback is waiting in the queue.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	var cancelled atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if cancelled.Load() {
				return
			}
			fn()
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}

// Go runs fn on a fresh goroutine.
func (l *Loop) Go(fn func()) {
	go fn()
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.mu.Unlock()

	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-l.stopped:
		// The callback may have been the last one drained.
		select {
		case <-done:
			return nil
		default:
			return ErrLoopClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	defer l.markClosed()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			if fn == nil {
				return // Close sentinel
			}
			l.invoke(fn)
		}
	}
}

// Close stops the loop after the callbacks already queued have run.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, nil)
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("Session callback panicked")
		}
	}()
	fn()
}
