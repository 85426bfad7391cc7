package proctor

import "time"

// Clock counts a session's time budget down to zero, one tick per interval.
// It is driven entirely by the Dispatcher and must only be used from its goroutine.
type Clock struct {
	d         Dispatcher
	interval  time.Duration
	remaining int
	onTick    func(remaining int)
	onExpire  func()

	started bool
	stopped bool
	expired bool
	cancel  func()
}

// NewClock builds a stopped clock for budget seconds.
func NewClock(d Dispatcher, budget int, interval time.Duration, onTick func(int), onExpire func()) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	if budget < 0 {
		budget = 0
	}
	return &Clock{
		d:         d,
		interval:  interval,
		remaining: budget,
		onTick:    onTick,
		onExpire:  onExpire,
	}
}

// Start emits the initial tick and schedules the next one. A clock starts at most once.
func (c *Clock) Start() {
	if c.started || c.stopped {
		return
	}
	c.started = true
	c.emit()

	if c.remaining == 0 {
		c.d.Post(c.expire)
		return
	}
	c.schedule()
}

// Stop cancels the pending tick. It is idempotent and final.
func (c *Clock) Stop() {
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Remaining returns the seconds left.
func (c *Clock) Remaining() int {
	return c.remaining
}

// Expired reports whether the budget ran out.
func (c *Clock) Expired() bool {
	return c.expired
}

func (c *Clock) schedule() {
	c.cancel = c.d.AfterFunc(c.interval, c.tick)
}

func (c *Clock) tick() {
	c.cancel = nil
	if c.stopped {
		return
	}

	c.remaining--
	c.emit()

	if c.remaining <= 0 {
		c.remaining = 0
		c.expire()
		return
	}
	c.schedule()
}

func (c *Clock) expire() {
	if c.expired || c.stopped {
		return
	}
	c.expired = true
	c.stopped = true
	if c.onExpire != nil {
		c.onExpire()
	}
}

func (c *Clock) emit() {
	if c.onTick != nil {
		c.onTick(c.remaining)
	}
}
