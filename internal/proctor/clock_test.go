package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_TicksDownAndExpiresOnce(t *testing.T) {
	d := &manualDispatcher{}
	var ticks []int
	expired := 0
	c := NewClock(d, 5, time.Second, func(r int) { ticks = append(ticks, r) }, func() { expired++ })

	c.Start()
	assert.Equal(t, []int{5}, ticks)

	d.Advance(4 * time.Second)
	assert.Equal(t, []int{5, 4, 3, 2, 1}, ticks)
	assert.Equal(t, 0, expired)

	d.Advance(time.Second)
	assert.Equal(t, []int{5, 4, 3, 2, 1, 0}, ticks)
	assert.Equal(t, 1, expired)
	assert.True(t, c.Expired())

	d.Advance(10 * time.Second)
	assert.Len(t, ticks, 6)
	assert.Equal(t, 1, expired)
	assert.Zero(t, d.Pending())
}

func TestClock_StopCancelsPendingTick(t *testing.T) {
	d := &manualDispatcher{}
	var ticks []int
	c := NewClock(d, 10, time.Second, func(r int) { ticks = append(ticks, r) }, func() {
		t.Fatal("stopped clock must not expire")
	})

	c.Start()
	d.Advance(2 * time.Second)
	c.Stop()
	c.Stop()

	d.Advance(time.Minute)
	assert.Equal(t, []int{10, 9, 8}, ticks)
	assert.Equal(t, 8, c.Remaining())
	assert.Zero(t, d.Pending())
}

func TestClock_ZeroBudgetExpiresOnNextTurn(t *testing.T) {
	d := &manualDispatcher{}
	var ticks []int
	expired := 0
	c := NewClock(d, 0, time.Second, func(r int) { ticks = append(ticks, r) }, func() { expired++ })

	c.Start()
	assert.Equal(t, []int{0}, ticks)
	assert.Equal(t, 0, expired)

	d.Drain()
	assert.Equal(t, 1, expired)
}

func TestClock_NoRestart(t *testing.T) {
	d := &manualDispatcher{}
	var ticks []int
	c := NewClock(d, 3, time.Second, func(r int) { ticks = append(ticks, r) }, nil)

	c.Start()
	c.Start()
	assert.Equal(t, []int{3}, ticks)

	c.Stop()
	c.Start()
	d.Advance(5 * time.Second)
	assert.Equal(t, []int{3}, ticks)
}
