package proctor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		l.Close()
		cancel()
		<-l.Done()
	})
	return l
}

func TestLoop_RunsCallbacksInOrder(t *testing.T) {
	l := runLoop(t)

	var got []int
	for i := range 100 {
		l.Post(func() { got = append(got, i) })
	}

	var snapshot []int
	require.NoError(t, l.Call(context.Background(), func() {
		snapshot = append(snapshot, got...)
	}))
	require.Len(t, snapshot, 100)
	for i, v := range snapshot {
		assert.Equal(t, i, v)
	}
}

func TestLoop_AfterFuncRunsOnLoop(t *testing.T) {
	l := runLoop(t)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer callback did not run")
	}
}

func TestLoop_CancelledAfterFuncNeverRuns(t *testing.T) {
	l := runLoop(t)

	var ran atomic.Bool
	cancel := l.AfterFunc(5*time.Millisecond, func() { ran.Store(true) })

	// Block the loop until the timer has fired and queued its callback, then cancel.
	require.NoError(t, l.Call(context.Background(), func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}))
	require.NoError(t, l.Call(context.Background(), func() {}))

	assert.False(t, ran.Load())
}

func TestLoop_RecoversFromPanics(t *testing.T) {
	l := runLoop(t)

	l.Post(func() { panic("boom") })

	var ran bool
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_CloseDrainsThenStops(t *testing.T) {
	l := NewLoop(zerolog.Nop())
	go l.Run(context.Background())

	var count atomic.Int32
	for range 10 {
		l.Post(func() { count.Add(1) })
	}
	l.Close()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.EqualValues(t, 10, count.Load())

	l.Post(func() { count.Add(1) })
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrLoopClosed)
	assert.EqualValues(t, 10, count.Load())
}
