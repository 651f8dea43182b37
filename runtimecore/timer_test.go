package runtimecore

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerFiresOnceForSetTimeout(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NoError(t, c.Init(context.Background()))
	defer c.Dispose()

	fired := make(chan struct{}, 4)
	fn := reflect.ValueOf(func() { fired <- struct{}{} })

	c.timers.Schedule(fn, nil, 5*time.Millisecond, false)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	select {
	case <-fired:
		t.Fatal("one-shot timer fired more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerRepeatsForSetInterval(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NoError(t, c.Init(context.Background()))
	defer c.Dispose()

	fired := make(chan struct{}, 8)
	fn := reflect.ValueOf(func() { fired <- struct{}{} })

	id := c.timers.Schedule(fn, nil, 5*time.Millisecond, true)

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatalf("interval did not fire tick %d", i)
		}
	}
	c.timers.Cancel(id)
}

func TestCancelRaceWithFireIsSafe(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NoError(t, c.Init(context.Background()))
	defer c.Dispose()

	fn := reflect.ValueOf(func() {})
	id := c.timers.Schedule(fn, nil, time.Microsecond, false)

	// Cancel racing with delivery must never panic, and a cancel that
	// loses the race (cb already delivered) is reported as "not found"
	// rather than double-removing an entry.
	time.Sleep(time.Millisecond)
	_ = c.timers.Cancel(id)

	require.False(t, c.timers.Cancel(TimerID(999999)))
}

func TestFlushCancelsOutstandingTimers(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NoError(t, c.Init(context.Background()))

	fired := make(chan struct{}, 1)
	fn := reflect.ValueOf(func() { fired <- struct{}{} })
	c.timers.Schedule(fn, nil, 50*time.Millisecond, false)

	c.Flush()

	select {
	case <-fired:
		t.Fatal("timer fired after Flush canceled it")
	case <-time.After(80 * time.Millisecond):
	}
}
