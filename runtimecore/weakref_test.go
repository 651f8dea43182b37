package runtimecore

import (
	"reflect"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWeakRefFiresExactlyOnceWhenTargetIsCollected(t *testing.T) {
	c := New(newStubEngine(), Options{})

	fireCount := make(chan struct{}, 4)
	onDead := reflect.ValueOf(func() { fireCount <- struct{}{} })

	func() {
		boxed := reflect.ValueOf(new(int))
		c.weak.Bind(c, boxed, onDead)
	}()

	var n int
	for n = 0; n < 20; n++ {
		runtime.GC()
		select {
		case <-fireCount:
			goto fired
		case <-time.After(20 * time.Millisecond):
		}
	}
fired:

	select {
	case <-fireCount:
		t.Fatal("weak-ref callback fired more than once")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestUnbindFiresNotificationImmediately(t *testing.T) {
	c := New(newStubEngine(), Options{})

	fired := make(chan struct{}, 1)
	onDead := reflect.ValueOf(func() { fired <- struct{}{} })

	var id WeakID
	func() {
		boxed := reflect.ValueOf(new(int))
		id = c.weak.Bind(c, boxed, onDead)
	}()

	require.True(t, c.weak.Unbind(c, id))
	require.False(t, c.weak.Unbind(c, id), "double unbind should report not-found")

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("unbind did not deliver the weak-ref notification")
	}

	select {
	case <-fired:
		t.Fatal("weak-ref callback fired more than once")
	default:
	}

	for i := 0; i < 10; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-fired:
		t.Fatal("collection fired the callback again after explicit unbind")
	default:
	}
}
