package runtimecore

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubEngine is a minimal ManagedEngine for exercising Core in
// isolation, analogous to closure's fakeEngine test double.
type stubEngine struct {
	nextHandle int
	protected  map[Handle]reflect.Value
}

func newStubEngine() *stubEngine {
	return &stubEngine{protected: make(map[Handle]reflect.Value)}
}

func (s *stubEngine) Protect(v reflect.Value) Handle {
	s.nextHandle++
	h := Handle(s.nextHandle)
	s.protected[h] = v
	return h
}

func (s *stubEngine) Unprotect(h Handle) { delete(s.protected, h) }

func (s *stubEngine) Call(callable reflect.Value, args []reflect.Value) (reflect.Value, any, error) {
	defer func() { recover() }()
	out := callable.Call(args)
	if len(out) == 0 {
		return reflect.Value{}, nil, nil
	}
	return out[0], nil, nil
}

func (s *stubEngine) GC() {}

func TestCoreLifecycleStateMachine(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.Equal(t, Uninitialized, c.State())

	require.NoError(t, c.Init(context.Background()))
	require.Equal(t, Initialized, c.State())

	err := c.Init(context.Background())
	require.Error(t, err)

	c.Flush()
	require.Equal(t, Flushed, c.State())

	c.Dispose()
	require.Equal(t, Disposed, c.State())

	c.Dispose() // idempotent
	require.Equal(t, Disposed, c.State())

	c.Finalize()
	require.Equal(t, Finalized, c.State())
}

func TestPostMessageDeliversToIncomingSink(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NoError(t, c.Init(context.Background()))
	defer c.Dispose()

	received := make(chan string, 1)
	cb := reflect.ValueOf(func(text string) string {
		received <- text
		return text
	})
	c.SetIncomingMessageCallback(cb)

	c.PostMessage(`{"type":"ping"}`)

	select {
	case got := <-received:
		require.Equal(t, `{"type":"ping"}`, got)
	case <-time.After(time.Second):
		t.Fatal("incoming message callback was not invoked")
	}
}

func TestWaitForEventUnblocksOnPostMessage(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NoError(t, c.Init(context.Background()))
	defer c.Dispose()

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- c.WaitForEvent(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	c.PostMessage("tick")

	select {
	case err := <-waitDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForEvent did not unblock after PostMessage")
	}
}

func TestWaitForEventRespectsContextCancellation(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NoError(t, c.Init(context.Background()))
	defer c.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.WaitForEvent(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotifyUnhandledExceptionWithNoSinkDoesNotPanic(t *testing.T) {
	c := New(newStubEngine(), Options{})
	require.NotPanics(t, func() {
		c.NotifyUnhandledException("boom")
	})
}

// panickingEngine's Call does not recover, unlike stubEngine, so it
// exercises CallProtected's own recover path rather than the
// collaborator's.
type panickingEngine struct{ stubEngine }

func (p *panickingEngine) Call(callable reflect.Value, args []reflect.Value) (reflect.Value, any, error) {
	return callable.Call(args)[0], nil, nil
}

func TestCallProtectedRecoversEngineLevelPanic(t *testing.T) {
	eng := &panickingEngine{stubEngine: *newStubEngine()}
	c := New(eng, Options{})
	panicking := reflect.ValueOf(func() int { panic("bridge failure") })

	result, thrown := c.CallProtected(panicking, nil)
	require.False(t, result.IsValid())
	require.NotNil(t, thrown)
}
