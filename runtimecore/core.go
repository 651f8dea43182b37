// Package runtimecore implements the Runtime Core: the scripting
// runtime's scope discipline, timers, weak references, message sinks,
// deferred-unprotect queue, event waits, and CPU register accessors.
//
// Core keeps the atomic run-id counter at its struct head, mutex-guarded
// mutable state, a done-channel cancellation signal, and a Panic capture
// shape analogous to a tree-walking interpreter's own run loop, minus
// the AST/frame machinery: that role is filled by the ManagedEngine
// collaborator instead, since the managed interpreter itself stays an
// opaque value stack here.
package runtimecore

import (
	"context"
	"reflect"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ius/corebridge/abi"
	"github.com/ius/corebridge/closure"
)

// Handle is the opaque protect handle returned by ManagedEngine.Protect.
// Defined as an alias to closure.Handle so *Core satisfies
// closure.Engine without closure needing to know about runtimecore,
// matching callframe.ManagedScope's documented direction of dependency.
type Handle = closure.Handle

// ManagedEngine is the opaque managed-interpreter collaborator: a value
// stack with heap references and a mutex, presented to Core as three
// operations plus garbage collection.
type ManagedEngine interface {
	Protect(v reflect.Value) Handle
	Unprotect(h Handle)
	Call(callable reflect.Value, args []reflect.Value) (result reflect.Value, thrown any, err error)
	GC()
}

// State is the Runtime Core lifecycle state machine
type State int

const (
	Uninitialized State = iota
	Initialized
	Flushed
	Disposed
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Flushed:
		return "Flushed"
	case Disposed:
		return "Disposed"
	case Finalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Panic is a captured managed exception: value, callers, and stack,
// adapted to additionally carry a TrapContext when the panic originated
// from a native hardware trap rather than a managed throw.
type Panic struct {
	Value   any
	Callers []uintptr
	Stack   []byte
	Trap    *TrapContext
}

func (p *Panic) Error() string {
	return "panic: " + formatPanicValue(p.Value)
}

func formatPanicValue(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unrecoverable managed exception"
}

// TrapContext captures what CPU Context records for a native
// exception: trap kind, faulting address, register snapshot.
type TrapContext struct {
	Kind    string
	Address abi.NativePointer
	CPU     *CPUContext
}

// Core is the Runtime Core. Its zero value is not usable;
// construct with New.
type Core struct {
	// id is an atomic run-id counter, placed at the struct head for
	// 32-bit alignment.
	id uint64

	mu     sync.RWMutex
	state  State
	engine ManagedEngine
	logger *zap.Logger

	// execMu is the interpreter execution lock: held while a managed
	// frame is live, released for the duration of a native dispatch
	// window or a reentrant closure invocation
	//. Kept separate from mu, which only ever
	// guards Core's own bookkeeping fields, so scope transitions never
	// contend with state queries like State().
	execMu sync.Mutex

	unhandledException reflect.Value
	hasUnhandled       bool
	incomingMessage    reflect.Value
	hasIncoming        bool
	hostSink           HostSink
	stalkerObserver    func(threadID uint64, eventKind int)

	eventMu    sync.Mutex
	eventCond  *sync.Cond
	eventCount uint64

	timers *timerSet
	weak   *weakSet
	deferQ *deferredUnprotectQueue

	done   chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

// HostSink is the host-facing message emitter: (script, text, bytes) ->
// void
type HostSink interface {
	Emit(scriptName, text string, data []byte)
}

// Options configure a new Core.
type Options struct {
	Logger *zap.Logger
	Host   HostSink
}

// New constructs an Uninitialized Runtime Core bound to engine.
func New(engine ManagedEngine, opts Options) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Core{
		engine:   engine,
		logger:   logger,
		hostSink: opts.Host,
		timers:   newTimerSet(),
		weak:     newWeakSet(),
		deferQ:   newDeferredUnprotectQueue(),
	}
	c.eventCond = sync.NewCond(&c.eventMu)
	return c
}

// Init transitions Uninitialized -> Initialized, starting the
// single-threaded scheduler loop and the deferred-unprotect drain loop
// as two goroutines supervised by an errgroup, using the familiar
// goroutine+select cancellation shape.
func (c *Core) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Flushed {
		// The scheduler and drain goroutines keep running across Flush.
		c.state = Initialized
		return nil
	}
	if c.state != Uninitialized {
		return abi.Newf(abi.Unsupported, "Init called in state %s", c.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	g, gctx := errgroup.WithContext(runCtx)
	c.group = g

	g.Go(func() error { return c.timers.run(gctx, c) })
	g.Go(func() error { return c.deferQ.run(gctx, c) })

	c.state = Initialized
	return nil
}

// Flush transitions Initialized -> Flushed: cancels all outstanding
// timers, drains the idle loop until quiescent, and drops weak-ref
// bindings (each firing its callback once) "Cancellation".
// Flushed is reversible: Init may be called again after Flush.
func (c *Core) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Initialized {
		return
	}
	c.timers.cancelAll()
	c.deferQ.drainSync(c)
	c.weak.unbindAll(c)
	c.state = Flushed
}

// Dispose transitions to Disposed: stops the scheduler and drain
// goroutines and releases the scope condvar waiters. Calls after
// disposal to PostMessage/RequestUnprotect are no-ops, not errors, per
// state machine.
func (c *Core) Dispose() {
	c.mu.Lock()
	if c.state == Disposed || c.state == Finalized {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	done := c.done
	group := c.group
	c.state = Disposed
	c.mu.Unlock()

	if group != nil {
		_ = group.Wait()
	}
	if done != nil {
		close(done)
	}

	c.eventMu.Lock()
	c.eventCount++
	c.eventCond.Broadcast()
	c.eventMu.Unlock()
}

// Finalize transitions Disposed -> Finalized. No further operations are
// permitted on the Core.
func (c *Core) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Finalized
}

func (c *Core) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Protect/Unprotect/Call/GC forward to the ManagedEngine collaborator;
// Core adds nothing here beyond being the composition root other
// packages depend on (closure.Engine, callframe.ManagedScope).
func (c *Core) Protect(v reflect.Value) Handle { return c.engine.Protect(v) }
func (c *Core) Unprotect(h Handle)             { c.engine.Unprotect(h) }
func (c *Core) GC()                            { c.engine.GC() }

// CallProtected implements the "protected call" referenced by 
// step 4 and §4.D "Protected calls inside a scope capture thrown managed
// values". It additionally recovers a Go-level panic from the engine
// itself, converting it into a thrown value so a misbehaving engine
// cannot crash the host process from inside a trampoline.
func (c *Core) CallProtected(callable reflect.Value, args []reflect.Value) (result reflect.Value, thrown any) {
	defer func() {
		if r := recover(); r != nil {
			thrown = &Panic{Value: r, Stack: debug.Stack()}
		}
	}()
	var err error
	result, thrown, err = c.engine.Call(callable, args)
	if err != nil && thrown == nil {
		thrown = err
	}
	return result, thrown
}

// NotifyUnhandledException routes a captured throw to the unhandled
// exception sink
func (c *Core) NotifyUnhandledException(thrown any) {
	c.mu.RLock()
	cb := c.unhandledException
	has := c.hasUnhandled
	c.mu.RUnlock()
	if !has {
		c.logger.Warn("unhandled native-callback exception with no sink installed", zap.Any("value", thrown))
		return
	}
	c.CallProtected(cb, []reflect.Value{reflect.ValueOf(thrown)})
}

// SetUnhandledExceptionCallback installs or clears (nil) the sink
// invoked when an uncaught managed exception reaches the top level.
func (c *Core) SetUnhandledExceptionCallback(cb reflect.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unhandledException = cb
	c.hasUnhandled = cb.IsValid()
}

// SetIncomingMessageCallback installs or clears the incoming sink.
func (c *Core) SetIncomingMessageCallback(cb reflect.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incomingMessage = cb
	c.hasIncoming = cb.IsValid()
}

// SetStalkerObserver registers the callback invoked whenever the
// (out-of-scope) instruction stalker reports an event for a thread. The
// stalker itself is an external collaborator (); the core
// only owns this registration slot, per 
func (c *Core) SetStalkerObserver(cb func(threadID uint64, eventKind int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalkerObserver = cb
}

// NotifyStalkerEvent forwards an event from the (external) stalker to
// the registered observer, if any.
func (c *Core) NotifyStalkerEvent(threadID uint64, eventKind int) {
	c.mu.RLock()
	cb := c.stalkerObserver
	c.mu.RUnlock()
	if cb != nil {
		cb(threadID, eventKind)
	}
}

// EmitMessage forwards an outgoing message to the host
func (c *Core) EmitMessage(scriptName, text string, data []byte) {
	if c.hostSink != nil {
		c.hostSink.Emit(scriptName, text, data)
	}
}

// PostMessage delivers an incoming message to the sink (if installed),
// entering a scope, then increments the event counter and broadcasts
// the condition variable so wait_for_event unblocks. No-op after
// disposal, per the state machine in 
func (c *Core) PostMessage(text string) {
	if c.State() >= Disposed {
		return
	}
	c.mu.RLock()
	cb := c.incomingMessage
	has := c.hasIncoming
	c.mu.RUnlock()

	if has {
		c.EnterScope()
		c.CallProtected(cb, []reflect.Value{reflect.ValueOf(text)})
		c.LeaveScope()
	}

	c.eventMu.Lock()
	c.eventCount++
	c.eventCond.Broadcast()
	c.eventMu.Unlock()
}

// WaitForEvent blocks the calling (interpreter) thread until the event
// counter advances past its value on entry, or ctx is canceled.
func (c *Core) WaitForEvent(ctx context.Context) error {
	c.eventMu.Lock()
	target := c.eventCount
	for c.eventCount <= target {
		if ctx.Err() != nil {
			c.eventMu.Unlock()
			return ctx.Err()
		}
		waitDone := make(chan struct{})
		go func() {
			c.eventMu.Lock()
			if c.eventCount <= target && ctx.Err() == nil {
				c.eventCond.Wait()
			}
			c.eventMu.Unlock()
			close(waitDone)
		}()
		c.eventMu.Unlock()
		select {
		case <-waitDone:
		case <-ctx.Done():
			c.eventMu.Lock()
			c.eventCond.Broadcast() // release the helper goroutine's Wait
			c.eventMu.Unlock()
			<-waitDone
			return ctx.Err()
		}
		c.eventMu.Lock()
	}
	c.eventMu.Unlock()
	return nil
}

// BindWeak registers target for a weak-notify callback, delegating to
// the Core's weakSet.
func (c *Core) BindWeak(target reflect.Value, onDead reflect.Value) WeakID {
	return c.weak.Bind(c, target, onDead)
}

// UnbindWeak cancels a pending weak-ref binding, delivering its
// notification immediately rather than suppressing it.
func (c *Core) UnbindWeak(id WeakID) bool { return c.weak.Unbind(c, id) }

// IsWeakAlive reports whether a bound weak-ref's target is still
// reachable.
func (c *Core) IsWeakAlive(id WeakID) bool { return c.weak.IsAlive(id) }

// SetTimeout schedules fn to run once after delay.
func (c *Core) SetTimeout(fn reflect.Value, args []reflect.Value, delay time.Duration) TimerID {
	return c.timers.Schedule(fn, args, delay, false)
}

// SetInterval schedules fn to run repeatedly every interval (
// setInterval).
func (c *Core) SetInterval(fn reflect.Value, args []reflect.Value, interval time.Duration) TimerID {
	return c.timers.Schedule(fn, args, interval, true)
}

// ClearTimer cancels a pending setTimeout/setInterval registration; a
// single implementation backs both clearTimeout and clearInterval, as
// in the standard library's own timer API.
func (c *Core) ClearTimer(id TimerID) bool { return c.timers.Cancel(id) }

// runid atomically reads the run-id counter.
func (c *Core) runid() uint64 { return atomic.LoadUint64(&c.id) }

func init() {
	// Ensure goroutine-heavy scheduler loops don't starve GOMAXPROCS=1
	// environments during tests; relies on the default scheduler rather
	// than pinning threads.
	_ = runtime.GOMAXPROCS
}
