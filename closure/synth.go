// Package closure implements the Closure Synthesizer: allocating
// executable trampolines that forward native calls to managed
// callables, and owning the callable reference for the trampoline's
// lifetime.
package closure

import (
	"reflect"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/ius/corebridge/abi"
	"github.com/ius/corebridge/callframe"
)

// Handle is an opaque protect handle from the ManagedEngine collaborator
// ("opaque value stack with heap references and a mutex").
type Handle any

// Engine is the managed-interpreter collaborator this package needs:
// enter/leave its scope around a native->managed crossing, convert a
// managed exception into an unhandled-exception notification, and
// protect/unprotect the callable for the trampoline's lifetime. A real
// implementation is supplied by runtimecore.Core.
type Engine interface {
	EnterScope()
	LeaveScope()
	Protect(v reflect.Value) Handle
	// RequestUnprotect releases h through the Runtime Core's
	// deferred-unprotect queue instead of touching the managed engine
	// inline, since Free can be called from any goroutine.
	RequestUnprotect(h Handle)
	// CallProtected invokes callable with args inside a protected call
	//: any managed throw is captured rather than
	// propagated, and reported via thrown.
	CallProtected(callable reflect.Value, args []reflect.Value) (result reflect.Value, thrown any)
	// NotifyUnhandledException forwards a throw captured by
	// CallProtected to the Runtime Core's exception sink
	// closure-synthesizer policy note.
	NotifyUnhandledException(thrown any)
}

// Record is a Native-Callback Record.
type Record struct {
	mu         sync.Mutex
	engine     Engine
	handle     Handle
	callable   reflect.Value
	Trampoline uintptr
	ArgTypes   []*abi.Descriptor
	ReturnType *abi.Descriptor
	ABI        callframe.Tag
	freed      bool
}

// Create builds a Native-Callback Record: it protects the managed
// callable for the trampoline's lifetime and allocates an executable
// trampoline via purego.NewCallback that, when entered from native code,
// runs the sequence in 
func Create(engine Engine, callable reflect.Value, returnType *abi.Descriptor, argTypes []*abi.Descriptor, tag callframe.Tag) (*Record, error) {
	if callable.Kind() != reflect.Func {
		return nil, abi.Newf(abi.TypeMismatch, "NativeCallback target must be callable, got %s", callable.Kind())
	}

	r := &Record{
		engine:     engine,
		callable:   callable,
		ArgTypes:   argTypes,
		ReturnType: returnType,
		ABI:        tag,
	}
	r.handle = engine.Protect(callable)

	trampolineFn := r.buildTrampolineFunc()
	cbPtr := reflect.New(trampolineFn.Type())
	cbPtr.Elem().Set(trampolineFn)
	r.Trampoline = purego.NewCallback(cbPtr.Elem().Interface())
	return r, nil
}

// buildTrampolineFunc synthesizes the reflect.Value that purego.NewCallback
// wraps. Its Go-level signature mirrors the native prototype's integer
// and floating categories (see callframe's goTypeFor mapping), so the
// calling convention purego generates matches what native code expects.
func (r *Record) buildTrampolineFunc() reflect.Value {
	in := make([]reflect.Type, len(r.ArgTypes))
	for i, a := range r.ArgTypes {
		in[i] = goArgType(a)
	}
	var out []reflect.Type
	if r.ReturnType.Category != abi.Void {
		out = []reflect.Type{goArgType(r.ReturnType)}
	}
	fnType := reflect.FuncOf(in, out, false)
	return reflect.MakeFunc(fnType, r.invoke)
}

// invoke is the Go entry point purego's generated trampoline calls.
// Implements steps 1-6.
func (r *Record) invoke(nativeArgs []reflect.Value) []reflect.Value {
	r.engine.EnterScope()
	defer r.engine.LeaveScope()

	var zero reflect.Value
	if r.ReturnType.Category != abi.Void {
		zero = reflect.Zero(goArgType(r.ReturnType))
	}

	managedArgs := make([]reflect.Value, len(nativeArgs))
	for i, a := range r.ArgTypes {
		mv, err := nativeToManaged(a, nativeArgs[i])
		if err != nil {
			r.engine.NotifyUnhandledException(err)
			if zero.IsValid() {
				return []reflect.Value{zero}
			}
			return nil
		}
		managedArgs[i] = mv
	}

	result, thrown := r.engine.CallProtected(r.callable, managedArgs)
	if thrown != nil {
		r.engine.NotifyUnhandledException(thrown)
		if zero.IsValid() {
			return []reflect.Value{zero}
		}
		return nil
	}

	if r.ReturnType.Category == abi.Void || !result.IsValid() {
		return nil
	}
	nativeResult, err := managedToNative(r.ReturnType, result)
	if err != nil {
		r.engine.NotifyUnhandledException(err)
		return []reflect.Value{zero}
	}
	return []reflect.Value{nativeResult}
}

// Free releases the trampoline and unprotects the callable. Safe to
// call more than once; subsequent calls are no-ops.
func (r *Record) Free() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.freed {
		return
	}
	r.freed = true
	purego.UnrefCallback(r.Trampoline)
	r.engine.RequestUnprotect(r.handle)
}
