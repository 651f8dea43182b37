package callframe

import (
	"encoding/binary"
	"math"
	"reflect"
	"runtime/debug"

	"github.com/ebitengine/purego"

	"github.com/ius/corebridge/abi"
)

// ManagedScope is the minimal hook the engine needs into the Runtime
// Core's scope discipline: release the interpreter lock for the
// duration of the native dispatch window and
// reacquire it afterwards (step 6). Implemented by runtimecore.Scope;
// kept as an interface here so callframe has no dependency on
// runtimecore (the dependency runs the other way: runtimecore composes
// an Engine).
type ManagedScope interface {
	Leave()
	Reenter()
}

// Engine is the Call Frame Engine.
type Engine struct{}

// NewEngine constructs a Call Frame Engine. It holds no state: call
// descriptors are owned by the Function records passed to Invoke.
func NewEngine() *Engine { return &Engine{} }

// Invoke runs the six-step algorithm: arity check, return
// slot allocation, argument block allocation, marshaling, dispatch
// (releasing scope around the call and recovering hardware traps), and
// re-entry with result unmarshaling.
func (e *Engine) Invoke(fn *Function, args []reflect.Value, scope ManagedScope) (result reflect.Value, err error) {
	if len(args) != len(fn.ArgTypes) {
		return reflect.Value{}, abi.Newf(abi.ArgumentCountMismatch,
			"function expects %d arguments, got %d", len(fn.ArgTypes), len(args))
	}

	retSize := fn.ReturnType.Size()
	if retSize < abi.PointerSize {
		retSize = abi.PointerSize
	}
	retSlot := make([]byte, retSize)

	argBlock := make([]byte, fn.TotalArglistBytes)
	offsets := make([]int, len(fn.ArgTypes))
	offset := 0
	for i, a := range fn.ArgTypes {
		offset = alignUpEngine(offset, a.Align())
		offsets[i] = offset
		offset += a.Size()
	}
	for i, a := range fn.ArgTypes {
		slot := argBlock[offsets[i] : offsets[i]+a.Size()]
		if err := abi.ToForeign(a, args[i], slot); err != nil {
			return reflect.Value{}, err
		}
	}

	if scope != nil {
		scope.Leave()
	}
	trapped, dispatchErr := e.dispatchProtected(fn, argBlock, offsets, retSlot)
	if scope != nil {
		scope.Reenter()
	}

	if trapped != nil {
		return reflect.Value{}, trapped
	}
	if dispatchErr != nil {
		return reflect.Value{}, dispatchErr
	}

	return abi.FromForeign(fn.ReturnType, retSlot)
}

// dispatchProtected wraps the actual native call with a scoped
// trap-catcher guard (Design Notes: "Exception for control flow").
// debug.SetPanicOnFault converts an invalid memory access from the
// callee, if it manifests as a Go-observable fault, into a recoverable
// panic instead of crashing the process; the caught value is converted
// into a NativeException carrying what context is available.
func (e *Engine) dispatchProtected(fn *Function, argBlock []byte, offsets []int, retSlot []byte) (trapped error, err error) {
	debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(false)
	defer func() {
		if r := recover(); r != nil {
			trapped = abi.Newf(abi.NativeException, "hardware trap during native dispatch: %v", r)
		}
	}()

	if hasFloat(fn) {
		return nil, dispatchViaReflect(fn, argBlock, offsets, retSlot)
	}
	return nil, dispatchViaSyscallN(fn, argBlock, offsets, retSlot)
}

func hasFloat(fn *Function) bool {
	if fn.ReturnType.Category == abi.Float || fn.ReturnType.Category == abi.Double {
		return true
	}
	for _, a := range fn.ArgTypes {
		if a.Category == abi.Float || a.Category == abi.Double {
			return true
		}
	}
	return false
}

// dispatchViaSyscallN handles integer/pointer-only prototypes through
// purego.SyscallN, which only carries general-purpose-register-class
// arguments.
func dispatchViaSyscallN(fn *Function, argBlock []byte, offsets []int, retSlot []byte) error {
	var words [9]uintptr // purego.SyscallN supports up to 9 integer args
	if len(fn.ArgTypes) > len(words) {
		return abi.Newf(abi.Unsupported, "too many integer arguments for SyscallN dispatch: %d", len(fn.ArgTypes))
	}
	for i, a := range fn.ArgTypes {
		words[i] = wordFromSlot(a, argBlock[offsets[i]:offsets[i]+a.Size()])
	}
	r1, _, _ := purego.SyscallN(fn.Addr, words[:len(fn.ArgTypes)]...)
	putWordIntoSlot(fn.ReturnType, retSlot, r1)
	return nil
}

// dispatchViaReflect handles prototypes containing a float or double by
// synthesizing a Go function value with purego.RegisterFunc, which
// understands how to route floating point arguments into XMM/vector
// registers the way SyscallN cannot.
func dispatchViaReflect(fn *Function, argBlock []byte, offsets []int, retSlot []byte) error {
	in := make([]reflect.Type, len(fn.ArgTypes))
	for i, a := range fn.ArgTypes {
		in[i] = goTypeFor(a)
	}
	var out []reflect.Type
	if fn.ReturnType.Category != abi.Void {
		out = []reflect.Type{goTypeFor(fn.ReturnType)}
	}
	funcType := reflect.FuncOf(in, out, false)

	fnPtr := reflect.New(funcType)
	purego.RegisterFunc(fnPtr.Interface(), fn.Addr)
	callable := fnPtr.Elem()

	callArgs := make([]reflect.Value, len(fn.ArgTypes))
	for i, a := range fn.ArgTypes {
		callArgs[i] = goValueFromSlot(a, argBlock[offsets[i]:offsets[i]+a.Size()])
	}
	results := callable.Call(callArgs)
	if len(results) == 1 {
		putGoValueIntoSlot(fn.ReturnType, retSlot, results[0])
	}
	return nil
}

func goTypeFor(d *abi.Descriptor) reflect.Type {
	switch d.Category {
	case abi.Float:
		return reflect.TypeOf(float32(0))
	case abi.Double:
		return reflect.TypeOf(float64(0))
	case abi.Pointer:
		return reflect.TypeOf(uintptr(0))
	default:
		if d.Size() == 8 {
			return reflect.TypeOf(int64(0))
		}
		return reflect.TypeOf(int32(0))
	}
}

func goValueFromSlot(d *abi.Descriptor, slot []byte) reflect.Value {
	switch d.Category {
	case abi.Float:
		bits := binary.NativeEndian.Uint32(slot)
		return reflect.ValueOf(math.Float32frombits(bits))
	case abi.Double:
		bits := binary.NativeEndian.Uint64(slot)
		return reflect.ValueOf(math.Float64frombits(bits))
	default:
		w := wordFromSlot(d, slot)
		return reflect.ValueOf(w).Convert(goTypeFor(d))
	}
}

func putGoValueIntoSlot(d *abi.Descriptor, slot []byte, v reflect.Value) {
	switch d.Category {
	case abi.Float, abi.Double:
		putWordIntoSlot(d, slot, uintptrBitsOfFloat(d, v))
	default:
		putWordIntoSlot(d, slot, uintptr(v.Convert(reflect.TypeOf(uintptr(0))).Uint()))
	}
}

func alignUpEngine(offset, align int) int {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}
