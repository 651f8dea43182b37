package closure

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/ius/corebridge/abi"
)

// goArgType mirrors callframe's mapping from ABI category to the Go
// type purego's generated trampoline code expects on the stack/in
// registers.
func goArgType(d *abi.Descriptor) reflect.Type {
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

// nativeToManaged converts one trampoline-supplied native argument
// (already a Go primitive of goArgType(d)) into a managed value via the
// Value Bridge, round-tripping through a byte slot so the same
// alignment/width rules apply as for regular NativeFunction calls.
func nativeToManaged(d *abi.Descriptor, native reflect.Value) (reflect.Value, error) {
	slot := make([]byte, max(d.Size(), abi.PointerSize))
	if err := writeGoValue(d, slot, native); err != nil {
		return reflect.Value{}, err
	}
	return abi.FromForeign(d, slot)
}

// managedToNative converts a managed return value into the Go primitive
// type the trampoline must return to native code, packing through a
// byte slot via the Value Bridge and reading the raw word back out so
// the same widths/alignment rules apply as for a regular NativeFunction
// return.
func managedToNative(d *abi.Descriptor, managed reflect.Value) (reflect.Value, error) {
	slot := make([]byte, max(d.Size(), abi.PointerSize))
	if err := abi.ToForeign(d, managed, slot); err != nil {
		return reflect.Value{}, err
	}
	goType := goArgType(d)
	switch d.Category {
	case abi.Float:
		return reflect.ValueOf(math.Float32frombits(binary.NativeEndian.Uint32(slot))), nil
	case abi.Double:
		return reflect.ValueOf(math.Float64frombits(binary.NativeEndian.Uint64(slot))), nil
	default:
		var w uint64
		switch d.Size() {
		case 1:
			w = uint64(slot[0])
		case 2:
			w = uint64(binary.NativeEndian.Uint16(slot))
		case 4:
			w = uint64(binary.NativeEndian.Uint32(slot))
		default:
			w = binary.NativeEndian.Uint64(slot)
		}
		return reflect.ValueOf(w).Convert(goType), nil
	}
}

// writeGoValue packs a Go primitive (as produced by purego's generated
// trampoline) into the slot the way abi.ToForeign would from a managed
// numeric, without requiring the caller to already hold a managed value.
func writeGoValue(d *abi.Descriptor, slot []byte, v reflect.Value) error {
	return abi.ToForeign(d, v, slot)
}
