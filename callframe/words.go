package callframe

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/ius/corebridge/abi"
)

// wordFromSlot reads a descriptor's bytes out of an argument-block slot
// and zero-extends them into a full machine word, for descriptors
// known not to be Float/Double (those never reach this helper: the
// engine only calls it on the SyscallN path, which is selected
// precisely when no float/double is present).
func wordFromSlot(d *abi.Descriptor, slot []byte) uintptr {
	switch d.Size() {
	case 1:
		return uintptr(slot[0])
	case 2:
		return uintptr(binary.NativeEndian.Uint16(slot))
	case 4:
		return uintptr(binary.NativeEndian.Uint32(slot))
	case 8:
		return uintptr(binary.NativeEndian.Uint64(slot))
	default:
		return 0
	}
}

// putWordIntoSlot writes a machine word back into a return/argument
// slot, truncating to the descriptor's size.
func putWordIntoSlot(d *abi.Descriptor, slot []byte, w uintptr) {
	switch {
	case d.Category == abi.Void:
		return
	case d.Category == abi.Float:
		binary.NativeEndian.PutUint32(slot, uint32(w))
	case d.Category == abi.Double:
		binary.NativeEndian.PutUint64(slot, uint64(w))
	default:
		switch d.Size() {
		case 1:
			slot[0] = byte(w)
		case 2:
			binary.NativeEndian.PutUint16(slot, uint16(w))
		case 4:
			binary.NativeEndian.PutUint32(slot, uint32(w))
		case 8:
			binary.NativeEndian.PutUint64(slot, uint64(w))
		}
	}
}

// uintptrBitsOfFloat reinterprets a float32/float64 reflect.Value's bit
// pattern as a machine word, for storage through putWordIntoSlot.
func uintptrBitsOfFloat(d *abi.Descriptor, v reflect.Value) uintptr {
	switch d.Category {
	case abi.Float:
		return uintptr(math.Float32bits(float32(v.Float())))
	case abi.Double:
		return uintptr(math.Float64bits(v.Float()))
	default:
		return 0
	}
}
