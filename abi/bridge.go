package abi

import (
	"encoding/binary"
	"math"
	"reflect"
)

// Int64Value and UInt64Value are the 64-bit numeric wrapper values used
// when a slong/ulong/sint64/uint64 result does not fit losslessly in a
// managed numeric (float64) — the managed-language equivalent of a
// BigInt fallback for Int64/UInt64.
type Int64Value int64
type UInt64Value uint64

// maxSafeInteger is the largest integer magnitude that round-trips
// losslessly through float64, matching the managed numeric's safe range.
const maxSafeInteger = 1 << 53

// pointerish is implemented by managed objects that expose a numeric
// pointer attribute: any value convertible to one, whether a bare
// numeric or an object carrying a numeric pointer attribute.
type pointerish interface {
	NativePointer() NativePointer
}

// ToForeign converts a managed value into the foreign ABI slot for the
// given descriptor. slot must be at least d.Size() bytes (the Struct
// layout size for struct descriptors); bytes past that are not written.
func ToForeign(d *Descriptor, v reflect.Value, slot []byte) error {
	if d.Category == Void {
		return Newf(TypeMismatch, "void is not a legal argument slot")
	}
	if len(slot) < d.Size() {
		return Newf(TypeMismatch, "slot too small for %s: have %d need %d", d.Category, len(slot), d.Size())
	}
	switch d.Category {
	case Pointer:
		p, err := valueToPointer(v)
		if err != nil {
			return err
		}
		binary.NativeEndian.PutUint64(slot, uint64(p))
		return nil
	case SInt, UInt, SInt32, UInt32:
		n, err := valueToInt64(v)
		if err != nil {
			return err
		}
		binary.NativeEndian.PutUint32(slot, uint32(n))
		return nil
	case SChar, UChar, SInt8, UInt8:
		n, err := valueToInt64(v)
		if err != nil {
			return err
		}
		slot[0] = byte(n)
		return nil
	case SInt16, UInt16:
		n, err := valueToInt64(v)
		if err != nil {
			return err
		}
		binary.NativeEndian.PutUint16(slot, uint16(n))
		return nil
	case SLong, ULong, SInt64, UInt64:
		n, err := valueToWideInt(v)
		if err != nil {
			return err
		}
		binary.NativeEndian.PutUint64(slot, uint64(n))
		return nil
	case Float:
		f, err := valueToFloat(v)
		if err != nil {
			return err
		}
		binary.NativeEndian.PutUint32(slot, math.Float32bits(float32(f)))
		return nil
	case Double:
		f, err := valueToFloat(v)
		if err != nil {
			return err
		}
		binary.NativeEndian.PutUint64(slot, math.Float64bits(f))
		return nil
	case Struct:
		return structToForeign(d, v, slot)
	default:
		return Newf(InvalidType, "unsupported descriptor category %s", d.Category)
	}
}

// FromForeign converts a foreign ABI slot back into a managed value.
func FromForeign(d *Descriptor, slot []byte) (reflect.Value, error) {
	switch d.Category {
	case Void:
		return reflect.Value{}, nil
	case Pointer:
		p := NativePointer(binary.NativeEndian.Uint64(slot))
		return reflect.ValueOf(p), nil
	case SInt, SInt32:
		return reflect.ValueOf(int64(int32(binary.NativeEndian.Uint32(slot)))), nil
	case UInt, UInt32:
		return reflect.ValueOf(int64(binary.NativeEndian.Uint32(slot))), nil
	case SChar, SInt8:
		return reflect.ValueOf(int64(int8(slot[0]))), nil
	case UChar, UInt8:
		return reflect.ValueOf(int64(slot[0])), nil
	case SInt16:
		return reflect.ValueOf(int64(int16(binary.NativeEndian.Uint16(slot)))), nil
	case UInt16:
		return reflect.ValueOf(int64(binary.NativeEndian.Uint16(slot))), nil
	case SLong, SInt64:
		n := int64(binary.NativeEndian.Uint64(slot))
		if n > -maxSafeInteger && n < maxSafeInteger {
			return reflect.ValueOf(float64(n)), nil
		}
		return reflect.ValueOf(Int64Value(n)), nil
	case ULong, UInt64:
		n := binary.NativeEndian.Uint64(slot)
		if n < maxSafeInteger {
			return reflect.ValueOf(float64(n)), nil
		}
		return reflect.ValueOf(UInt64Value(n)), nil
	case Float:
		return reflect.ValueOf(float64(math.Float32frombits(binary.NativeEndian.Uint32(slot)))), nil
	case Double:
		return reflect.ValueOf(math.Float64frombits(binary.NativeEndian.Uint64(slot))), nil
	case Struct:
		return structFromForeign(d, slot)
	default:
		return reflect.Value{}, Newf(InvalidType, "unsupported descriptor category %s", d.Category)
	}
}

func structToForeign(d *Descriptor, v reflect.Value, slot []byte) error {
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return Newf(TypeMismatch, "struct argument must be an ordered sequence, got %s", v.Kind())
	}
	if v.Len() != len(d.Fields) {
		return Newf(TypeMismatch, "struct argument has %d elements, descriptor expects %d", v.Len(), len(d.Fields))
	}
	offset := 0
	for i, f := range d.Fields {
		offset = alignUp(offset, f.Align())
		elem := v.Index(i)
		if inner, ok := elem.Interface().(reflect.Value); ok {
			elem = inner
		}
		if err := ToForeign(f, elem, slot[offset:offset+f.Size()]); err != nil {
			return err
		}
		offset += f.Size()
	}
	return nil
}

func structFromForeign(d *Descriptor, slot []byte) (reflect.Value, error) {
	out := make([]reflect.Value, len(d.Fields))
	offset := 0
	for i, f := range d.Fields {
		offset = alignUp(offset, f.Align())
		fv, err := FromForeign(f, slot[offset:offset+f.Size()])
		if err != nil {
			return reflect.Value{}, err
		}
		out[i] = fv
		offset += f.Size()
	}
	return reflect.ValueOf(out), nil
}

func valueToPointer(v reflect.Value) (NativePointer, error) {
	if !v.IsValid() {
		return 0, nil
	}
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() {
		return 0, nil
	}
	if p, ok := v.Interface().(NativePointer); ok {
		return p, nil
	}
	if pi, ok := v.Interface().(pointerish); ok {
		return pi.NativePointer(), nil
	}
	return NewNativePointer(v.Interface())
}

func valueToInt64(v reflect.Value) (int64, error) {
	if !v.IsValid() {
		return 0, Newf(TypeMismatch, "expected a numeric value")
	}
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(v.Float()), nil
	default:
		return 0, Newf(TypeMismatch, "expected a numeric value, got %s", v.Kind())
	}
}

func valueToWideInt(v reflect.Value) (int64, error) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch t := v.Interface().(type) {
	case Int64Value:
		return int64(t), nil
	case UInt64Value:
		return int64(t), nil
	}
	return valueToInt64(v)
}

func valueToFloat(v reflect.Value) (float64, error) {
	if !v.IsValid() {
		return 0, Newf(TypeMismatch, "expected a numeric value")
	}
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	default:
		return 0, Newf(TypeMismatch, "expected a numeric value, got %s", v.Kind())
	}
}
