package abi

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// NativePointer is the opaque address-sized integer used to cross the
// managed/native boundary for addresses. Grounded on the raw uintptr
// arithmetic other_examples/0279f2c1_pdf-purego__syscall_sysv.go.go does
// whenever it touches a foreign address.
type NativePointer uintptr

// NewNativePointer accepts a numeric or parses a hex/decimal string the
// way script-level `ptr(...)` constructors do.
func NewNativePointer(v any) (NativePointer, error) {
	switch t := v.(type) {
	case NativePointer:
		return t, nil
	case uintptr:
		return NativePointer(t), nil
	case int:
		return NativePointer(t), nil
	case int64:
		return NativePointer(t), nil
	case uint64:
		return NativePointer(t), nil
	case string:
		s := strings.TrimSpace(t)
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s = s[2:]
			base = 16
		}
		n, err := strconv.ParseUint(s, base, 64)
		if err != nil {
			return 0, Newf(TypeMismatch, "cannot parse %q as a pointer: %v", t, err)
		}
		return NativePointer(n), nil
	default:
		return 0, Newf(TypeMismatch, "cannot convert %T to NativePointer", v)
	}
}

func (p NativePointer) IsNull() bool { return p == 0 }

func (p NativePointer) Add(n NativePointer) NativePointer { return p + n }
func (p NativePointer) Sub(n NativePointer) NativePointer { return p - n }
func (p NativePointer) And(n NativePointer) NativePointer { return p & n }
func (p NativePointer) Or(n NativePointer) NativePointer  { return p | n }
func (p NativePointer) Xor(n NativePointer) NativePointer { return p ^ n }
func (p NativePointer) Shr(n uint) NativePointer          { return p >> n }
func (p NativePointer) Shl(n uint) NativePointer          { return p << n }

// Compare returns -1, 0, or 1 for ordering two pointer values.
func (p NativePointer) Compare(n NativePointer) int {
	switch {
	case p < n:
		return -1
	case p > n:
		return 1
	default:
		return 0
	}
}

func (p NativePointer) ToInt32() int32 { return int32(uint32(p)) }

// ToString formats the pointer in the requested radix (10 or 16).
// Radix 16 omits the 0x prefix that the zero-argument String form adds.
func (p NativePointer) ToString(radix int) (string, error) {
	switch radix {
	case 10:
		return strconv.FormatUint(uint64(p), 10), nil
	case 16:
		return strconv.FormatUint(uint64(p), 16), nil
	default:
		return "", Newf(InvalidType, "unsupported pointer radix %d", radix)
	}
}

// String implements fmt.Stringer: "0x<hex>" with no radix argument.
func (p NativePointer) String() string {
	return fmt.Sprintf("0x%x", uint64(p))
}

// ToJSON returns the same string representation used by String(), bare
// and unquoted, so parsing it back through NewNativePointer round-trips
// to an equal value.
func (p NativePointer) ToJSON() (string, error) {
	return p.String(), nil
}

// ToMatchPattern emits hex byte pairs in host byte order, space
// separated, width = pointer size
func (p NativePointer) ToMatchPattern() string {
	var buf [PointerSize]byte
	binary.NativeEndian.PutUint64(buf[:], uint64(p))
	parts := make([]string, PointerSize)
	for i, b := range buf {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}
