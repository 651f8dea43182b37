// Package abi implements the Value Bridge: the tagged ABI type
// descriptors and the conversion between managed values (represented as
// reflect.Value, the same representation an embedded interpreter
// carries its values in) and the foreign C ABI value union.
package abi

import "strings"

// Category is the closed set of ABI-level type tags
type Category int

const (
	Void Category = iota
	Pointer
	SInt
	UInt
	SLong
	ULong
	SChar
	UChar
	Float
	Double
	SInt8
	UInt8
	SInt16
	UInt16
	SInt32
	UInt32
	SInt64
	UInt64
	Struct
)

var categoryNames = map[Category]string{
	Void:    "void",
	Pointer: "pointer",
	SInt:    "sint",
	UInt:    "uint",
	SLong:   "slong",
	ULong:   "ulong",
	SChar:   "schar",
	UChar:   "uchar",
	Float:   "float",
	Double:  "double",
	SInt8:   "sint8",
	UInt8:   "uint8",
	SInt16:  "sint16",
	UInt16:  "uint16",
	SInt32:  "sint32",
	UInt32:  "uint32",
	SInt64:  "sint64",
	UInt64:  "uint64",
	Struct:  "struct",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "unknown"
}

// Descriptor is an ABI Type Descriptor. Struct descriptors are
// recursive via Fields; Fields is owned by the Descriptor that
// references it when the Descriptor was built from an array literal
// (NewStruct), matching ownership rule.
type Descriptor struct {
	Category Category
	Fields   []*Descriptor // only meaningful when Category == Struct
}

// PointerSize is the address width this build targets. The bridge is
// only meaningful on 64-bit hosts (Mach-O mapping, amd64/arm64 closures).
const PointerSize = 8

// Named aliases: "bool" ≡ schar.
func NamedDescriptor(name string) (*Descriptor, error) {
	switch strings.ToLower(name) {
	case "void":
		return &Descriptor{Category: Void}, nil
	case "pointer":
		return &Descriptor{Category: Pointer}, nil
	case "sint", "int":
		return &Descriptor{Category: SInt}, nil
	case "uint":
		return &Descriptor{Category: UInt}, nil
	case "slong", "long":
		return &Descriptor{Category: SLong}, nil
	case "ulong":
		return &Descriptor{Category: ULong}, nil
	case "schar", "bool":
		return &Descriptor{Category: SChar}, nil
	case "uchar":
		return &Descriptor{Category: UChar}, nil
	case "float":
		return &Descriptor{Category: Float}, nil
	case "double":
		return &Descriptor{Category: Double}, nil
	case "sint8", "int8":
		return &Descriptor{Category: SInt8}, nil
	case "uint8":
		return &Descriptor{Category: UInt8}, nil
	case "sint16", "int16":
		return &Descriptor{Category: SInt16}, nil
	case "uint16":
		return &Descriptor{Category: UInt16}, nil
	case "sint32", "int32":
		return &Descriptor{Category: SInt32}, nil
	case "uint32":
		return &Descriptor{Category: UInt32}, nil
	case "sint64", "int64":
		return &Descriptor{Category: SInt64}, nil
	case "uint64":
		return &Descriptor{Category: UInt64}, nil
	case "...":
		return nil, Newf(Unsupported, "%q is a variadic marker, not a type descriptor", name)
	default:
		return nil, Newf(InvalidType, "unknown ABI type name %q", name)
	}
}

// NewStruct builds a struct descriptor owning the given field
// descriptors. Void is rejected as a field type; struct-of-struct is
// legal.
func NewStruct(fields ...*Descriptor) (*Descriptor, error) {
	for i, f := range fields {
		if f.Category == Void {
			return nil, Newf(InvalidType, "field %d: void is not a legal struct field type", i)
		}
	}
	owned := make([]*Descriptor, len(fields))
	copy(owned, fields)
	return &Descriptor{Category: Struct, Fields: owned}, nil
}

// Size returns the C-ABI size in bytes of the described type.
func (d *Descriptor) Size() int {
	switch d.Category {
	case Void:
		return 0
	case Pointer, SLong, ULong, SInt64, UInt64, Double:
		return 8
	case SInt, UInt, SInt32, UInt32, Float:
		return 4
	case SInt16, UInt16:
		return 2
	case SChar, UChar, SInt8, UInt8:
		return 1
	case Struct:
		size := 0
		for _, f := range d.Fields {
			size = alignUp(size, f.Align()) + f.Size()
		}
		return alignUp(size, d.Align())
	default:
		return 0
	}
}

// Align returns the C-ABI alignment in bytes of the described type.
func (d *Descriptor) Align() int {
	switch d.Category {
	case Void:
		return 1
	case Struct:
		max := 1
		for _, f := range d.Fields {
			if a := f.Align(); a > max {
				max = a
			}
		}
		return max
	default:
		return d.Size()
	}
}

// alignUp rounds offset up to the next multiple of align. align must be
// a power of two (always true for the C-ABI alignments above).
func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// IsInteger reports whether the category is carried in a general
// purpose register class (everything but float/double/void/struct).
func (d *Descriptor) IsInteger() bool {
	switch d.Category {
	case Float, Double, Void, Struct:
		return false
	default:
		return true
	}
}
