// Package callframe implements the Call Frame Engine: building argument
// blocks respecting alignment, dispatching calls through the foreign-call
// ABI, and propagating hardware traps as managed errors.
package callframe

import (
	"github.com/ius/corebridge/abi"
)

// Tag is a platform ABI tag closed set.
type Tag int

const (
	Default Tag = iota
	SysV
	StdCall
	ThisCall
	FastCall
	MsCdecl
	Win64
	Unix64
	VFP
)

var tagNames = map[string]Tag{
	"default":  Default,
	"sysv":     SysV,
	"stdcall":  StdCall,
	"thiscall": ThisCall,
	"fastcall": FastCall,
	"mscdecl":  MsCdecl,
	"win64":    Win64,
	"unix64":   Unix64,
	"vfp":      VFP,
}

// ParseTag resolves a platform-defined ABI tag name; unknown tags fail.
func ParseTag(name string) (Tag, error) {
	if t, ok := tagNames[name]; ok {
		return t, nil
	}
	return 0, abi.Newf(abi.InvalidType, "unrecognized ABI tag %q", name)
}

const variadicMarker = "..."

// Function is a Native-Function Record.
type Function struct {
	Addr              uintptr
	ReturnType        *abi.Descriptor
	ArgTypes          []*abi.Descriptor
	ABI               Tag
	Variadic          bool
	FixedArgc         int
	TotalArglistBytes int
}

// NewFunction builds a Native-Function Record from already-resolved
// descriptors, as used when the caller constructs types programmatically
// (e.g. struct descriptors). See NewFunctionFromNames for the
// script-surface entry point that takes type name strings.
func NewFunction(addr uintptr, ret *abi.Descriptor, argTypes []*abi.Descriptor, tag Tag) (*Function, error) {
	f := &Function{
		Addr:       addr,
		ReturnType: ret,
		ArgTypes:   argTypes,
		ABI:        tag,
		FixedArgc:  len(argTypes),
	}
	f.TotalArglistBytes = totalArglistBytes(f.ArgTypes)
	return f, nil
}

// NewFunctionFromNames builds a Native-Function Record the way script
// code does: NativeFunction(addr, ret, [args…], abi?). argNames may
// contain at most one "..." marker; it fails creation if more than one
// is present.
func NewFunctionFromNames(addr uintptr, retName string, argNames []string, tag Tag) (*Function, error) {
	ret, err := abi.NamedDescriptor(retName)
	if err != nil {
		return nil, err
	}

	markerCount := 0
	fixed := len(argNames)
	var argTypes []*abi.Descriptor
	for i, name := range argNames {
		if name == variadicMarker {
			markerCount++
			if markerCount > 1 {
				return nil, abi.Newf(abi.Unsupported, "more than one variadic marker in prototype")
			}
			fixed = i
			continue
		}
		d, err := abi.NamedDescriptor(name)
		if err != nil {
			return nil, err
		}
		argTypes = append(argTypes, d)
	}

	f := &Function{
		Addr:       addr,
		ReturnType: ret,
		ArgTypes:   argTypes,
		ABI:        tag,
		Variadic:   markerCount == 1,
		FixedArgc:  fixed,
	}
	f.TotalArglistBytes = totalArglistBytes(f.ArgTypes)
	return f, nil
}

// totalArglistBytes computes the sum of align_up(offset, field.align) +
// field.size over arg_types Native-Function Record
// invariant. It never changes after creation.
func totalArglistBytes(argTypes []*abi.Descriptor) int {
	offset := 0
	for _, a := range argTypes {
		align := a.Align()
		if align < 1 {
			align = 1
		}
		offset = (offset + align - 1) &^ (align - 1)
		offset += a.Size()
	}
	return offset
}
