package abi

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the ErrorKinds from the bridge's error model.
type Kind int

const (
	// TypeMismatch is raised when a value cannot be converted to or from
	// an ABI descriptor's category.
	TypeMismatch Kind = iota
	// ArgumentCountMismatch is raised when an argument vector's length
	// does not match a prototype's arg_types length.
	ArgumentCountMismatch
	// InvalidType is raised for a primitive given where an object/struct
	// is required (or vice versa), an unknown ABI tag, or a write to a
	// read-only CPU context.
	InvalidType
	// NativeException is raised when a hardware trap is caught during
	// native dispatch.
	NativeException
	// Unsupported is raised for unsupported ABI constructs (re-entrancy
	// depth, rebase kind, ordinal kind).
	Unsupported
	// AllocationFailed is raised when trampoline or image memory cannot
	// be allocated.
	AllocationFailed
)

func (k Kind) String() string {
	switch k {
	case TypeMismatch:
		return "TypeMismatch"
	case ArgumentCountMismatch:
		return "ArgumentCountMismatch"
	case InvalidType:
		return "InvalidType"
	case NativeException:
		return "NativeException"
	case Unsupported:
		return "Unsupported"
	case AllocationFailed:
		return "AllocationFailed"
	default:
		return "Unknown"
	}
}

// Error is the single error type propagated across the bridge. Every
// error kind is represented by a Kind value here rather than a
// distinct Go type, since all of them carry the same human-string shape.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Newf builds an Error of the given kind with a formatted message and
// attaches a stack trace via pkg/errors for diagnostic logging at the
// call site.
func Newf(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// As reports whether err is an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
