package runtimecore

import "github.com/ius/corebridge/abi"

// CPUContext is the architecture-neutral face of the CPU Context
// surface: a fixed set of named-register accessors, each
// get returning a Native Pointer and each set taking one, failing with
// InvalidType if the wrapper is read-only (a context captured from a
// trap report, rather than staged for a not-yet-implemented
// thread-resume operation).
type CPUContext struct {
	PC uintptr
	SP uintptr

	registers map[string]abi.NativePointer
	readOnly  bool
}

// Get returns a register's value and whether it exists in this context.
func (c *CPUContext) Get(name string) (abi.NativePointer, bool) {
	v, ok := c.registers[name]
	return v, ok
}

// Set mutates a register's value in place. Fails with InvalidType if
// the context is read-only.
func (c *CPUContext) Set(name string, v abi.NativePointer) error {
	if c.readOnly {
		return abi.Newf(abi.InvalidType, "cannot write register %q on a read-only CPU context", name)
	}
	if c.registers == nil {
		c.registers = make(map[string]abi.NativePointer)
	}
	c.registers[name] = v
	return nil
}

// Names lists the fixed register set this context exposes, in
// architecture-defined order.
func (c *CPUContext) Names() []string {
	return registerNames()
}

// NewCPUContext builds a register snapshot for the host architecture,
// seeded with pc/sp. readOnly should be true for a context captured
// from a trap report and false for one a host intends to mutate before
// resuming a thread.
func NewCPUContext(pc, sp uintptr, readOnly bool) *CPUContext {
	return newCPUContext(pc, sp, readOnly)
}
