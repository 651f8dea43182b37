//go:build arm64

package runtimecore

import "github.com/ius/corebridge/abi"

// registerNames mirrors the AAPCS64 general-purpose registers, x0-x15
// plus the frame pointer, link register, stack pointer, and program
// counter.
func registerNames() []string {
	return []string{
		"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
		"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
		"fp", "lr", "sp", "pc",
	}
}

// newCPUContext builds a register snapshot shaped for arm64.
func newCPUContext(pc, sp uintptr, readOnly bool) *CPUContext {
	ctx := &CPUContext{
		PC:        pc,
		SP:        sp,
		registers: make(map[string]abi.NativePointer, len(registerNames())),
	}
	ctx.Set("pc", abi.NativePointer(pc))
	ctx.Set("sp", abi.NativePointer(sp))
	ctx.readOnly = readOnly
	return ctx
}
