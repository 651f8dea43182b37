//go:build amd64

package runtimecore

import "github.com/ius/corebridge/abi"

// registerNames is the fixed general-purpose register set this
// architecture exposes, matching the platform's mcontext layout order
// (rax first, as the return-value register most often inspected from a
// native exception).
func registerNames() []string {
	return []string{
		"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "rip",
	}
}

// newCPUContext builds a register snapshot shaped for amd64, seeded
// with pc/sp. Populating the remaining registers from a live thread
// requires a platform debug-API collaborator that is out of scope here
// (machomapper is scoped to static mapping, not live thread inspection);
// callers fill in what they already have, e.g. from a synthesized
// TrapContext.
func newCPUContext(pc, sp uintptr, readOnly bool) *CPUContext {
	ctx := &CPUContext{
		PC:        pc,
		SP:        sp,
		registers: make(map[string]abi.NativePointer, len(registerNames())),
		readOnly:  false, // seed while mutable, then lock below
	}
	ctx.Set("rip", abi.NativePointer(pc))
	ctx.Set("rsp", abi.NativePointer(sp))
	ctx.readOnly = readOnly
	return ctx
}
