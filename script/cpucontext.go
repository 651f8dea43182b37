package script

import "github.com/ius/corebridge/runtimecore"

// CpuContext re-exports runtimecore.CPUContext under the script
// surface's naming.
type CpuContext = runtimecore.CPUContext

// NewCpuContext builds a register snapshot for the host architecture.
func NewCpuContext(pc, sp uintptr, readOnly bool) *CpuContext {
	return runtimecore.NewCPUContext(pc, sp, readOnly)
}
