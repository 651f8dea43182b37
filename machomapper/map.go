package machomapper

import (
	"encoding/binary"

	"go.uber.org/multierr"

	"github.com/ius/corebridge/abi"
)

// Map runs the six-step mapping algorithm against
// baseAddress: recursively map dependencies first, each dependency's
// subtree placed directly after the previous one's and the module itself
// after all of them (so a dependency always lies below its referrer),
// emit the runtime area, rebase, bind, then copy segments into the task
// with their protections applied.
func (m *Mapper) Map(baseAddress abi.NativePointer) (err error) {
	m.mapOnce.Do(func() {
		err = m.doMap(baseAddress)
	})
	return err
}

func (m *Mapper) doMap(baseAddress abi.NativePointer) error {
	next := baseAddress
	for _, dep := range m.state.Dependencies {
		if dep.mapped {
			continue
		}
		if err := dep.doMap(next); err != nil {
			return err
		}
		next = dep.state.BaseAddress.Add(abi.NativePointer(dep.state.VMSize))
	}

	m.state.BaseAddress = next
	segmentsSize := computeSegmentsVMSize(m.state)
	fp := footprintFor(m.CPU)
	m.state.RuntimeVMSize = computeRuntimeSize(m.state, fp)
	m.state.VMSize = segmentsSize + m.state.RuntimeVMSize
	m.state.RuntimeAddress = m.state.BaseAddress.Add(abi.NativePointer(segmentsSize))

	runtimeBlob, constructorOff, destructorOff, atexitOff := emitRuntime(m, fp)
	m.state.ConstructorOff = constructorOff
	m.state.DestructorOff = destructorOff
	m.state.AtexitStubOff = atexitOff

	if err := m.rebase(); err != nil {
		return err
	}
	if err := m.bind(); err != nil {
		return err
	}

	if err := m.copySegments(); err != nil {
		return err
	}
	if err := m.task.Write(m.state.RuntimeAddress, runtimeBlob); err != nil {
		return err
	}
	if err := m.task.Protect(m.state.RuntimeAddress, m.state.RuntimeVMSize, protRXCow); err != nil {
		return err
	}

	m.mapped = true
	return nil
}

const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4
	protRXCow = protRead | protExec // copy-on-write handled by the task collaborator
)

func (m *Mapper) rebase() error {
	slide := int64(m.state.BaseAddress)
	var errs error
	for _, r := range m.state.rebases {
		if r.Kind == RebaseTextPCRel32 {
			errs = multierr.Append(errs, abi.Newf(abi.Unsupported, "TEXT_PCREL32 rebase is not supported (segment %d offset %#x)", r.SegmentIndex, r.SegmentOffset))
			continue
		}
		if r.SegmentIndex < 0 || r.SegmentIndex >= len(m.state.Segments) {
			errs = multierr.Append(errs, abi.Newf(abi.Unsupported, "rebase targets unknown segment index %d", r.SegmentIndex))
			continue
		}
		seg := &m.state.Segments[r.SegmentIndex]
		relOff := r.SegmentOffset - seg.VMAddr
		switch r.Kind {
		case RebasePointer:
			addPointerInPlace(seg.Data, relOff, slide)
		case RebaseTextAbsolute32:
			add32InPlace(seg.Data, relOff, int32(slide))
		}
	}
	return errs
}

func (m *Mapper) bind() error {
	var errs error
	for _, b := range m.state.binds {
		if b.SegmentIndex < 0 || b.SegmentIndex >= len(m.state.Segments) {
			errs = multierr.Append(errs, abi.Newf(abi.Unsupported, "bind targets unknown segment index %d", b.SegmentIndex))
			continue
		}
		if b.ResolverOffset != 0 {
			// Deferred to emitRuntime's callResolverAndPatch sequence,
			// which runs the resolver and patches this slot once the
			// dependent module's own constructors have already run.
			continue
		}
		addr, resolved := m.resolveBindTarget(b)
		if !resolved {
			if b.WeakImport {
				addr = 0 // weak imports may remain unresolved
			} else {
				errs = multierr.Append(errs, abi.Newf(abi.Unsupported, "unresolved non-weak import %q", b.Name))
				continue
			}
		}
		seg := &m.state.Segments[b.SegmentIndex]
		relOff := b.SegmentOffset - seg.VMAddr
		writePointerInPlace(seg.Data, relOff, uint64(addr)+uint64(b.Addend))
	}
	return errs
}

func (m *Mapper) resolveBindTarget(b BindEntry) (abi.NativePointer, bool) {
	lib, err := m.resolveOrdinal(b.Library)
	if err != nil {
		return 0, false
	}
	addr, resolverOffset, found := lib.resolveSymbol(b.Name)
	if !found {
		return 0, false
	}
	if resolverOffset != 0 {
		// The resolver must run at map time; result + addend is written
		// to the target instead of the bare symbol address (
		// constructor description). The mapper records this obligation
		// on the runtime's constructor rather than resolving it here, so
		// resolveBindTarget conservatively reports "unresolved" and lets
		// the emitted constructor patch the slot once the dependent
		// module's constructors have already run.
		return 0, false
	}
	return addr, true
}

func (m *Mapper) copySegments() error {
	for _, seg := range m.state.Segments {
		addr := m.state.BaseAddress.Add(abi.NativePointer(seg.VMAddr))
		if err := m.task.Write(addr, seg.Data); err != nil {
			return err
		}
		prot := seg.InitProt
		if seg.FromSharedCache {
			prot = seg.MaxProt
		}
		if err := m.task.Protect(addr, seg.VMSize, prot); err != nil {
			return err
		}
	}
	return nil
}

func addPointerInPlace(data []byte, off uint64, delta int64) {
	if off+8 > uint64(len(data)) {
		return
	}
	v := binary.LittleEndian.Uint64(data[off:])
	binary.LittleEndian.PutUint64(data[off:], uint64(int64(v)+delta))
}

func add32InPlace(data []byte, off uint64, delta int32) {
	if off+4 > uint64(len(data)) {
		return
	}
	v := binary.LittleEndian.Uint32(data[off:])
	binary.LittleEndian.PutUint32(data[off:], uint32(int32(v)+delta))
}

func writePointerInPlace(data []byte, off uint64, v uint64) {
	if off+8 > uint64(len(data)) {
		return
	}
	binary.LittleEndian.PutUint64(data[off:], v)
}
