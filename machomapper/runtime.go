package machomapper

import "github.com/ius/corebridge/abi"

// emitRuntime builds the runtime-area blob for m: a constructor, a
// destructor, and an atexit stub, laid out back to back ( step
// 3). The constructor first calls each direct child's constructor, then
// patches every resolver-carrying bind by invoking its resolver and
// writing `(result + addend)` to the target, then walks init-pointer
// arrays calling each entry. The destructor mirrors this in reverse.
//
// Architecture-specific encoders (amd64/arm64) fill in the call/patch
// sequences; this file only lays out the blob and reports offsets.
func emitRuntime(m *Mapper, fp footprint) (blob []byte, constructorOff, destructorOff, atexitOff uint64) {
	enc := encoderFor(m.CPU)

	var ctor, dtor []byte
	ctor = enc.prologue(ctor)
	for _, dep := range m.state.Dependencies {
		ctor = enc.callAbsolute(ctor, dep.Constructor())
	}
	for _, b := range m.state.binds {
		if b.ResolverOffset == 0 {
			continue
		}
		lib, err := m.resolveOrdinal(b.Library)
		if err != nil {
			continue
		}
		resolverAddr := lib.state.BaseAddress.Add(abi.NativePointer(b.ResolverOffset))
		ctor = enc.callResolverAndPatch(ctor, resolverAddr, b.Addend, targetAddress(m, b.SegmentIndex, b.SegmentOffset))
	}
	for _, off := range m.state.inits {
		ctor = enc.callInitArrayEntry(ctor, targetAddress(m, -1, off))
	}
	ctor = enc.epilogue(ctor)

	dtor = enc.prologue(dtor)
	for i := len(m.state.terms) - 1; i >= 0; i-- {
		dtor = enc.callInitArrayEntry(dtor, targetAddress(m, -1, m.state.terms[i]))
	}
	for i := len(m.state.Dependencies) - 1; i >= 0; i-- {
		dtor = enc.callAbsolute(dtor, m.state.Dependencies[i].Destructor())
	}
	dtor = enc.epilogue(dtor)

	atexit := enc.returnZero(nil)

	blob = make([]byte, 0, len(ctor)+len(dtor)+len(atexit))
	constructorOff = 0
	blob = append(blob, ctor...)
	destructorOff = uint64(len(blob))
	blob = append(blob, dtor...)
	atexitOff = uint64(len(blob))
	blob = append(blob, atexit...)

	return blob, constructorOff, destructorOff, atexitOff
}

// targetAddress resolves a fixup location to an absolute address within
// the already-assigned base address space. A negative segmentIndex means
// rawOffset is already base-relative (used for init/term pointer array
// entries, which are recorded relative to the module's own mapping).
func targetAddress(m *Mapper, segmentIndex int, rawOffset uint64) abi.NativePointer {
	if segmentIndex < 0 {
		return m.state.BaseAddress.Add(abi.NativePointer(rawOffset))
	}
	if segmentIndex >= len(m.state.Segments) {
		return 0
	}
	return m.state.BaseAddress.Add(abi.NativePointer(rawOffset))
}

// runtimeEncoder produces the architecture-specific machine code for
// the runtime blob's call and patch sequences.
type runtimeEncoder interface {
	prologue(buf []byte) []byte
	epilogue(buf []byte) []byte
	callAbsolute(buf []byte, target abi.NativePointer) []byte
	callResolverAndPatch(buf []byte, resolver abi.NativePointer, addend int64, target abi.NativePointer) []byte
	callInitArrayEntry(buf []byte, entryAddr abi.NativePointer) []byte
	returnZero(buf []byte) []byte
}

func encoderFor(cpu CPUType) runtimeEncoder {
	if cpu == CPUTypeARM64 {
		return arm64Encoder{}
	}
	return amd64Encoder{}
}
