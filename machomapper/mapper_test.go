package machomapper

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ius/corebridge/abi"
)

func binaryPutUint64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }
func binaryGetUint64(b []byte, off int) uint64    { return binary.LittleEndian.Uint64(b[off:]) }

type fakeTask struct {
	writes map[abi.NativePointer][]byte
	prots  map[abi.NativePointer]uint32
}

func newFakeTask() *fakeTask {
	return &fakeTask{writes: make(map[abi.NativePointer][]byte), prots: make(map[abi.NativePointer]uint32)}
}

func (t *fakeTask) Allocate(vmSize uint64) (abi.NativePointer, error) { return 0x10000000, nil }
func (t *fakeTask) Write(addr abi.NativePointer, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes[addr] = cp
	return nil
}
func (t *fakeTask) Protect(addr abi.NativePointer, size uint64, prot uint32) error {
	t.prots[addr] = prot
	return nil
}

func newTestMapper(name string, cpu CPUType) *Mapper {
	return &Mapper{
		Name:  name,
		CPU:   cpu,
		task:  newFakeTask(),
		table: newMappingTable(),
		state: &ModuleState{Name: name, exports: make(map[string]exportEntry)},
	}
}

func TestResolveOrdinalSelf(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	resolved, err := m.resolveOrdinal(OrdinalSelf)
	require.NoError(t, err)
	require.Same(t, m, resolved)
}

func TestResolveOrdinalMainExecutableAndFlatLookupAreUnsupported(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	_, err := m.resolveOrdinal(OrdinalMainExecutable)
	require.Error(t, err)
	kind, ok := abi.As(err)
	require.True(t, ok)
	require.Equal(t, abi.Unsupported, kind.Kind)

	_, err = m.resolveOrdinal(OrdinalFlatLookup)
	require.Error(t, err)
}

func TestResolveOrdinalPositiveIndexesIntoDependencies(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	dep1 := newTestMapper("libbar.dylib", CPUTypeAMD64)
	dep2 := newTestMapper("libbaz.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{dep1, dep2}

	resolved, err := m.resolveOrdinal(1)
	require.NoError(t, err)
	require.Same(t, dep1, resolved)

	resolved, err = m.resolveOrdinal(2)
	require.NoError(t, err)
	require.Same(t, dep2, resolved)

	_, err = m.resolveOrdinal(3)
	require.Error(t, err)
}

func TestAtexitFamilyResolvesToRuntimeStub(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.BaseAddress = 0x1000
	m.state.RuntimeAddress = 0x2000
	m.state.AtexitStubOff = 0x30

	addr, resolverOff, found := m.resolveSymbol("__cxa_atexit")
	require.True(t, found)
	require.Zero(t, resolverOff)
	require.Equal(t, abi.NativePointer(0x2030), addr)
}

func TestReexportChasesTargetLibrary(t *testing.T) {
	target := newTestMapper("libtarget.dylib", CPUTypeAMD64)
	target.state.BaseAddress = 0x5000
	target.state.exports["real_symbol"] = exportEntry{Offset: 0x40}

	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{target}
	m.state.exports["aliased_symbol"] = exportEntry{ReexportOf: "libtarget.dylib:real_symbol"}

	addr, resolverOff, found := m.resolveSymbol("aliased_symbol")
	require.True(t, found)
	require.Zero(t, resolverOff)
	require.Equal(t, abi.NativePointer(0x5040), addr)
}

func TestResolveReturnsZeroForResolverCarryingExportBeforeMapping(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.BaseAddress = 0x1000
	m.state.exports["lazy_symbol"] = exportEntry{Offset: 0x10, ResolverOffset: 0x20}

	// Resolve() is only meaningful after mapping; an unmapped mapper
	// always reports 0 regardless of what resolveSymbol would say.
	require.Zero(t, m.Resolve("lazy_symbol"))

	m.mapped = true
	require.Zero(t, m.Resolve("lazy_symbol"), "a resolver-carrying export must not leak its pre-resolver stub")
}

func TestFootprintBudgetFormula(t *testing.T) {
	state := &ModuleState{
		Dependencies: make([]*Mapper, 3),
		binds: []BindEntry{
			{ResolverOffset: 0x10},
			{ResolverOffset: 0},
			{ResolverOffset: 0x20},
		},
		inits: []uint64{0x0, 0x8},
		terms: []uint64{0x0},
	}
	fp := footprintFor(CPUTypeAMD64)
	got := computeRuntimeSize(state, fp)
	raw := fp.base + 3*fp.perDependency + 2*fp.perResolver + 2*fp.perInit + 1*fp.perTerm
	require.Equal(t, pageRound(raw), got)
}

func TestPageRoundRoundsUpToPageBoundary(t *testing.T) {
	require.Equal(t, uint64(pageSize), pageRound(1))
	require.Equal(t, uint64(pageSize), pageRound(pageSize))
	require.Equal(t, uint64(2*pageSize), pageRound(pageSize+1))
}

func TestRebaseAddsSlideToPointerSlot(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.BaseAddress = 0x4000
	seg := SegmentInfo{Name: "__DATA", VMAddr: 0x1000, VMSize: 0x1000, Data: make([]byte, 0x1000)}
	// Seed the slot with a link-time pointer value the rebase should slide.
	binaryPutUint64(seg.Data, 0x10, 0x55550000)
	m.state.Segments = []SegmentInfo{seg}
	m.state.rebases = []RebaseEntry{{Kind: RebasePointer, SegmentIndex: 0, SegmentOffset: 0x1010}}

	require.NoError(t, m.rebase())
	require.Equal(t, uint64(0x55550000+0x4000), binaryGetUint64(m.state.Segments[0].Data, 0x10))
}

func TestRebaseRejectsTextPCRel32(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Segments = []SegmentInfo{{VMAddr: 0x1000, Data: make([]byte, 0x10)}}
	m.state.rebases = []RebaseEntry{{Kind: RebaseTextPCRel32, SegmentIndex: 0, SegmentOffset: 0x1000}}

	err := m.rebase()
	require.Error(t, err)
}

func TestBindWritesResolvedAddressPlusAddend(t *testing.T) {
	dep := newTestMapper("libbar.dylib", CPUTypeAMD64)
	dep.state.BaseAddress = 0x9000
	dep.state.exports["symbol_a"] = exportEntry{Offset: 0x100}

	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{dep}
	seg := SegmentInfo{VMAddr: 0x1000, Data: make([]byte, 0x20)}
	m.state.Segments = []SegmentInfo{seg}
	m.state.binds = []BindEntry{{
		Kind: SymbolRegular, Library: 1, Name: "symbol_a",
		SegmentIndex: 0, SegmentOffset: 0x1008, Addend: 4,
	}}

	require.NoError(t, m.bind())
	require.Equal(t, uint64(0x9100+4), binaryGetUint64(m.state.Segments[0].Data, 0x8))
}

func TestWeakImportLeftUnresolvedWritesZero(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{newTestMapper("libmissing.dylib", CPUTypeAMD64)}
	seg := SegmentInfo{VMAddr: 0x1000, Data: make([]byte, 0x20)}
	m.state.Segments = []SegmentInfo{seg}
	m.state.binds = []BindEntry{{
		Library: 1, Name: "missing_symbol", SegmentIndex: 0, SegmentOffset: 0x1000, WeakImport: true,
	}}

	require.NoError(t, m.bind())
	require.Zero(t, binaryGetUint64(m.state.Segments[0].Data, 0))
}

func TestResolveBindResolverOffsetsCopiesResolverFromDependencyExport(t *testing.T) {
	dep := newTestMapper("libsystem.dylib", CPUTypeAMD64)
	dep.state.BaseAddress = 0x9000
	dep.state.exports["lazy_symbol"] = exportEntry{Offset: 0x100, ResolverOffset: 0x120}
	dep.state.exports["plain_symbol"] = exportEntry{Offset: 0x200}

	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{dep}
	m.state.binds = []BindEntry{
		{Library: 1, Name: "lazy_symbol"},
		{Library: 1, Name: "plain_symbol"},
	}

	m.resolveBindResolverOffsets()

	require.Equal(t, uint64(0x120), m.state.binds[0].ResolverOffset)
	require.Zero(t, m.state.binds[1].ResolverOffset)
}

func TestBindDefersResolverCarryingNonWeakImportWithoutError(t *testing.T) {
	dep := newTestMapper("libsystem.dylib", CPUTypeAMD64)
	dep.state.BaseAddress = 0x9000
	dep.state.exports["lazy_symbol"] = exportEntry{Offset: 0x100, ResolverOffset: 0x120}

	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{dep}
	seg := SegmentInfo{VMAddr: 0x1000, Data: make([]byte, 0x20)}
	m.state.Segments = []SegmentInfo{seg}
	m.state.binds = []BindEntry{{
		Library: 1, Name: "lazy_symbol", SegmentIndex: 0, SegmentOffset: 0x1008, WeakImport: false,
	}}
	m.resolveBindResolverOffsets()
	require.NotZero(t, m.state.binds[0].ResolverOffset)

	require.NoError(t, m.bind())
	require.Zero(t, binaryGetUint64(m.state.Segments[0].Data, 0x8), "slot is patched later by the emitted constructor, not here")
}

func TestComputeRuntimeSizeCountsResolverBindsFromParsedState(t *testing.T) {
	dep := newTestMapper("libsystem.dylib", CPUTypeAMD64)
	dep.state.BaseAddress = 0x9000
	dep.state.exports["lazy_symbol"] = exportEntry{Offset: 0x100, ResolverOffset: 0x120}

	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{dep}
	m.state.binds = []BindEntry{{Library: 1, Name: "lazy_symbol"}}
	m.resolveBindResolverOffsets()

	fp := footprintFor(CPUTypeAMD64)
	got := computeRuntimeSize(m.state, fp)
	want := pageRound(fp.base + 1*fp.perDependency + 1*fp.perResolver)
	require.Equal(t, want, got)
}

func TestNonWeakUnresolvedImportIsAnError(t *testing.T) {
	m := newTestMapper("libfoo.dylib", CPUTypeAMD64)
	m.state.Dependencies = []*Mapper{newTestMapper("libmissing.dylib", CPUTypeAMD64)}
	seg := SegmentInfo{VMAddr: 0x1000, Data: make([]byte, 0x20)}
	m.state.Segments = []SegmentInfo{seg}
	m.state.binds = []BindEntry{{
		Library: 1, Name: "missing_symbol", SegmentIndex: 0, SegmentOffset: 0x1000, WeakImport: false,
	}}

	require.Error(t, m.bind())
}
