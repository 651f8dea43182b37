// Package machomapper implements the Image Mapper: manually loading a
// Mach-O dynamic library image into a task without the platform loader,
// resolving its dependency graph, rebasing and binding it, and emitting
// a small architecture-specific runtime stub that calls initializers
// and finalizers in dependency order.
//
// Grounded on github.com/blacktop/go-macho for image parsing, with a
// single mutex guarding the top-level name->mapping table every mapper
// in a tree shares.
package machomapper

import (
	"sync"

	"github.com/ius/corebridge/abi"
)

// Ordinal identifies how a bind or re-export entry names the library a
// symbol comes from.
type Ordinal int32

const (
	// OrdinalSelf resolves to the module performing the lookup.
	OrdinalSelf Ordinal = -1
	// OrdinalMainExecutable and OrdinalFlatLookup are explicitly
	// unsupported; encountering either is fatal.
	OrdinalMainExecutable Ordinal = -2
	OrdinalFlatLookup     Ordinal = -3
)

// RebaseKind distinguishes the two supported rebase entry kinds; a third
// native kind (TEXT_PCREL32) is explicitly unsupported.
type RebaseKind int

const (
	RebasePointer RebaseKind = iota
	RebaseTextAbsolute32
	RebaseTextPCRel32 // unsupported; rejected at rebase time
)

// RebaseEntry is one pointer-sized (or 32-bit text-absolute) fixup
// target within a mapped segment.
type RebaseEntry struct {
	Kind          RebaseKind
	SegmentIndex  int
	SegmentOffset uint64
}

// SymbolKind distinguishes how a bind's target symbol must be resolved.
type SymbolKind int

const (
	SymbolRegular SymbolKind = iota
	SymbolThreadLocal
	SymbolAbsolute
)

// BindEntry is one import fixup: the target library (by ordinal), the
// symbol name, and where to write the resolved address.
type BindEntry struct {
	Kind          SymbolKind
	Library       Ordinal
	Name          string
	SegmentIndex  int
	SegmentOffset uint64
	Addend        int64
	WeakImport    bool
	// ResolverOffset is non-zero when the export this bind resolves to
	// carries a stub+resolver pair; the resolver must be invoked at map
	// time and `(result + Addend)` written to the target instead of the
	// plain symbol address.
	ResolverOffset uint64
}

// SegmentInfo is the mapper's view of one Mach-O segment: its layout
// within the image, the protection to apply once mapped, and whether it
// came from the shared cache (copySegments then applies MaxProt instead
// of InitProt; rebase and bind do not consult this flag).
type SegmentInfo struct {
	Name            string
	VMAddr          uint64
	VMSize          uint64
	FileOffset      uint64
	FileSize        uint64
	InitProt        uint32
	MaxProt         uint32
	Data            []byte
	FromSharedCache bool
}

// ModuleState is the per-module bookkeeping a mapped image carries:
// module metadata, image bytes, dependency list (ordinal -> mapping),
// base address, vm_size, runtime-area address/size, and
// constructor/destructor/atexit stub offsets.
type ModuleState struct {
	Name         string
	Segments     []SegmentInfo
	Dependencies []*Mapper // index 0 == ordinal 1 (dependency ordinals are 1-based)
	depNames     []string  // raw LC_LOAD_DYLIB names, consumed while building Dependencies

	BaseAddress    abi.NativePointer
	VMSize         uint64
	RuntimeAddress abi.NativePointer
	RuntimeVMSize  uint64
	ConstructorOff uint64
	DestructorOff  uint64
	AtexitStubOff  uint64

	rebases []RebaseEntry
	binds   []BindEntry
	inits   []uint64 // base-relative offsets of init-pointer array entries
	terms   []uint64

	exports map[string]exportEntry
}

type exportEntry struct {
	Offset         uint64
	ResolverOffset uint64
	ReexportOf     string // "lib:symbol", empty if not a re-export
}

// mappingTable is the shared name->mapping table a top-level mapper and
// every mapper below it in its tree consult. It holds both pending
// entries (images this tree instance is bringing in) and existing
// entries (images already present in the target task).
type mappingTable struct {
	mu       sync.Mutex
	pending  map[string]*Mapper
	existing map[string]abi.NativePointer
}

func newMappingTable() *mappingTable {
	return &mappingTable{
		pending:  make(map[string]*Mapper),
		existing: make(map[string]abi.NativePointer),
	}
}
