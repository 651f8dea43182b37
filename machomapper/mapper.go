package machomapper

import (
	"sync"

	macho "github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	"github.com/ius/corebridge/abi"
)

// CPUType selects the architecture a mapper tree targets, independent
// of the process's own GOARCH`).
type CPUType int

const (
	CPUTypeAMD64 CPUType = iota
	CPUTypeARM64
)

// Task is the mapper's memory-writer collaborator: allocate room for
// vmSize bytes at an address the mapper chooses, write bytes into it,
// and apply a protection mask. A real implementation talks to the
// target process (possibly the current one); tests use an in-memory
// fake.
type Task interface {
	Allocate(vmSize uint64) (abi.NativePointer, error)
	Write(addr abi.NativePointer, data []byte) error
	Protect(addr abi.NativePointer, size uint64, prot uint32) error
}

// Mapper is one node in the Image Mapper's dependency DAG.
// The top-level mapper and every mapper at depth ≥2 share the same
// mappingTable.
type Mapper struct {
	Name  string
	CPU   CPUType
	task  Task
	table *mappingTable

	state   *ModuleState
	mapped  bool
	mapOnce sync.Once
}

// New builds a mapper tree rooted at name: the named image and every
// transitive dependency it references, topologically ordered so a
// dependency's mapper is always inserted into the DAG before its
// referrer.
func New(name string, task Task, cpu CPUType, loader ImageLoader) (*Mapper, error) {
	table := newMappingTable()
	return newChildMapper(name, task, cpu, loader, table)
}

// ImageLoader resolves a library name to its raw Mach-O bytes. Kept
// abstract so tests can supply synthetic images without touching disk,
// and so a host can point it at a filesystem, the dyld shared cache, or
// an in-memory bundle.
type ImageLoader interface {
	Load(name string) ([]byte, error)
}

func newChildMapper(name string, task Task, cpu CPUType, loader ImageLoader, table *mappingTable) (*Mapper, error) {
	table.mu.Lock()
	if existing, ok := table.pending[name]; ok {
		table.mu.Unlock()
		return existing, nil
	}
	m := &Mapper{Name: name, CPU: cpu, task: task, table: table}
	table.pending[name] = m
	table.mu.Unlock()

	raw, err := loader.Load(name)
	if err != nil {
		return nil, err
	}
	state, err := parseImage(name, raw)
	if err != nil {
		return nil, err
	}
	m.state = state

	for _, depName := range state.depNames {
		child, err := newChildMapper(depName, task, cpu, loader, table)
		if err != nil {
			return nil, err
		}
		state.Dependencies = append(state.Dependencies, child)
	}

	m.resolveBindResolverOffsets()

	return m, nil
}

// resolveBindResolverOffsets cross-references each bind against its
// resolved export now that m's dependency tree is fully wired, copying
// the export's resolver offset onto the BindEntry so footprint
// accounting and runtime-blob emission see resolver-carrying binds
// without re-resolving them later.
func (m *Mapper) resolveBindResolverOffsets() {
	for i, b := range m.state.binds {
		lib, err := m.resolveOrdinal(b.Library)
		if err != nil {
			continue
		}
		if _, resolverOffset, found := lib.resolveSymbol(b.Name); found && resolverOffset != 0 {
			m.state.binds[i].ResolverOffset = resolverOffset
		}
	}
}

func parseImage(name string, raw []byte) (*ModuleState, error) {
	f, err := macho.NewFile(newByteReaderAt(raw))
	if err != nil {
		return nil, abi.Newf(abi.Unsupported, "parsing Mach-O image %q: %v", name, err)
	}
	defer f.Close()

	state := &ModuleState{Name: name, exports: make(map[string]exportEntry)}

	for _, l := range f.Loads {
		switch seg := l.(type) {
		case *macho.Segment:
			state.Segments = append(state.Segments, SegmentInfo{
				Name:       seg.Name,
				VMAddr:     seg.Addr,
				VMSize:     seg.Memsz,
				FileOffset: seg.Offset,
				FileSize:   seg.Filesz,
				InitProt:   uint32(seg.Prot),
				MaxProt:    uint32(seg.Maxprot),
				Data:       sliceAt(raw, seg.Offset, seg.Filesz),
			})
		}
	}

	for _, lib := range f.ImportedLibraries() {
		state.depNames = append(state.depNames, lib)
	}

	if rebases, err := f.GetRebaseInfo(); err == nil {
		for _, r := range rebases {
			kind := RebasePointer
			switch types.RebaseType(r.Type) {
			case types.REBASE_TYPE_TEXT_ABSOLUTE32:
				kind = RebaseTextAbsolute32
			case types.REBASE_TYPE_TEXT_PCREL32:
				kind = RebaseTextPCRel32
			}
			state.rebases = append(state.rebases, RebaseEntry{
				Kind:          kind,
				SegmentIndex:  segmentIndexFor(state, r.Address),
				SegmentOffset: r.Address,
			})
		}
	}

	if binds, err := f.GetBindInfo(); err == nil {
		for _, b := range binds {
			state.binds = append(state.binds, BindEntry{
				Kind:          bindKindFor(b),
				Library:       Ordinal(b.LibOrdinal),
				Name:          b.Name,
				SegmentIndex:  segmentIndexFor(state, b.Address),
				SegmentOffset: b.Address,
				Addend:        b.Addend,
				WeakImport:    b.WeakImport,
			})
		}
	}

	if exports, err := f.GetExports(); err == nil {
		for _, e := range exports {
			entry := exportEntry{Offset: e.Address}
			if e.ReExport != "" {
				entry.ReexportOf = e.ReExport
			}
			if e.Resolver != 0 {
				entry.ResolverOffset = e.Resolver
			}
			state.exports[e.Name] = entry
		}
	}

	return state, nil
}

func bindKindFor(b macho.Bind) SymbolKind {
	switch {
	case b.ThreadLocal:
		return SymbolThreadLocal
	case b.Absolute:
		return SymbolAbsolute
	default:
		return SymbolRegular
	}
}

func segmentIndexFor(state *ModuleState, addr uint64) int {
	for i, seg := range state.Segments {
		if addr >= seg.VMAddr && addr < seg.VMAddr+seg.VMSize {
			return i
		}
	}
	return -1
}

func sliceAt(raw []byte, offset, size uint64) []byte {
	if offset+size > uint64(len(raw)) {
		return nil
	}
	out := make([]byte, size)
	copy(out, raw[offset:offset+size])
	return out
}
