package machomapper

import "github.com/ius/corebridge/abi"

// atexitStubNames are resolved to a fixed no-op stub emitted in the
// runtime area rather than passed through to a real dependency lookup:
// the five atexit-family symbols below are never resolved externally.
var atexitStubNames = map[string]bool{
	"__cxa_atexit":   true,
	"__cxa_finalize": true,
	"atexit":         true,
	"___cxa_atexit":  true,
	"_tlv_atexit":    true,
}

// resolveOrdinal looks up the mapper a bind's library ordinal refers to.
func (m *Mapper) resolveOrdinal(ord Ordinal) (*Mapper, error) {
	switch {
	case ord == OrdinalSelf:
		return m, nil
	case ord == OrdinalMainExecutable || ord == OrdinalFlatLookup:
		return nil, abi.Newf(abi.Unsupported, "ordinal %d (MAIN_EXECUTABLE/FLAT_LOOKUP) is not supported", ord)
	case ord >= 1:
		idx := int(ord) - 1
		if idx < 0 || idx >= len(m.state.Dependencies) {
			return nil, abi.Newf(abi.Unsupported, "ordinal %d out of range for %q's %d dependencies", ord, m.Name, len(m.state.Dependencies))
		}
		return m.state.Dependencies[idx], nil
	default:
		return nil, abi.Newf(abi.Unsupported, "unrecognized library ordinal %d", ord)
	}
}

// resolveSymbol resolves name within m, chasing re-exports, and reports
// whether the resolution carries a resolver that must be invoked at map
// time rather than yielding a directly-usable address.
func (m *Mapper) resolveSymbol(name string) (addr abi.NativePointer, resolverOffset uint64, found bool) {
	if atexitStubNames[name] {
		return m.state.RuntimeAddress.Add(abi.NativePointer(m.state.AtexitStubOff)), 0, true
	}
	entry, ok := m.state.exports[name]
	if !ok {
		return 0, 0, false
	}
	if entry.ReexportOf != "" {
		lib, sym := splitReexport(entry.ReexportOf)
		target := m.findDependencyByName(lib)
		if target == nil {
			return 0, 0, false
		}
		return target.resolveSymbol(sym)
	}
	if entry.ResolverOffset != 0 {
		return m.state.BaseAddress.Add(abi.NativePointer(entry.ResolverOffset)), entry.ResolverOffset, true
	}
	return m.state.BaseAddress.Add(abi.NativePointer(entry.Offset)), 0, true
}

func (m *Mapper) findDependencyByName(name string) *Mapper {
	for _, d := range m.state.Dependencies {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func splitReexport(spec string) (lib, sym string) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:]
		}
	}
	return "", spec
}

// Resolve implements the post-mapping "resolve(symbol) -> address|null"
// API: returns 0 both for a symbol that is genuinely
// absent and for one whose resolution carries a still-unresolvable
// resolver, to prevent callers from observing a pre-resolver stub.
func (m *Mapper) Resolve(name string) abi.NativePointer {
	if !m.mapped {
		return 0
	}
	addr, resolverOffset, found := m.resolveSymbol(name)
	if !found || resolverOffset != 0 {
		return 0
	}
	return addr
}

// Constructor returns the address of the emitted constructor stub.
func (m *Mapper) Constructor() abi.NativePointer {
	return m.state.RuntimeAddress.Add(abi.NativePointer(m.state.ConstructorOff))
}

// Destructor returns the address of the emitted destructor stub.
func (m *Mapper) Destructor() abi.NativePointer {
	return m.state.RuntimeAddress.Add(abi.NativePointer(m.state.DestructorOff))
}
