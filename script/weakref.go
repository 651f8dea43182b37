package script

import (
	"reflect"

	"github.com/ius/corebridge/runtimecore"
)

// WeakRef implements the script-surface `WeakRef.bind(target, cb) -> id`
// / `WeakRef.unbind(id) -> bool` pair.
type WeakRef struct {
	core *runtimecore.Core
}

func (s *Script) WeakRef() WeakRef { return WeakRef{core: s.core} }

// Bind registers target for a weak-notify callback and returns an id
// usable with Unbind.
func (w WeakRef) Bind(target reflect.Value, onDead reflect.Value) runtimecore.WeakID {
	return w.core.BindWeak(target, onDead)
}

// Unbind cancels a pending weak-ref callback.
func (w WeakRef) Unbind(id runtimecore.WeakID) bool {
	return w.core.UnbindWeak(id)
}
