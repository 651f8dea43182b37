package closure

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ius/corebridge/abi"
	"github.com/ius/corebridge/callframe"
)

type fakeEngine struct {
	protected   []reflect.Value
	unprotected []Handle
	thrown      []any
	entered     int
	left        int
}

func (f *fakeEngine) EnterScope() { f.entered++ }
func (f *fakeEngine) LeaveScope() { f.left++ }

func (f *fakeEngine) Protect(v reflect.Value) Handle {
	f.protected = append(f.protected, v)
	return len(f.protected) - 1
}

func (f *fakeEngine) RequestUnprotect(h Handle) {
	f.unprotected = append(f.unprotected, h)
}

func (f *fakeEngine) CallProtected(callable reflect.Value, args []reflect.Value) (reflect.Value, any) {
	defer func() {
		recover()
	}()
	out := callable.Call(args)
	if len(out) == 0 {
		return reflect.Value{}, nil
	}
	return out[0], nil
}

func (f *fakeEngine) NotifyUnhandledException(thrown any) {
	f.thrown = append(f.thrown, thrown)
}

func TestCreateProtectsCallableAndFreeUnprotects(t *testing.T) {
	eng := &fakeEngine{}
	toUpper := reflect.ValueOf(func(x int64) int64 {
		if x >= 'a' && x <= 'z' {
			return x - 32
		}
		return x
	})

	rec, err := Create(eng, toUpper, &abi.Descriptor{Category: abi.SInt32}, []*abi.Descriptor{{Category: abi.SInt32}}, callframe.Default)
	require.NoError(t, err)
	require.Len(t, eng.protected, 1)

	out := rec.invoke([]reflect.Value{reflect.ValueOf(int32('a'))})
	require.Equal(t, 1, eng.entered)
	require.Equal(t, 1, eng.left)
	require.Len(t, out, 1)
	require.Equal(t, int32('A'), out[0].Interface())

	rec.Free()
	require.Len(t, eng.unprotected, 1)
	rec.Free() // idempotent
	require.Len(t, eng.unprotected, 1)
}

func TestCreateRejectsNonFunc(t *testing.T) {
	eng := &fakeEngine{}
	_, err := Create(eng, reflect.ValueOf(42), &abi.Descriptor{Category: abi.Void}, nil, callframe.Default)
	require.Error(t, err)
}
