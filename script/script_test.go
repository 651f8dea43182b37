package script

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ius/corebridge/runtimecore"
)

// stubEngine is a minimal runtimecore.ManagedEngine test double, mirroring
// runtimecore's own internal stub since that type is unexported.
type stubEngine struct {
	nextHandle int
	protected  map[runtimecore.Handle]reflect.Value
}

func newStubEngine() *stubEngine {
	return &stubEngine{protected: make(map[runtimecore.Handle]reflect.Value)}
}

func (s *stubEngine) Protect(v reflect.Value) runtimecore.Handle {
	s.nextHandle++
	h := runtimecore.Handle(s.nextHandle)
	s.protected[h] = v
	return h
}

func (s *stubEngine) Unprotect(h runtimecore.Handle) { delete(s.protected, h) }

func (s *stubEngine) Call(callable reflect.Value, args []reflect.Value) (reflect.Value, any, error) {
	defer func() { recover() }()
	out := callable.Call(args)
	if len(out) == 0 {
		return reflect.Value{}, nil, nil
	}
	return out[0], nil, nil
}

func (s *stubEngine) GC() {}

func newTestCore(t *testing.T) *runtimecore.Core {
	t.Helper()
	c := runtimecore.New(newStubEngine(), runtimecore.Options{})
	require.NoError(t, c.Init(context.Background()))
	t.Cleanup(c.Dispose)
	return c
}

func TestScriptInfoReportsFileNameAndBackend(t *testing.T) {
	s := New(newTestCore(t), "agent.js", "console.log(1);", DuktapeBackend{})
	info := s.Info()
	require.Equal(t, "agent.js", info.FileName)
	require.Equal(t, "duktape", info.BackendName)
	require.Equal(t, runtimeVersion, info.RuntimeVersion)
	require.Empty(t, info.SourceMapData)
}

func TestSourceMapDataURLPassesThroughExistingDataURI(t *testing.T) {
	source := "var x = 1;\n//# sourceMappingURL=data:application/json;base64,AAAA\n"
	require.Equal(t, "data:application/json;base64,AAAA", sourceMapDataURL(source))
}

func TestSourceMapDataURLWrapsInlineMapAsBase64(t *testing.T) {
	source := "var x = 1;\n//@ sourceMappingURL={\"version\":3}\n"
	got := sourceMapDataURL(source)
	require.Contains(t, got, "data:application/json;base64,")
}

func TestSourceMapDataURLEmptyWhenAbsent(t *testing.T) {
	require.Empty(t, sourceMapDataURL("var x = 1;"))
}

func TestGcForwardsToCore(t *testing.T) {
	s := New(newTestCore(t), "a.js", "", V8Backend{})
	require.NotPanics(t, func() { s.Gc() })
}

func TestSendForwardsToHostSink(t *testing.T) {
	type emitted struct {
		script, text string
		data         []byte
	}
	var got emitted
	core := runtimecore.New(newStubEngine(), runtimecore.Options{
		Host: hostSinkFunc(func(scriptName, text string, data []byte) {
			got = emitted{scriptName, text, data}
		}),
	})
	require.NoError(t, core.Init(context.Background()))
	defer core.Dispose()

	s := New(core, "agent.js", "", DuktapeBackend{})
	s.Send("hello", []byte{1, 2, 3})

	require.Equal(t, "agent.js", got.script)
	require.Equal(t, "hello", got.text)
	require.Equal(t, []byte{1, 2, 3}, got.data)
}

type hostSinkFunc func(scriptName, text string, data []byte)

func (f hostSinkFunc) Emit(scriptName, text string, data []byte) { f(scriptName, text, data) }

func TestWeakRefBindAndUnbind(t *testing.T) {
	core := newTestCore(t)
	s := New(core, "a.js", "", DuktapeBackend{})

	onDead := reflect.ValueOf(func() {})
	target := reflect.ValueOf(&struct{ n int }{n: 1})

	wr := s.WeakRef()
	id := wr.Bind(target, onDead)
	require.True(t, wr.Unbind(id))
	require.False(t, wr.Unbind(id)) // second unbind is a no-op
}

func TestTimerSetAndClear(t *testing.T) {
	s := New(newTestCore(t), "a.js", "", DuktapeBackend{})
	fn := reflect.ValueOf(func() {})

	id := s.SetTimeout(fn, 10_000)
	require.True(t, s.ClearTimeout(id))
	require.False(t, s.ClearTimeout(id))

	iid := s.SetInterval(fn, 10_000)
	require.True(t, s.ClearInterval(iid))
}

func TestCloseFreesAllocatedCallbacks(t *testing.T) {
	s := New(newTestCore(t), "a.js", "", DuktapeBackend{})
	require.NotPanics(t, s.Close)
}
