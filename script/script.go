// Package script implements the external-facing surface a host-embedded
// script sees: NativePointer, NativeFunction, NativeCallback, WeakRef,
// timers, the message sinks, wait_for_event, and Script.fileName/
// sourceMapData, wiring them onto the abi, callframe, closure, and
// runtimecore packages underneath. It also carries a NativeFile
// wrapper, a Backend selector stub, and Script.runtimeVersion /
// sourceMapDataURL reporting.
package script

import (
	"encoding/base64"
	"reflect"
	"strings"
	"time"

	"github.com/ius/corebridge/abi"
	"github.com/ius/corebridge/callframe"
	"github.com/ius/corebridge/closure"
	"github.com/ius/corebridge/runtimecore"
)

// Script is the host-facing handle a loaded script is driven through:
// the composition root binding a Runtime Core, a Call Frame Engine, and
// the script's own identity (name, source, backend) together.
type Script struct {
	core   *runtimecore.Core
	engine *callframe.Engine
	scope  *runtimecore.Scope

	fileName string
	source   string
	backend  Backend

	functions []*callframe.Function
	callbacks []*closure.Record
}

// Info reports static facts about a Script: its file name and
// source-map data plus a reported runtime version and backend name.
type Info struct {
	FileName       string
	SourceMapData  string
	RuntimeVersion string
	BackendName    string
}

// New constructs a Script bound to an already-initialized Runtime Core.
func New(core *runtimecore.Core, fileName, source string, backend Backend) *Script {
	return &Script{
		core:     core,
		engine:   callframe.NewEngine(),
		scope:    core.NewScope(),
		fileName: fileName,
		source:   source,
		backend:  backend,
	}
}

// Info reports this script's static identity surface.
func (s *Script) Info() Info {
	return Info{
		FileName:       s.fileName,
		SourceMapData:  sourceMapDataURL(s.source),
		RuntimeVersion: runtimeVersion,
		BackendName:    s.backend.Name(),
	}
}

const runtimeVersion = "corebridge/1"

// sourceMapDataURL locates a trailing `//# sourceMappingURL=` or
// `//@ sourceMappingURL=` comment and returns it unchanged if already a
// data URI, or wraps an inline map as a base64 data URI otherwise,
// tolerant of both comment marker forms.
func sourceMapDataURL(source string) string {
	const hashMarker = "//# sourceMappingURL="
	const atMarker = "//@ sourceMappingURL="

	idx := strings.LastIndex(source, hashMarker)
	markerLen := len(hashMarker)
	if idx < 0 {
		idx = strings.LastIndex(source, atMarker)
		markerLen = len(atMarker)
	}
	if idx < 0 {
		return ""
	}
	value := strings.TrimSpace(source[idx+markerLen:])
	if nl := strings.IndexAny(value, "\r\n"); nl >= 0 {
		value = value[:nl]
	}
	if strings.HasPrefix(value, "data:") {
		return value
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(value))
}

// NewNativePointer implements the script-surface `NativePointer(value)`
// constructor.
func NewNativePointer(v any) (abi.NativePointer, error) {
	return abi.NewNativePointer(v)
}

// NativeFunction implements the script-surface `NativeFunction(addr,
// ret, [args...], abi?)` wrapper: it builds a callframe.Function and
// returns a Go closure a script runtime can invoke directly.
func (s *Script) NativeFunction(addr abi.NativePointer, retName string, argNames []string, tagName string) (func(args []reflect.Value) (reflect.Value, error), error) {
	tag, err := callframe.ParseTag(tagName)
	if err != nil {
		return nil, err
	}
	fn, err := callframe.NewFunctionFromNames(uintptr(addr), retName, argNames, tag)
	if err != nil {
		return nil, err
	}
	s.functions = append(s.functions, fn)
	return func(args []reflect.Value) (reflect.Value, error) {
		return s.engine.Invoke(fn, args, s.scope)
	}, nil
}

// NativeCallback implements the script-surface `NativeCallback(fn, ret,
// [args...], abi?)` wrapper: it synthesizes a trampoline and returns the
// pointer value a script can then pass anywhere a native function
// pointer is expected.
func (s *Script) NativeCallback(fn reflect.Value, ret *abi.Descriptor, argTypes []*abi.Descriptor, tagName string) (abi.NativePointer, error) {
	tag, err := callframe.ParseTag(tagName)
	if err != nil {
		return 0, err
	}
	rec, err := closure.Create(s.core, fn, ret, argTypes, tag)
	if err != nil {
		return 0, err
	}
	s.callbacks = append(s.callbacks, rec)
	return abi.NativePointer(rec.Trampoline), nil
}

// Gc implements the script-surface `gc()` best-effort collection hint.
func (s *Script) Gc() { s.core.GC() }

// Send implements the script-surface `_send(msg, bytes?)`.
func (s *Script) Send(message string, data []byte) {
	s.core.EmitMessage(s.fileName, message, data)
}

// SetUnhandledExceptionCallback implements
// `_setUnhandledExceptionCallback(cb)`.
func (s *Script) SetUnhandledExceptionCallback(cb reflect.Value) {
	s.core.SetUnhandledExceptionCallback(cb)
}

// SetIncomingMessageCallback implements
// `_setIncomingMessageCallback(cb)`.
func (s *Script) SetIncomingMessageCallback(cb reflect.Value) {
	s.core.SetIncomingMessageCallback(cb)
}

// PostMessage delivers a message from the host into the script, the
// other half of Send's host-facing interface.
func (s *Script) PostMessage(text string) { s.core.PostMessage(text) }

// WaitForEvent implements `_waitForEvent()`.
func (s *Script) WaitForEvent() error {
	return s.core.WaitForEvent(waitForeverContext{})
}

// waitForeverContext is a context.Context that never cancels on its
// own, used when a script calls _waitForEvent with no deadline; the
// host can still interrupt it by disposing the Core.
type waitForeverContext struct{}

func (waitForeverContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (waitForeverContext) Done() <-chan struct{}       { return nil }
func (waitForeverContext) Err() error                  { return nil }
func (waitForeverContext) Value(any) any               { return nil }

// Close releases every Function and Record this Script allocated.
func (s *Script) Close() {
	for _, cb := range s.callbacks {
		cb.Free()
	}
	s.callbacks = nil
	s.functions = nil
}
