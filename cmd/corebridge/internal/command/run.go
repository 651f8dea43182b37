package command

import (
	"context"
	"reflect"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ius/corebridge/abi"
	"github.com/ius/corebridge/runtimecore"
	"github.com/ius/corebridge/script"
)

func newRunCommand() *cobra.Command {
	var fileName string
	var backendName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a Runtime Core and drive a script session against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromFlags()
			defer logger.Sync()

			backend, err := parseBackend(backendName)
			if err != nil {
				return err
			}

			core := runtimecore.New(&reflectEngine{}, runtimecore.Options{
				Logger: logger,
				Host:   stdoutSink{logger: logger},
			})
			if err := core.Init(context.Background()); err != nil {
				return err
			}
			defer core.Dispose()

			s := script.New(core, fileName, "", backend)
			defer s.Close()

			info := s.Info()
			logger.Info("script session started",
				zap.String("file", info.FileName),
				zap.String("backend", info.BackendName),
				zap.String("runtimeVersion", info.RuntimeVersion),
			)

			s.Send("ready", nil)
			return nil
		},
	}

	cmd.Flags().StringVar(&fileName, "file", "agent.js", "script identity reported via Script.Info")
	cmd.Flags().StringVar(&backendName, "backend", "duktape", "script backend identity (duktape or v8)")

	return cmd
}

func parseBackend(name string) (script.Backend, error) {
	switch name {
	case "duktape":
		return script.DuktapeBackend{}, nil
	case "v8":
		return script.V8Backend{}, nil
	default:
		return nil, abi.Newf(abi.Unsupported, "unknown backend %q (want duktape or v8)", name)
	}
}

// reflectEngine is the minimal ManagedEngine a host harness needs to
// exercise the Runtime Core without embedding a full managed
// interpreter (out of scope here): it boxes values in a map and invokes
// callables directly via reflection.
type reflectEngine struct {
	next      int
	protected map[runtimecore.Handle]reflect.Value
}

func (e *reflectEngine) Protect(val reflect.Value) runtimecore.Handle {
	if e.protected == nil {
		e.protected = make(map[runtimecore.Handle]reflect.Value)
	}
	e.next++
	h := runtimecore.Handle(e.next)
	e.protected[h] = val
	return h
}

func (e *reflectEngine) Unprotect(h runtimecore.Handle) { delete(e.protected, h) }

func (e *reflectEngine) Call(callable reflect.Value, args []reflect.Value) (result reflect.Value, thrown any, err error) {
	defer func() {
		if r := recover(); r != nil {
			thrown = r
		}
	}()
	if !callable.IsValid() {
		return reflect.Value{}, nil, nil
	}
	out := callable.Call(args)
	if len(out) == 0 {
		return reflect.Value{}, nil, nil
	}
	return out[0], nil, nil
}

func (e *reflectEngine) GC() {}

type stdoutSink struct{ logger *zap.Logger }

func (s stdoutSink) Emit(scriptName, text string, data []byte) {
	s.logger.Info("script message", zap.String("script", scriptName), zap.String("text", text), zap.Int("bytes", len(data)))
}
