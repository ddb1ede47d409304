/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package guest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmunit/wasmunit/pkg/hostabi/alloc"
	"github.com/wasmunit/wasmunit/pkg/hostabi/eth"
	"github.com/wasmunit/wasmunit/pkg/hostabi/memview"
	"github.com/wasmunit/wasmunit/pkg/hostabi/service"
	"github.com/wasmunit/wasmunit/pkg/hostabi/vfs"
	"github.com/wasmunit/wasmunit/pkg/manifest"
)

// Runtime holds one host-ABI package's guest module instantiated against
// its linked host functions, ready to run any of its named entry points
// repeatedly. It is the Go analogue of the original runtime's
// Application: the guest is compiled and instantiated once, and every
// subsequent call reuses the same instance and its linear memory.
type Runtime struct {
	vm     wazero.Runtime
	module api.Module
	main   *manifest.Manifest

	current string // entry point id currently executing; read by hostContext
	sink    service.OutputHandler
}

// New links the host-ABI library into a fresh wazero runtime, compiles and
// instantiates the manifest's main module, and returns a Runtime ready to
// serve run calls. table mediates every io.* call the guest makes.
func New(ctx context.Context, m *manifest.Manifest, mainWasm []byte, table *vfs.Table) (*Runtime, error) {
	rt := wazero.NewRuntime(ctx)

	r := &Runtime{vm: rt, main: m, sink: service.NoopOutputHandler{}}

	if err := buildHostModules(ctx, rt, table, r.outputSink, r.identity); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, mainWasm)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("guest: compiling main module: %w", err)
	}

	instance, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("guest: instantiating main module: %w", err)
	}
	r.module = instance

	return r, nil
}

// Close releases the underlying wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	return r.vm.Close(ctx)
}

func (r *Runtime) outputSink() service.OutputHandler { return r.sink }
func (r *Runtime) identity() string                  { return r.current }

// RunFunc returns a service.RunFunc bound to this Runtime, suitable for
// passing to service.New.
func (r *Runtime) RunFunc() service.RunFunc {
	return r.Run
}

// NewService links and instantiates a host-ABI package's main module, then
// starts a service.Service bound to it. The returned close func must be
// called once the service is shut down, to release the wazero runtime.
func NewService(ctx context.Context, m *manifest.Manifest, mainWasm []byte, table *vfs.Table) (*service.Service, func(context.Context) error, error) {
	rt, err := New(ctx, m, mainWasm, table)
	if err != nil {
		return nil, nil, err
	}
	return service.New(rt.RunFunc()), rt.Close, nil
}

// Run looks up entryPointID in the manifest's named entry points, calls the
// correspondingly-named guest export, and decodes its result per the entry
// point's declared Output, mirroring the original's Application::run.
func (r *Runtime) Run(ctx context.Context, entryPointID string, args []string, out service.OutputHandler) (int32, error) {
	ep, ok := r.main.NamedEntryPoint[entryPointID]
	if !ok {
		return 1, fmt.Errorf("guest: unknown entry point %q", entryPointID)
	}

	fn := r.module.ExportedFunction(entryPointID)
	if fn == nil {
		return 1, fmt.Errorf("guest: guest module does not export %q", entryPointID)
	}

	r.current = entryPointID
	r.sink = out
	defer func() {
		r.current = ""
		r.sink = service.NoopOutputHandler{}
	}()

	a, err := alloc.ForModule(r.module)
	if err != nil {
		return 1, err
	}

	callArgs, err := convertArgs(ctx, a, ep.Args, args)
	if err != nil {
		return 1, fmt.Errorf("guest: converting arguments for %q: %w", entryPointID, err)
	}

	results, err := fn.Call(ctx, callArgs...)
	if err != nil {
		return 1, fmt.Errorf("guest: %q trapped: %w", entryPointID, err)
	}

	view := memview.New(r.module.Memory())
	return decodeOutput(view, ep.OutputOrDefault(), results, out)
}

// objectAllocator is the allocation surface convertArgs needs; *alloc.Allocator
// satisfies it. Declared narrowly so argument conversion can be unit tested
// without a real guest module.
type objectAllocator interface {
	NewString(ctx context.Context, s string) (uint32, error)
	NewBytes(ctx context.Context, data []byte) (uint32, error)
}

// convertArgs converts a host-ABI entry point's positional string arguments
// into wazero call parameters, per each argument's declared type: strings
// and byte blobs are allocated into guest memory and passed as pointers,
// i32 arguments are parsed and passed by value.
func convertArgs(ctx context.Context, a objectAllocator, descs []manifest.ArgDesc, raw []string) ([]uint64, error) {
	if len(raw) != len(descs) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(descs), len(raw))
	}

	out := make([]uint64, len(descs))
	for i, desc := range descs {
		switch desc.Type {
		case manifest.ArgString:
			ptr, err := a.NewString(ctx, raw[i])
			if err != nil {
				return nil, err
			}
			out[i] = uint64(ptr)
		case manifest.ArgBytes:
			data, err := desc.DecodeBytes(raw[i])
			if err != nil {
				return nil, err
			}
			ptr, err := a.NewBytes(ctx, data)
			if err != nil {
				return nil, err
			}
			out[i] = uint64(ptr)
		case manifest.ArgI32:
			n, err := strconv.ParseInt(raw[i], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("arg %q: invalid i32: %w", desc.Name, err)
			}
			out[i] = uint64(uint32(int32(n)))
		default:
			return nil, fmt.Errorf("arg %q: unknown type %q", desc.Name, desc.Type)
		}
	}
	return out, nil
}

// objectDecoder is the decoding surface decodeOutput needs; *memview.View
// satisfies it.
type objectDecoder interface {
	Bytes(ptr uint32) ([]byte, error)
	String(ptr uint32) (string, error)
}

// decodeOutput interprets a guest call's raw results per the entry point's
// declared Output convention, routing Bytes/String results through out's
// stdout side the way the original's Application::run does.
func decodeOutput(dec objectDecoder, output manifest.Output, results []uint64, out service.OutputHandler) (int32, error) {
	switch output {
	case manifest.OutputVoid:
		return 0, nil
	case manifest.OutputExitCode:
		if len(results) == 0 {
			return 0, fmt.Errorf("exit-code output: guest returned no value")
		}
		return int32(uint32(results[0])), nil
	case manifest.OutputBytes:
		if len(results) == 0 {
			return 0, fmt.Errorf("bytes output: guest returned no value")
		}
		data, err := dec.Bytes(uint32(results[0]))
		if err != nil {
			return 0, err
		}
		out.HandleStdout(eth.HexEncode(data))
		return 0, nil
	case manifest.OutputString:
		if len(results) == 0 {
			return 0, fmt.Errorf("string output: guest returned no value")
		}
		s, err := dec.String(uint32(results[0]))
		if err != nil {
			return 0, err
		}
		out.HandleStdout(s)
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown output convention %q", output)
	}
}

