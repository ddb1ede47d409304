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

// Package wasi implements the WASI execution flavour: compiling and running
// command-style WASM modules against a set of directory mounts.
package wasi

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/exp/maps"

	"github.com/wasmunit/wasmunit/internal/log"
	"github.com/wasmunit/wasmunit/pkg/manifest"
)

// Mount is one host directory exposed to the guest at a guest-visible path.
type Mount struct {
	Host  string
	Guest string
}

// loadedModule pairs a compiled entry point with the archive-relative wasm
// path it was compiled from, needed later to form argv[0].
type loadedModule struct {
	compiled wazero.CompiledModule
	wasmPath string
}

// Executor compiles and runs WASI command modules. One Executor should be
// reused across the entry points of a single deployed package: it owns the
// wazero runtime and every module compiled into it.
type Executor struct {
	runtime wazero.Runtime
	wasi    wazero.CompiledModule
	modules map[string]loadedModule
}

// NewExecutor builds an Executor, compiling and instantiating the WASI
// snapshot-preview1 host module once up front so guest modules can import
// it. When cfg.SGX is set the executor switches to
// wazero's interpreter engine, since SGX enclaves generally forbid
// executing dynamically JIT-compiled machine code; when cfg.Optimize is
// set it attaches a compilation cache so repeated loads of the same module
// reuse compiled code instead of recompiling it.
func NewExecutor(ctx context.Context, cfg Config) (*Executor, error) {
	var rtCfg wazero.RuntimeConfig
	if cfg.SGX {
		rtCfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		rtCfg = wazero.NewRuntimeConfig()
	}
	rtCfg = rtCfg.WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.Optimize {
		cache, err := wazero.NewCompilationCacheWithDir(os.TempDir())
		if err != nil {
			return nil, fmt.Errorf("wasi: building compilation cache: %w", err)
		}
		rtCfg = rtCfg.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	wasi, err := wasi_snapshot_preview1.NewBuilder(rt).Compile(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasi: compiling wasi_snapshot_preview1: %w", err)
	}
	if _, err := rt.InstantiateModule(ctx, wasi, wazero.NewModuleConfig()); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasi: instantiating wasi_snapshot_preview1: %w", err)
	}

	return &Executor{
		runtime: rt,
		wasi:    wasi,
		modules: make(map[string]loadedModule),
	}, nil
}

// Close releases the underlying wazero runtime and every module compiled
// into it.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// LoadBinaries compiles every entry point's wasm binary out of pkg. It is
// fatal to load two entry points with the same id.
func (e *Executor) LoadBinaries(ctx context.Context, pkg *manifest.Package, entryPoints []manifest.EntryPointID) error {
	for _, ep := range entryPoints {
		if _, exists := e.modules[ep.ID]; exists {
			return fmt.Errorf("wasi: duplicate entry point id %q", ep.ID)
		}

		bin, err := pkg.ReadBytes(ep.WasmPath)
		if err != nil {
			return fmt.Errorf("wasi: loading entry point %q: %w", ep.ID, err)
		}

		compiled, err := e.runtime.CompileModule(ctx, bin)
		if err != nil {
			return fmt.Errorf("wasi: compiling entry point %q: %w", ep.ID, err)
		}
		e.modules[ep.ID] = loadedModule{compiled: compiled, wasmPath: ep.WasmPath}
	}
	return nil
}

// Run instantiates the named entry point and executes its _start function
// against the given mounts, argv and environment, returning the process
// exit code computed from whatever trap (if any) terminated it.
func (e *Executor) Run(ctx context.Context, entryPointID string, mounts []Mount, args []string, env map[string]string, stdout, stderr io.Writer) (int, error) {
	loaded, ok := e.modules[entryPointID]
	if !ok {
		return 0, fmt.Errorf("wasi: unknown entry point %q", entryPointID)
	}
	module := loaded.compiled

	fsConfig := wazero.NewFSConfig()
	for _, m := range mounts {
		fsConfig = fsConfig.WithDirMount(m.Host, m.Guest)
	}

	modCfg := wazero.NewModuleConfig().
		WithStdout(stdout).
		WithStderr(stderr).
		WithArgs(append([]string{loaded.wasmPath}, args...)...).
		WithFSConfig(fsConfig)

	keys := maps.Keys(env)
	sort.Strings(keys)
	for _, k := range keys {
		modCfg = modCfg.WithEnv(k, env[k])
	}

	log.G(ctx).WithField("entrypoint", entryPointID).Debug("running wasi entry point")

	_, runErr := e.runtime.InstantiateModule(ctx, module, modCfg)
	code := exitCodeFromTrap(runErr)
	if code == 0 {
		return 0, nil
	}
	return code, nil
}
