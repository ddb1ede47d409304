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

// Command wasmunit deploys, starts and runs WASM execution units.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/wasmunit/wasmunit/internal/log"
	"github.com/wasmunit/wasmunit/pkg/deploy"
	"github.com/wasmunit/wasmunit/pkg/hostabi/guest"
	"github.com/wasmunit/wasmunit/pkg/hostabi/vfs"
	"github.com/wasmunit/wasmunit/pkg/manifest"
	"github.com/wasmunit/wasmunit/pkg/wasi"
)

func main() {
	logrus.StandardLogger().SetFormatter(&logrus.TextFormatter{
		PadLevelText: true,
	})

	// Flags may appear before the subcommand, after it, or both: the first
	// non-flag argument names the subcommand and the rest are parsed again.
	fs := flag.NewFlagSet("wasmunit", flag.ExitOnError)
	workDir := fs.String("workdir", ".", "execution unit's work directory")
	taskPackage := fs.String("task-package", "", "path to the deployable package (deploy only)")
	entrypoint := fs.String("e", "", "entry point id to invoke (run only)")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fail("parsing flags: %v", err)
	}
	if fs.NArg() < 1 {
		fail("usage: wasmunit [flags] <deploy|start|run|test> [flags]")
	}
	sub := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		fail("parsing flags: %v", err)
	}
	if filter, ok := os.LookupEnv("YA_WASI_LOG"); ok {
		if err := log.SetLevelFromString(filter); err != nil {
			fail("YA_WASI_LOG=%q: %v", filter, err)
		}
	}
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	var err error
	switch sub {
	case "deploy":
		err = runDeploy(*workDir, *taskPackage)
	case "start":
		err = runStart(*workDir)
	case "run":
		var code int
		code, err = runRun(*workDir, *entrypoint, fs.Args())
		if err == nil && code != 0 {
			os.Exit(code)
		}
	case "test":
		// no-op success, matching the documented CLI contract
	default:
		fail("unknown subcommand %q", sub)
	}

	if err != nil {
		fail("%v", err)
	}
}

func runDeploy(workDir, taskPackage string) error {
	if taskPackage == "" {
		return fmt.Errorf("deploy: --task-package is required")
	}
	result, err := deploy.Deploy(workDir, taskPackage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runStart loads every entry point's module and confirms it compiles
// cleanly, matching the documented contract: both stdout and stderr stay
// empty and the process exits 0 unless a module is invalid.
func runStart(workDir string) error {
	d, err := deploy.Load(workDir)
	if err != nil {
		return err
	}
	pkg, runtimeKind, err := openPackage(d.ImagePath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if runtimeKind == manifest.RuntimeHostABI {
		return startHostABI(ctx, d, pkg)
	}

	m, err := pkg.ReadManifest()
	if err != nil {
		return err
	}

	cfg, err := wasi.ConfigFromEnv()
	if err != nil {
		return err
	}
	exec, err := wasi.NewExecutor(ctx, cfg)
	if err != nil {
		return err
	}
	defer exec.Close(ctx)

	return exec.LoadBinaries(ctx, pkg, m.EntryPointIDs)
}

// startHostABI links the host-ABI library into the deployed package's main
// module and instantiates it, confirming it's well-formed the same way
// runStart's LoadBinaries call does for the WASI flavour, then tears the
// instance back down: start only validates, it never runs an entry point.
func startHostABI(ctx context.Context, d *deploy.Descriptor, pkg *manifest.Package) error {
	if d.Main == nil {
		return fmt.Errorf("start: host-abi descriptor is missing its main module")
	}
	mainWasm, err := pkg.ReadBytes(d.Main.WasmPath)
	if err != nil {
		return err
	}

	var vols []vfs.Volume
	for _, v := range d.Vols {
		vols = append(vols, vfs.Volume{Name: v.Name, Path: v.Path})
	}
	table := vfs.NewTable(".", vols)

	m := &manifest.Manifest{NamedEntryPoint: d.EntryPoints}
	rt, err := guest.New(ctx, m, mainWasm, table)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return rt.Close(ctx)
}

// runRun returns the guest's exit code alongside any setup-level error.
// The caller exits the process with the exit code only once every
// preceding setup step has itself succeeded.
func runRun(workDir, entrypointID string, args []string) (int, error) {
	if entrypointID == "" {
		return 0, fmt.Errorf("run: -e <entrypoint> is required")
	}

	d, err := deploy.Load(workDir)
	if err != nil {
		return 0, err
	}

	pkg, runtimeKind, err := openPackage(d.ImagePath)
	if err != nil {
		return 0, err
	}

	if runtimeKind == manifest.RuntimeHostABI {
		return 0, fmt.Errorf("run: the host-abi flavour's run_process is only reachable through the execution service's RPC interface, not the CLI")
	}

	m, err := pkg.ReadManifest()
	if err != nil {
		return 0, err
	}

	var target *manifest.EntryPointID
	for i := range m.EntryPointIDs {
		if m.EntryPointIDs[i].ID == entrypointID {
			target = &m.EntryPointIDs[i]
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("run: unknown entry point %q", entrypointID)
	}

	ctx := context.Background()
	cfg, err := wasi.ConfigFromEnv()
	if err != nil {
		return 0, err
	}

	exec, err := wasi.NewExecutor(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer exec.Close(ctx)

	if err := exec.LoadBinaries(ctx, pkg, []manifest.EntryPointID{*target}); err != nil {
		return 0, err
	}

	var mounts []wasi.Mount
	for _, v := range d.Vols {
		mounts = append(mounts, wasi.Mount{Host: workDir + "/" + v.Name, Guest: v.Path})
	}

	return exec.Run(ctx, target.ID, mounts, args, nil, os.Stdout, os.Stderr)
}

func openPackage(path string) (*manifest.Package, manifest.RuntimeKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening package: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("opening package: %w", err)
	}
	pkg, err := manifest.Open(f, info.Size())
	if err != nil {
		return nil, "", err
	}
	m, err := pkg.ReadManifest()
	if err != nil {
		return nil, "", err
	}
	return pkg, m.RuntimeOrDefault(), nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
