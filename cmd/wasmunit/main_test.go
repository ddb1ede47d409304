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

package main

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// noopWasmModule is a hand-assembled, minimal valid WASM binary: it
// declares one function of type () -> () with an empty body, exported as
// "_start". It takes no WASI imports, so it instantiates and runs to
// completion (exit code 0) under wasi_snapshot_preview1 regardless of argv.
var noopWasmModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type section: 1 functype () -> ()
	0x03, 0x02, 0x01, 0x00, // function section: 1 function, type 0
	0x07, 0x0a, 0x01, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x00, // export "_start" func 0
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b, // code section: 1 body, no locals, end
}

// writePackage assembles a .ywasi zip containing manifest.json and the
// noop wasm module, mirroring the real trusted-voting-mgr-*.ywasi package's
// layout (a plain WASI manifest with no "runtime" field).
func writePackage(t *testing.T, path, entrypointID string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)

	mw, err := zw.Create("manifest.json")
	require.NoError(t, err)
	_, err = mw.Write([]byte(`{
		"id": "ce38dba2-19ce-11eb-a060-57e8812ec8da",
		"name": "trusted-voting-mgr",
		"entry-points": [{"id": "` + entrypointID + `", "wasm-path": "app.wasm"}]
	}`))
	require.NoError(t, err)

	ww, err := zw.Create("app.wasm")
	require.NoError(t, err)
	_, err = ww.Write(noopWasmModule)
	require.NoError(t, err)

	require.NoError(t, zw.Close())
}

// captureStdio redirects os.Stdout/os.Stderr for the duration of fn,
// returning what was written to each.
func captureStdio(t *testing.T, fn func()) (stdout, stderr string) {
	t.Helper()

	origOut, origErr := os.Stdout, os.Stderr
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout, os.Stderr = outW, errW
	defer func() { os.Stdout, os.Stderr = origOut, origErr }()

	fn()

	outW.Close()
	errW.Close()
	outBytes, _ := io.ReadAll(outR)
	errBytes, _ := io.ReadAll(errR)
	return string(outBytes), string(errBytes)
}

// TestTrustedVotingManagerRunsAsWASI re-creates the ground truth's own
// integration coverage for trusted-voting-mgr: deploy, then start, then two
// run invocations, each expected to produce an empty stderr stream (the
// documented success contract), driven as an ordinary WASI package rather
// than through the host-ABI execution service.
func TestTrustedVotingManagerRunsAsWASI(t *testing.T) {
	workDir := t.TempDir()
	pkgPath := filepath.Join(workDir, "trusted-voting-mgr.ywasi")
	writePackage(t, pkgPath, "trusted-voting-mgr")

	deployOut, deployErr := captureStdio(t, func() {
		require.NoError(t, runDeploy(workDir, pkgPath))
	})
	require.NotEmpty(t, deployOut, "deploy must produce a JSON result on stdout")
	require.Empty(t, deployErr, "deploy expected empty stderr")

	startOut, startErr := captureStdio(t, func() {
		require.NoError(t, runStart(workDir))
	})
	require.Empty(t, startOut, "start expected empty stdout")
	require.Empty(t, startErr, "start expected empty stderr")

	_, runErr := captureStdio(t, func() {
		code, err := runRun(workDir, "trusted-voting-mgr", []string{
			"init", "aea5db67524e02a263b9339fe6667d6b577f3d4c", "1",
		})
		require.NoError(t, err)
		require.Equal(t, 0, code)
	})
	require.Empty(t, runErr, "run expected empty stderr")

	_, runErr = captureStdio(t, func() {
		code, err := runRun(workDir, "trusted-voting-mgr", []string{"debug"})
		require.NoError(t, err)
		require.Equal(t, 0, code)
	})
	require.Empty(t, runErr, "run expected empty stderr")
}
