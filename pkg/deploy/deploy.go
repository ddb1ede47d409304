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

// Package deploy implements the deploy lifecycle step: unpacking a manifest,
// creating volume directories, and persisting a descriptor that start/run
// read back later.
package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/wasmunit/wasmunit/pkg/manifest"
	"github.com/wasmunit/wasmunit/pkg/pathsafe"
)

// DescriptorFile is the fixed name of the on-disk deployment descriptor.
const DescriptorFile = "deploy.json"

// StartMode tells the caller whether start() is expected to block.
type StartMode string

const (
	StartEmpty    StartMode = "Empty"
	StartBlocking StartMode = "Blocking"
)

// Volume is one directory created for a mount point, named vol-<uuid>.
type Volume struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Validity is the documented `{"Ok": "..."}` variant the deploy stdout
// contract wraps its validation outcome in, mirroring the original's
// Result<String, String>-shaped serialization.
type Validity struct {
	Ok string `json:"Ok"`
}

// Result is returned by Deploy and rendered as JSON on the CLI's stdout.
type Result struct {
	Valid     Validity  `json:"valid"`
	Vols      []Volume  `json:"vols"`
	StartMode StartMode `json:"start_mode"`
}

// Descriptor is the unified on-disk schema for both execution flavours
// (Open Question Decision 1): both flavours populate Vols and the parallel
// Private flags, one entry per mount point; only the host-ABI flavour
// populates EntryPoints/Main, which the WASI flavour leaves nil.
type Descriptor struct {
	ImagePath   string                         `json:"image_path"`
	Vols        []Volume                       `json:"vols,omitempty"`
	Private     []bool                         `json:"private,omitempty"`
	EntryPoints map[string]manifest.EntryPoint `json:"entry_points,omitempty"`
	Main        *manifest.MainEntry            `json:"main,omitempty"`
}

// normalizeVolumePath ensures a mount point path ends with exactly one "/"
// before it's persisted, per Open Question Decision 2, so downstream prefix
// matching never needs its own normalisation step.
func normalizeVolumePath(p string) string {
	return strings.TrimRight(p, "/") + "/"
}

// Save writes the descriptor to workDir/deploy.json. It refuses to
// overwrite an existing descriptor, mirroring the original's
// create_new(true) semantics: deploy is not idempotent.
func (d *Descriptor) Save(workDir string) error {
	path := filepath.Join(workDir, DescriptorFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("deploy: writing descriptor: %w", err)
	}
	return nil
}

// Load reads a previously saved descriptor back.
func Load(workDir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(workDir, DescriptorFile))
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("deploy: invalid descriptor: %w", err)
	}
	return &d, nil
}

// Deploy unpacks the manifest at pkgPath, creates one volume directory per
// mount point under workDir, and persists the descriptor. It returns the
// public-facing Result.
func Deploy(workDir, pkgPath string) (*Result, error) {
	f, err := os.Open(pkgPath)
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}

	pkg, err := manifest.Open(f, info.Size())
	if err != nil {
		return nil, err
	}
	m, err := pkg.ReadManifest()
	if err != nil {
		return nil, err
	}

	var (
		vols       []Volume
		private    []bool
		publicVols []Volume
	)
	for _, mp := range m.MountPoints {
		if err := pathsafe.Validate(mp.Path); err != nil {
			return nil, fmt.Errorf("deploy: PathUnsafe: %w", err)
		}

		name := "vol-" + uuid.New().String()
		dir := filepath.Join(workDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("deploy: creating volume dir: %w", err)
		}

		vol := Volume{Name: name, Path: normalizeVolumePath(mp.Path)}
		vols = append(vols, vol)
		private = append(private, !mp.IsPublic())
		if mp.IsPublic() {
			publicVols = append(publicVols, vol)
		}
	}

	d := &Descriptor{
		ImagePath: pkgPath,
		Vols:      vols,
		Private:   private,
	}
	switch m.RuntimeOrDefault() {
	case manifest.RuntimeHostABI:
		d.Main = m.Main
		d.EntryPoints = m.NamedEntryPoint
	}

	if err := d.Save(workDir); err != nil {
		return nil, err
	}

	return &Result{
		Valid:     Validity{Ok: "valid"},
		Vols:      publicVols,
		StartMode: StartBlocking,
	}, nil
}
