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

// Package manifest reads a deployable package (a zip archive carrying
// manifest.json and one or more WASM binaries) for either the WASI or the
// host-ABI execution flavour.
package manifest

import (
	"archive/zip"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// ManifestFile is the fixed name of the manifest entry inside a package.
const ManifestFile = "manifest.json"

// RuntimeKind selects which execution flavour a manifest targets.
type RuntimeKind string

const (
	RuntimeWASI    RuntimeKind = "wasi"
	RuntimeHostABI RuntimeKind = "aswasm"
)

// MountPoint describes one guest path to be backed by a host volume.
type MountPoint struct {
	Kind MountKind
	Path string
}

// MountKind is the access mode of a MountPoint.
type MountKind string

const (
	MountRO      MountKind = "ro"
	MountRW      MountKind = "rw"
	MountWO      MountKind = "wo"
	MountPrivate MountKind = "private"
)

// IsPublic reports whether the mount point should be surfaced to the caller
// of deploy (every kind except Private).
func (m MountPoint) IsPublic() bool {
	return m.Kind != MountPrivate
}

// MarshalJSON renders a MountPoint the way the original manifest schema
// does: a single-key object, e.g. {"ro": "/input"}.
func (m MountPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{string(m.Kind): m.Path})
}

// UnmarshalJSON parses the single-key mount point object.
func (m *MountPoint) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("manifest: invalid mount point: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("manifest: mount point must have exactly one key, got %d", len(raw))
	}
	for k, v := range raw {
		switch MountKind(k) {
		case MountRO, MountRW, MountWO, MountPrivate:
			m.Kind = MountKind(k)
			m.Path = v
			return nil
		default:
			return fmt.Errorf("manifest: unknown mount point kind %q", k)
		}
	}
	return nil
}

// EntryPointID names a WASI entry point (wasm_path) by id.
type EntryPointID struct {
	ID       string `json:"id"`
	WasmPath string `json:"wasm-path"`
}

// MainEntry is the host-ABI flavour's single entry module.
type MainEntry struct {
	WasmPath string `json:"wasm-path"`
}

// ArgType is the type tag of a host-ABI entry point argument.
type ArgType string

const (
	ArgString ArgType = "string"
	ArgBytes  ArgType = "bytes"
	ArgI32    ArgType = "i32"
)

// ArgDesc describes one argument of a host-ABI entry point.
type ArgDesc struct {
	Name  string  `json:"name,omitempty"`
	Type  ArgType `json:"type"`
	Fixed *int    `json:"fixed,omitempty"`
}

// DecodeBytes decodes a hex-encoded argument value, checking it against
// Fixed when present. This enforces a check the original manifest schema
// only ever declared (ArgType::Bytes{fixed}) without applying.
func (a ArgDesc) DecodeBytes(value string) ([]byte, error) {
	if a.Type != ArgBytes {
		return nil, fmt.Errorf("manifest: arg %q is not of type bytes", a.Name)
	}
	data, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("manifest: arg %q: invalid hex: %w", a.Name, err)
	}
	if a.Fixed != nil && len(data) != *a.Fixed {
		return nil, fmt.Errorf("manifest: arg %q: expected %d bytes, got %d", a.Name, *a.Fixed, len(data))
	}
	return data, nil
}

// Output is the return-value convention of a host-ABI entry point.
type Output string

const (
	OutputExitCode Output = "exit-code"
	OutputBytes    Output = "bytes"
	OutputString   Output = "string"
	OutputVoid     Output = "void"
)

// EntryPoint describes one callable function of the host-ABI flavour.
type EntryPoint struct {
	Desc   string    `json:"desc,omitempty"`
	Args   []ArgDesc `json:"args,omitempty"`
	Output Output    `json:"output,omitempty"`
}

// OutputOrDefault returns Output, defaulting to OutputExitCode as the
// original schema does.
func (e EntryPoint) OutputOrDefault() Output {
	if e.Output == "" {
		return OutputExitCode
	}
	return e.Output
}

// Manifest is the parsed manifest.json of a deployable package. It carries
// the fields of both execution flavours; a WASI manifest leaves Main/
// NamedEntryPoint empty, a host-ABI manifest leaves EntryPointIDs empty.
//
// Both flavours name their entry-point field "entry-points" in the original
// schema (crates/api/src/manifest.rs's Vec<EntryPoint> for WASI,
// crates/aswasm/src/deploy.rs's HashMap<String, EntryPoint> for host-ABI);
// since this struct carries both flavours at once, MarshalJSON/UnmarshalJSON
// dispatch on which one is populated rather than the field itself carrying
// two incompatible struct tags.
type Manifest struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Runtime RuntimeKind `json:"runtime"`

	// WASI flavour
	EntryPointIDs []EntryPointID

	// Host-ABI flavour
	Main            *MainEntry
	NamedEntryPoint map[string]EntryPoint

	MountPoints []MountPoint `json:"mount-points,omitempty"`
}

// RuntimeOrDefault returns Runtime, defaulting to RuntimeWASI as spec.md's
// manifest schema does for the original flavour.
func (m Manifest) RuntimeOrDefault() RuntimeKind {
	if m.Runtime == "" {
		return RuntimeWASI
	}
	return m.Runtime
}

// manifestWire is Manifest's wire shape: both flavours share the single
// "entry-points" key, distinguished by whether it decodes as a JSON array
// (WASI) or a JSON object (host-ABI).
type manifestWire struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Runtime     RuntimeKind     `json:"runtime,omitempty"`
	EntryPoints json.RawMessage `json:"entry-points,omitempty"`
	Main        *MainEntry      `json:"main,omitempty"`
	MountPoints []MountPoint    `json:"mount-points,omitempty"`
}

// MarshalJSON renders Manifest's entry-point field under the single
// "entry-points" key, as an array for the WASI flavour or an object for the
// host-ABI flavour.
func (m Manifest) MarshalJSON() ([]byte, error) {
	wire := manifestWire{
		ID:          m.ID,
		Name:        m.Name,
		Runtime:     m.Runtime,
		Main:        m.Main,
		MountPoints: m.MountPoints,
	}
	switch {
	case m.NamedEntryPoint != nil:
		raw, err := json.Marshal(m.NamedEntryPoint)
		if err != nil {
			return nil, fmt.Errorf("manifest: entry-points: %w", err)
		}
		wire.EntryPoints = raw
	case m.EntryPointIDs != nil:
		raw, err := json.Marshal(m.EntryPointIDs)
		if err != nil {
			return nil, fmt.Errorf("manifest: entry-points: %w", err)
		}
		wire.EntryPoints = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses Manifest's wire shape, deciding whether
// "entry-points" is the WASI array form or the host-ABI object form by
// inspecting its leading token.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var wire manifestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	m.ID = wire.ID
	m.Name = wire.Name
	m.Runtime = wire.Runtime
	m.Main = wire.Main
	m.MountPoints = wire.MountPoints
	m.EntryPointIDs = nil
	m.NamedEntryPoint = nil

	trimmed := bytes.TrimLeft(wire.EntryPoints, " \t\r\n")
	switch {
	case len(trimmed) == 0:
		return nil
	case trimmed[0] == '[':
		if err := json.Unmarshal(wire.EntryPoints, &m.EntryPointIDs); err != nil {
			return fmt.Errorf("manifest: entry-points: %w", err)
		}
	case trimmed[0] == '{':
		if err := json.Unmarshal(wire.EntryPoints, &m.NamedEntryPoint); err != nil {
			return fmt.Errorf("manifest: entry-points: %w", err)
		}
	default:
		return fmt.Errorf("manifest: entry-points: unexpected JSON token %q", trimmed[:1])
	}
	return nil
}

// Package wraps a zip-backed WASM package for reading.
type Package struct {
	zr *zip.Reader
}

// Open opens a package from an io.ReaderAt of the given size (typically an
// *os.File).
func Open(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("manifest: invalid package: %w", err)
	}
	return &Package{zr: zr}, nil
}

// ReadManifest parses manifest.json out of the package.
func (p *Package) ReadManifest() (*Manifest, error) {
	var m Manifest
	if err := p.readJSON(ManifestFile, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadBytes reads a single file out of the package by name (e.g. a wasm
// entry point's path).
func (p *Package) ReadBytes(name string) ([]byte, error) {
	f, err := p.zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (p *Package) readJSON(name string, v interface{}) error {
	f, err := p.zr.Open(name)
	if err != nil {
		return fmt.Errorf("manifest: %s: %w", name, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("manifest: %s: invalid json: %w", name, err)
	}
	return nil
}
