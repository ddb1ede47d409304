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

// Package memview reads AssemblyScript-shaped objects out of guest linear
// memory: every object is a byte buffer preceded, at ptr-4, by its
// little-endian uint32 length. Strings are additionally UTF-16LE encoded.
package memview

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// minValidPtr mirrors the guest allocator's reserved low region: any
// pointer below it can never be a valid object reference.
const minValidPtr = 4

// readableMemory is the slice of api.Memory that View needs. Declared
// locally (rather than depending on api.Memory directly) so this package's
// decoding logic can be exercised without standing up a real wazero module.
type readableMemory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
}

// View wraps a guest module's exported memory for reading AssemblyScript
// objects.
type View struct {
	mem readableMemory
}

// New wraps mem for AssemblyScript-shaped reads. mem is typically the value
// returned by an api.Module's Memory() method.
func New(mem readableMemory) *View {
	return &View{mem: mem}
}

// length reads the 4-byte little-endian length prefix stored immediately
// before ptr.
func (v *View) length(ptr uint32) (uint32, error) {
	if ptr < minValidPtr {
		return 0, fmt.Errorf("memview: invalid pointer %d", ptr)
	}
	raw, ok := v.mem.Read(ptr-4, 4)
	if !ok {
		return 0, fmt.Errorf("memview: out of bounds reading length prefix at %d", ptr)
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// Bytes reads a raw byte buffer object at ptr.
func (v *View) Bytes(ptr uint32) ([]byte, error) {
	n, err := v.length(ptr)
	if err != nil {
		return nil, err
	}
	raw, ok := v.mem.Read(ptr, n)
	if !ok {
		return nil, fmt.Errorf("memview: out of bounds reading %d bytes at %d", n, ptr)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// String reads a UTF-16LE AssemblyScript string object at ptr.
func (v *View) String(ptr uint32) (string, error) {
	n, err := v.length(ptr)
	if err != nil {
		return "", err
	}
	raw, ok := v.mem.Read(ptr, n)
	if !ok {
		return "", fmt.Errorf("memview: out of bounds reading %d-byte string at %d", n, ptr)
	}
	if len(raw)%2 != 0 {
		return "", fmt.Errorf("memview: odd-length utf16 string at %d", ptr)
	}

	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i : 2*i+2])
	}
	return string(utf16.Decode(units)), nil
}

// FixedBytes reads exactly want bytes out of a buffer object, failing if the
// object's declared length differs. Used for hash/secret/pubkey arguments
// that the host ABI defines as fixed-size.
func (v *View) FixedBytes(ptr uint32, want int) ([]byte, error) {
	b, err := v.Bytes(ptr)
	if err != nil {
		return nil, err
	}
	if len(b) != want {
		return nil, fmt.Errorf("memview: expected %d bytes at %d, got %d", want, ptr, len(b))
	}
	return b, nil
}

// secretSize and hashSize are the fixed-length object sizes the host-ABI
// eth.* functions exchange with the guest: a secp256k1 secret key and a
// Keccak-256 digest are both 32 raw bytes.
const (
	secretSize = 32
	hashSize   = 32
)

// DecodeSecret reads a 32-byte secret key argument.
func (v *View) DecodeSecret(ptr uint32) ([]byte, error) {
	return v.FixedBytes(ptr, secretSize)
}

// DecodeHash reads a 32-byte message hash argument.
func (v *View) DecodeHash(ptr uint32) ([]byte, error) {
	return v.FixedBytes(ptr, hashSize)
}

// DecodePubKey reads a public key argument of any length. Unlike secrets
// and hashes, no length is checked here: that is left to the caller's
// parser (eth.ParsePubKey accepts only the 64-byte raw x||y form).
func (v *View) DecodePubKey(ptr uint32) ([]byte, error) {
	return v.Bytes(ptr)
}

// Mut returns a live, write-through view of a buffer object's payload: any
// write to the returned slice is visible to the guest. Used by host
// functions like io.read that fill a guest-owned buffer in place, mirroring
// the original runtime's get_mut_ptr.
func (v *View) Mut(ptr uint32) ([]byte, error) {
	n, err := v.length(ptr)
	if err != nil {
		return nil, err
	}
	raw, ok := v.mem.Read(ptr, n)
	if !ok {
		return nil, fmt.Errorf("memview: out of bounds reading %d mutable bytes at %d", n, ptr)
	}
	return raw, nil
}
