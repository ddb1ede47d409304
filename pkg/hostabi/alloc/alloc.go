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

// Package alloc drives a guest's AssemblyScript allocator (__new/__retain)
// from the host side, so host functions can hand objects back into guest
// memory.
package alloc

import (
	"context"
	"fmt"
	"unicode/utf16"

	"github.com/tetratelabs/wazero/api"
)

const (
	// ArrayBufferID is the AssemblyScript runtime type id for a raw
	// byte buffer (Uint8Array's backing ArrayBuffer).
	ArrayBufferID = 0
	// StringID is the AssemblyScript runtime type id for a string.
	StringID = 1
)

// Allocator calls into a guest module's exported __new/__retain functions
// to allocate objects in guest linear memory.
type Allocator struct {
	mod      api.Module
	newFn    api.Function
	retainFn api.Function
}

// ForModule resolves the allocator exports of mod. It fails if either
// export is missing, since every AssemblyScript-compiled guest exports
// them by construction.
func ForModule(mod api.Module) (*Allocator, error) {
	newFn := mod.ExportedFunction("__new")
	if newFn == nil {
		return nil, fmt.Errorf("alloc: guest module does not export __new")
	}
	retainFn := mod.ExportedFunction("__retain")
	if retainFn == nil {
		return nil, fmt.Errorf("alloc: guest module does not export __retain")
	}
	return &Allocator{mod: mod, newFn: newFn, retainFn: retainFn}, nil
}

// newBytesInt allocates size bytes tagged with typeID and writes data into
// the resulting guest buffer.
func (a *Allocator) newBytesInt(ctx context.Context, data []byte, typeID uint64) (uint32, error) {
	res, err := a.newFn.Call(ctx, uint64(len(data)), typeID)
	if err != nil {
		return 0, fmt.Errorf("alloc: __new: %w", err)
	}
	ptr := uint32(res[0])

	if !a.mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("alloc: writing %d bytes at %d: out of bounds", len(data), ptr)
	}
	return ptr, nil
}

// NewBytes allocates a raw ArrayBuffer-backed Uint8Array in guest memory,
// writes data into it, and retains it: the full allocate-write-retain
// convention host functions use to hand an object back to the guest, so the
// guest's garbage collector can never reclaim it before the call returns.
func (a *Allocator) NewBytes(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := a.newBytesInt(ctx, data, ArrayBufferID)
	if err != nil {
		return 0, err
	}
	if err := a.Retain(ctx, ptr); err != nil {
		return 0, err
	}
	return ptr, nil
}

// NewString allocates a UTF-16LE AssemblyScript string in guest memory and
// retains it, following the same allocate-write-retain convention as
// NewBytes.
func (a *Allocator) NewString(ctx context.Context, s string) (uint32, error) {
	encoded := encodeUTF16LE(s)
	ptr, err := a.newBytesInt(ctx, encoded, StringID)
	if err != nil {
		return 0, err
	}
	if err := a.Retain(ctx, ptr); err != nil {
		return 0, err
	}
	return ptr, nil
}

// Retain increments an object's guest-side reference count, keeping it
// alive across the host call that returns it.
func (a *Allocator) Retain(ctx context.Context, ptr uint32) error {
	_, err := a.retainFn.Call(ctx, uint64(ptr))
	if err != nil {
		return fmt.Errorf("alloc: __retain: %w", err)
	}
	return nil
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}
