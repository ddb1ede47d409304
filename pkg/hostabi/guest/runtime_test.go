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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmunit/wasmunit/pkg/manifest"
)

// fakeAllocator stands in for *alloc.Allocator: every allocation just
// records its payload and hands back its index as the "pointer", so
// argument-conversion tests don't need a real guest module.
type fakeAllocator struct {
	strings []string
	bytes   [][]byte
}

func (f *fakeAllocator) NewString(ctx context.Context, s string) (uint32, error) {
	f.strings = append(f.strings, s)
	return uint32(len(f.strings)), nil
}

func (f *fakeAllocator) NewBytes(ctx context.Context, data []byte) (uint32, error) {
	f.bytes = append(f.bytes, data)
	return uint32(len(f.bytes)), nil
}

func TestConvertArgsString(t *testing.T) {
	a := &fakeAllocator{}
	descs := []manifest.ArgDesc{{Name: "msg", Type: manifest.ArgString}}
	out, err := convertArgs(context.Background(), a, descs, []string{"hello"})
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, out)
	require.Equal(t, []string{"hello"}, a.strings)
}

func TestConvertArgsBytesHexDecoded(t *testing.T) {
	a := &fakeAllocator{}
	descs := []manifest.ArgDesc{{Name: "hash", Type: manifest.ArgBytes}}
	out, err := convertArgs(context.Background(), a, descs, []string{"aabbcc"})
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, out)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc}, a.bytes[0])
}

func TestConvertArgsBytesRejectsWrongFixedLength(t *testing.T) {
	fixed := 4
	a := &fakeAllocator{}
	descs := []manifest.ArgDesc{{Name: "id", Type: manifest.ArgBytes, Fixed: &fixed}}
	_, err := convertArgs(context.Background(), a, descs, []string{"aabb"})
	require.Error(t, err)
}

func TestConvertArgsI32(t *testing.T) {
	a := &fakeAllocator{}
	descs := []manifest.ArgDesc{{Name: "n", Type: manifest.ArgI32}}
	out, err := convertArgs(context.Background(), a, descs, []string{"-7"})
	require.NoError(t, err)
	require.Equal(t, int32(-7), int32(uint32(out[0])))
}

func TestConvertArgsRejectsArityMismatch(t *testing.T) {
	a := &fakeAllocator{}
	descs := []manifest.ArgDesc{{Name: "a", Type: manifest.ArgI32}, {Name: "b", Type: manifest.ArgI32}}
	_, err := convertArgs(context.Background(), a, descs, []string{"1"})
	require.Error(t, err)
}

// fakeDecoder stands in for *memview.View in output-decoding tests.
type fakeDecoder struct {
	bytesByPtr  map[uint32][]byte
	stringByPtr map[uint32]string
}

func (f *fakeDecoder) Bytes(ptr uint32) ([]byte, error)  { return f.bytesByPtr[ptr], nil }
func (f *fakeDecoder) String(ptr uint32) (string, error) { return f.stringByPtr[ptr], nil }

type capturingSink struct{ stdout, stderr []string }

func (c *capturingSink) HandleStdout(line string) { c.stdout = append(c.stdout, line) }
func (c *capturingSink) HandleStderr(line string) { c.stderr = append(c.stderr, line) }

func TestDecodeOutputExitCode(t *testing.T) {
	sink := &capturingSink{}
	code, err := decodeOutput(&fakeDecoder{}, manifest.OutputExitCode, []uint64{7}, sink)
	require.NoError(t, err)
	require.Equal(t, int32(7), code)
	require.Empty(t, sink.stdout)
}

func TestDecodeOutputVoid(t *testing.T) {
	sink := &capturingSink{}
	code, err := decodeOutput(&fakeDecoder{}, manifest.OutputVoid, nil, sink)
	require.NoError(t, err)
	require.Equal(t, int32(0), code)
}

func TestDecodeOutputString(t *testing.T) {
	dec := &fakeDecoder{stringByPtr: map[uint32]string{42: "result"}}
	sink := &capturingSink{}
	code, err := decodeOutput(dec, manifest.OutputString, []uint64{42}, sink)
	require.NoError(t, err)
	require.Equal(t, int32(0), code)
	require.Equal(t, []string{"result"}, sink.stdout)
}

func TestDecodeOutputBytesIsHexEncoded(t *testing.T) {
	dec := &fakeDecoder{bytesByPtr: map[uint32][]byte{9: {0xde, 0xad}}}
	sink := &capturingSink{}
	code, err := decodeOutput(dec, manifest.OutputBytes, []uint64{9}, sink)
	require.NoError(t, err)
	require.Equal(t, int32(0), code)
	require.Equal(t, []string{"dead"}, sink.stdout)
}

func TestRunRejectsUnknownEntryPoint(t *testing.T) {
	r := &Runtime{main: &manifest.Manifest{NamedEntryPoint: map[string]manifest.EntryPoint{}}}
	_, err := r.Run(context.Background(), "missing", nil, &capturingSink{})
	require.Error(t, err)
}
