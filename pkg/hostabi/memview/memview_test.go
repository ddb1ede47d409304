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

package memview

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"
)

// fakeMemory backs readableMemory with a plain byte slice, so these tests
// exercise the decoding logic without standing up a real wazero module.
type fakeMemory struct{ data []byte }

func (f fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(f.data)) {
		return nil, false
	}
	return f.data[offset : offset+byteCount], true
}

func TestViewBytesAndString(t *testing.T) {
	data := make([]byte, 256)

	// Layout a bytes object at ptr=32: length prefix at 28, payload "hi" at 32.
	payload := []byte("hi")
	binary.LittleEndian.PutUint32(data[28:32], uint32(len(payload)))
	copy(data[32:], payload)

	// Layout a string object at ptr=128: UTF-16LE "ok".
	units := utf16.Encode([]rune("ok"))
	strBytes := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(strBytes[2*i:], u)
	}
	binary.LittleEndian.PutUint32(data[124:128], uint32(len(strBytes)))
	copy(data[128:], strBytes)

	v := New(fakeMemory{data})

	b, err := v.Bytes(32)
	require.NoError(t, err)
	require.Equal(t, payload, b)

	s, err := v.String(128)
	require.NoError(t, err)
	require.Equal(t, "ok", s)
}

func TestViewRejectsLowPointer(t *testing.T) {
	v := New(fakeMemory{make([]byte, 64)})
	_, err := v.Bytes(2)
	require.Error(t, err)
}

func TestViewFixedBytesLengthMismatch(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint32(data[28:32], 3)
	copy(data[32:], []byte{1, 2, 3})

	v := New(fakeMemory{data})
	_, err := v.FixedBytes(32, 20)
	require.Error(t, err)

	got, err := v.FixedBytes(32, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)
}

func TestDecodeSecretHashRejectWrongLength(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint32(data[28:32], 10)

	v := New(fakeMemory{data})
	_, err := v.DecodeSecret(32)
	require.Error(t, err)
	_, err = v.DecodeHash(32)
	require.Error(t, err)
}

func TestDecodeSecretHashAcceptThirtyTwoBytes(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint32(data[28:32], 32)
	for i := 0; i < 32; i++ {
		data[32+i] = byte(i)
	}

	v := New(fakeMemory{data})
	secret, err := v.DecodeSecret(32)
	require.NoError(t, err)
	require.Len(t, secret, 32)

	hash, err := v.DecodeHash(32)
	require.NoError(t, err)
	require.Equal(t, secret, hash)
}

func TestDecodePubKeyAcceptsVariableLength(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint32(data[28:32], 5)
	copy(data[32:], []byte{1, 2, 3, 4, 5})

	v := New(fakeMemory{data})
	got, err := v.DecodePubKey(32)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, got)
}

func TestMutWritesThroughToBackingMemory(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint32(data[28:32], 4)

	v := New(fakeMemory{data})
	buf, err := v.Mut(32)
	require.NoError(t, err)
	copy(buf, []byte{9, 9, 9, 9})

	require.Equal(t, []byte{9, 9, 9, 9}, data[32:36], "writes through Mut must be visible in the backing buffer")
}
