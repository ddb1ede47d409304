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

package vfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	base := t.TempDir()
	for _, name := range []string{"vol-in", "vol-out"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, name), 0o755))
	}
	return NewTable(base, []Volume{
		{Name: "vol-in", Path: "/input/"},
		{Name: "vol-out", Path: "/output/"},
	})
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	tbl := newTestTable(t)

	wfd, err := tbl.OpenWrite("/output/out")
	require.NoError(t, err)
	n, err := tbl.Write(wfd, []byte("This is it!"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.NoError(t, tbl.Close(wfd))

	rfd, err := tbl.OpenRead("/output/out")
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err = tbl.Read(rfd, buf)
	require.NoError(t, err)
	require.Equal(t, "This is it!", string(buf[:n]))
	require.NoError(t, tbl.Close(rfd))
}

func TestFindPathRejectsDotAndColon(t *testing.T) {
	tbl := newTestTable(t)

	_, err := tbl.OpenRead("/input/../secret")
	require.Error(t, err)

	_, err = tbl.OpenRead("/input/c:evil")
	require.Error(t, err)
}

func TestFindPathRejectsUnmountedPath(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.OpenRead("/nowhere/x")
	require.Error(t, err)
}

func TestFindPathUsesLongestPrefixMatch(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "vol-root"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "vol-sub"), 0o755))
	tbl := NewTable(base, []Volume{
		{Name: "vol-root", Path: "/data/"},
		{Name: "vol-sub", Path: "/data/sub/"},
	})

	fd, err := tbl.OpenWrite("/data/sub/file")
	require.NoError(t, err)
	require.NoError(t, tbl.Close(fd))

	_, err = os.Stat(filepath.Join(base, "vol-sub", "file"))
	require.NoError(t, err, "should have resolved against the longer /data/sub/ prefix")
}

func TestFDAllocationStartsAtMinFD(t *testing.T) {
	tbl := newTestTable(t)
	fd, err := tbl.OpenWrite("/output/a")
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, int32(minFD))
}

func TestCloseRejectsUnknownFD(t *testing.T) {
	tbl := newTestTable(t)
	err := tbl.Close(999)
	require.Error(t, err)
}

func TestReadRejectsUnknownFD(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.Read(999, make([]byte, 4))
	require.Error(t, err)
}
