package fsutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()

	w, err := m.Create("out/ts.fits")
	require.NoError(t, err)
	_, err = w.Write([]byte("SIMPLE"))
	require.NoError(t, err)
	assert.False(t, m.Exists("out/ts.fits"))
	require.NoError(t, w.Close())
	assert.True(t, m.Exists("out/ts.fits"))

	r, err := m.Open("./out/../out/ts.fits")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "SIMPLE", string(data))
	info, err := r.Stat()
	require.NoError(t, err)
	assert.Equal(t, "ts.fits", info.Name())
	assert.Equal(t, int64(6), info.Size())
}

func TestMemoryFileSystem_Isolation(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	buf := []byte("abc")
	require.NoError(t, m.WriteFile("a", buf, 0o644))
	buf[0] = 'x'
	got, err := m.ReadFile("a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	_, err = m.ReadFile("missing")
	assert.Error(t, err)
	_, err = m.Open("missing")
	assert.Error(t, err)
}

func TestMemoryFileSystem_Dirs(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("reports/run1", 0o755))
	assert.True(t, m.Exists("reports"))
	assert.True(t, m.Exists("reports/run1"))

	require.NoError(t, m.WriteFile("reports/run1/b.png", nil, 0o644))
	require.NoError(t, m.WriteFile("reports/run1/a.html", nil, 0o644))
	require.NoError(t, m.WriteFile("other/c", nil, 0o644))
	assert.Equal(t, []string{
		filepath.Join("reports", "run1", "a.html"),
		filepath.Join("reports", "run1", "b.png"),
	}, m.Files("reports"))
}

func TestOSFileSystem_RoundTrip(t *testing.T) {
	t.Parallel()
	var fs FileSystem = OSFileSystem{}
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")

	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	w, err := fs.Create(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.True(t, fs.Exists(path))
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.False(t, fs.Exists(filepath.Join(dir, "nope")))
}
