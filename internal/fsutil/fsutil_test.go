package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCopyTreeNeverOverwrites(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	writeFile(t, filepath.Join(src, "server.cfg"), "from cache")
	writeFile(t, filepath.Join(src, "maps", "de_dust2.bsp"), "map data")
	require.NoError(t, os.Symlink("server.cfg", filepath.Join(src, "link.cfg")))
	writeFile(t, filepath.Join(dst, "server.cfg"), "user edited")

	require.NoError(t, CopyTree(src, dst))

	assert.Equal(t, "user edited", readFile(t, filepath.Join(dst, "server.cfg")))
	assert.Equal(t, "map data", readFile(t, filepath.Join(dst, "maps", "de_dust2.bsp")))

	link, err := os.Readlink(filepath.Join(dst, "link.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "server.cfg", link)

	// A second copy is a no-op.
	require.NoError(t, CopyTree(src, dst))
}

func TestCopyTreeIntoMissingTarget(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bin", "srcds"), "binary")
	require.NoError(t, os.Chmod(filepath.Join(src, "bin", "srcds"), 0o755))

	dst := filepath.Join(t.TempDir(), "new", "server")
	require.NoError(t, CopyTree(src, dst))

	info, err := os.Stat(filepath.Join(dst, "bin", "srcds"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestCopyTreeMissingSource(t *testing.T) {
	err := CopyTree(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	assert.Error(t, err)
}

func TestDirSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), "12345")
	writeFile(t, filepath.Join(root, "sub", "b"), "123")

	size, err := DirSize(root)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	_, err = DirSize(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestEmptyDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), "x")
	writeFile(t, filepath.Join(root, "sub", "b"), "y")

	require.NoError(t, EmptyDir(root))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	missing := filepath.Join(root, "fresh")
	require.NoError(t, EmptyDir(missing))
	assert.True(t, Exists(missing))
}

func TestSafeJoin(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"cfg/server.cfg", false},
		{"./a/../b", false},
		{".", false},
		{"../escape", true},
		{"a/../../escape", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SafeJoin("/srv/root", tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
