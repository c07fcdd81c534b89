package storage

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, path string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, data, 0644))
}

func TestFindProbesExtensionsInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/dl")
	require.NoError(t, m.EnsureDir())

	_, found, err := m.Find("abc")
	require.NoError(t, err)
	assert.False(t, found)

	writeFile(t, fs, "/dl/abc.webp", []byte("webp-data"))
	writeFile(t, fs, "/dl/abc.png", []byte("png"))

	got, found, err := m.Find("abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, filepath.Join("/dl", "abc.png"), got.Path)
	assert.Equal(t, int64(3), got.Size)
}

func TestFindIgnoresEmptyFilesAndDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/dl")

	writeFile(t, fs, "/dl/empty.jpg", nil)
	require.NoError(t, fs.MkdirAll("/dl/dir.jpeg", 0755))

	_, found, err := m.Find("empty")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = m.Find("dir")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindOnMissingDirectory(t *testing.T) {
	m := NewManager(afero.NewMemMapFs(), "/nowhere")
	_, found, err := m.Find("x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestScan(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/dl")

	n, err := m.Scan()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	writeFile(t, fs, "/dl/a.jpg", []byte("1"))
	writeFile(t, fs, "/dl/b.PNG", []byte("22"))
	writeFile(t, fs, "/dl/notes.txt", []byte("text"))
	writeFile(t, fs, "/dl/zero.webp", nil)

	n, err = m.Scan()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMove(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/dl")

	writeFile(t, fs, "/dl/.transfers/guid-1", []byte("image bytes"))

	dst, err := m.Path("photo", ".PNG")
	require.NoError(t, err)
	size, err := Move(fs, "/dl/.transfers/guid-1", dst)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/dl", "photo.png"), dst)
	assert.Equal(t, int64(11), size)

	exists, err := afero.Exists(fs, "/dl/.transfers/guid-1")
	require.NoError(t, err)
	assert.False(t, exists)

	got, found, err := m.Find("photo")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Existing{Path: dst, Size: 11}, got)
}

func TestMoveMissingSource(t *testing.T) {
	_, err := Move(afero.NewMemMapFs(), "/dl/.transfers/missing", "/dl/photo.jpg")
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/dl")
	writeFile(t, fs, "/dl/a.jpg", []byte("1"))

	_, found, _ := m.Find("a")
	require.True(t, found)

	require.NoError(t, m.Remove("/dl/a.jpg"))
	_, found, _ = m.Find("a")
	assert.False(t, found)
	assert.NoError(t, m.Remove("/dl/a.jpg"), "removing twice is fine")
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"abc", "Xy-9_z", ".hidden", "a..b", "photo.v2"} {
		assert.NoError(t, ValidateID(id), id)
	}
	for _, id := range []string{"", ".", "..", "../../etc/evil", "a/b", `a\b`, "/abs", "nul\x00byte"} {
		err := ValidateID(id)
		assert.ErrorIs(t, err, ErrInvalidID, "%q", id)
	}
}

func TestPathRefusesEscapingIDs(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/downloads")
	writeFile(t, fs, "/etc/evil.jpg", []byte("outside"))

	_, err := m.Path("../../etc/evil", ".jpg")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, found, err := m.Find("../../etc/evil")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.False(t, found)

	p, err := m.Path("ok", ".jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/downloads", "ok.jpg"), p)
}

func TestNormalizeExtension(t *testing.T) {
	tests := map[string]string{
		".jpg":  ".jpg",
		"JPEG":  ".jpeg",
		".Png":  ".png",
		"webp":  ".webp",
		"":      ".jpg",
		".gif":  ".jpg",
		".heic": ".jpg",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeExtension(in), in)
	}

	assert.Equal(t, ".png", ExtensionOf("mountain-lake-4k.PNG"))
	assert.Equal(t, ".jpg", ExtensionOf("no-extension"))
}

func TestWriteAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, WriteAtomic(fs, "/out/manifest.json", bytes.NewBufferString(`{"ok":true}`), 0644))

	data, err := afero.ReadFile(fs, "/out/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	exists, _ := afero.Exists(fs, "/out/manifest.json.tmp")
	assert.False(t, exists)
}

func TestReadOnlyFsRejectsWrites(t *testing.T) {
	base := afero.NewMemMapFs()
	writeFile(t, base, "/dl/a.jpg", []byte("x"))

	m := NewManager(afero.NewReadOnlyFs(base), "/dl")

	_, found, err := m.Find("a")
	require.NoError(t, err)
	assert.True(t, found)

	assert.Error(t, WriteAtomic(m.Fs(), "/dl/b.jpg", bytes.NewBufferString("y"), 0644))
}
