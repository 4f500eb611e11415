package exportfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "note.md")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteFileAtomicFailsWhenParentIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := WriteFileAtomic(filepath.Join(blocker, "note.md"), []byte("data"), 0o644)
	assert.Error(t, err)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "One_assets", "1.png")
	require.NoError(t, WriteFileAtomic(src, []byte("image"), 0o644))

	dst := filepath.Join(dir, "Two_assets", "3.png")
	require.NoError(t, CopyFile(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "image", string(got))

	require.NoError(t, CopyFile(src, src))
	got, err = os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "image", string(got))

	assert.Error(t, CopyFile(filepath.Join(dir, "missing.png"), dst))
}

func TestDetectFileExtension(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	pdf := []byte("%PDF-1.7\n")

	assert.Equal(t, ".png", DetectFileExtension(png))
	assert.Equal(t, ".jpg", DetectFileExtension(jpeg))
	assert.Equal(t, ".pdf", DetectFileExtension(pdf))
	assert.Equal(t, ".txt", DetectFileExtension([]byte("just some words")))
	assert.Equal(t, "", DetectFileExtension(nil))
	assert.Equal(t, "", DetectFileExtension([]byte{0x00, 0x01, 0x02, 0x03}))
}

func TestExtensionForContentType(t *testing.T) {
	assert.Equal(t, ".png", ExtensionForContentType("image/png"))
	assert.Equal(t, ".txt", ExtensionForContentType("text/plain; charset=utf-8"))
	assert.Equal(t, "", ExtensionForContentType("application/octet-stream"))
	assert.Equal(t, "", ExtensionForContentType(""))
}

func TestApplyExportedFileTimes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	modified := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	created := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	var gotCreated time.Time
	err := applyFileTimes(path, modified, created, func(_ string, c time.Time) error {
		gotCreated = c
		return nil
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modified))
	assert.True(t, gotCreated.Equal(created))

	require.NoError(t, ApplyExportedFileTimes(path, time.Time{}, time.Time{}))

	require.NoError(t, ApplyExportedFileTimes(path, time.Time{}, created))
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(created))
}

func TestRemoveIfEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	full := filepath.Join(dir, "full")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, "f"), nil, 0o644))

	require.NoError(t, RemoveIfEmpty(empty))
	require.NoError(t, RemoveIfEmpty(full))
	require.NoError(t, RemoveIfEmpty(filepath.Join(dir, "missing")))

	_, err := os.Stat(empty)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(full)
	assert.NoError(t, err)
}
