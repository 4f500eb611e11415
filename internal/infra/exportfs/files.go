package exportfs

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyFile copies src to dst with the same atomic rename as WriteFileAtomic.
// Copying a file onto itself is a no-op.
func CopyFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dst, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func writeAtomic(path string, perm os.FileMode, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := f.Name()

	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if err := fill(f); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	ok = true
	return nil
}

var preferredExt = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"image/bmp":        ".bmp",
	"image/svg+xml":    ".svg",
	"image/x-icon":     ".ico",
	"application/pdf":  ".pdf",
	"application/zip":  ".zip",
	"application/json": ".json",
	"text/plain":       ".txt",
	"text/html":        ".html",
	"video/mp4":        ".mp4",
	"audio/mpeg":       ".mp3",
}

// DetectFileExtension sniffs content and returns a file extension with the
// leading dot, or "" when the type cannot be determined.
func DetectFileExtension(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sniffLen := len(content)
	if sniffLen > 512 {
		sniffLen = 512
	}
	return ExtensionForContentType(http.DetectContentType(content[:sniffLen]))
}

// ExtensionForContentType maps a MIME type (parameters allowed) to an
// extension.
func ExtensionForContentType(contentType string) string {
	mimeType := strings.TrimSpace(contentType)
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	mimeType = strings.ToLower(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		return ""
	}
	if ext, ok := preferredExt[mimeType]; ok {
		return ext
	}

	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	sort.Strings(exts)
	return exts[0]
}

// ApplyExportedFileTimes stamps path with the remote edit time and, where the
// platform supports it, the remote creation time. A zero modified falls back
// to created.
func ApplyExportedFileTimes(path string, modified time.Time, created time.Time) error {
	return applyFileTimes(path, modified, created, setBirthTime)
}

func applyFileTimes(path string, modified, created time.Time, setBirth func(string, time.Time) error) error {
	if modified.IsZero() {
		modified = created
	}
	if modified.IsZero() {
		return nil
	}
	if err := os.Chtimes(path, modified, modified); err != nil {
		return fmt.Errorf("set times on %s: %w", path, err)
	}
	if created.IsZero() {
		return nil
	}
	return setBirth(path, created)
}

// RemoveIfEmpty deletes dir when it exists and has no entries.
func RemoveIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	return os.Remove(dir)
}
