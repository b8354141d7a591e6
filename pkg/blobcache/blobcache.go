// Package blobcache implements the write-once, content-addressed blob
// cache that sits in front of the Store: every downloaded bottle archive
// lands here first, keyed by its expected SHA-256, before Store.Ensure
// extracts it.
//
// A blob is written to a temp file under tmp/ and only becomes visible
// under blobs/ via an atomic rename in Commit, so a half-downloaded file is
// never mistaken for a complete one even if the process is killed mid-write.
package blobcache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zerobrew/zb/internal/zberr"
)

// Cache is a directory-backed blob cache rooted at a single directory, with
// "blobs" and "tmp" subdirectories.
type Cache struct {
	dir string
}

// New creates (or reopens) a blob cache rooted at dir, creating the blobs
// and tmp subdirectories if they don't already exist.
func New(dir string) (*Cache, error) {
	for _, sub := range []string{"blobs", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, zberr.NewFileError(fmt.Sprintf("creating %s directory", sub), err)
		}
	}
	return &Cache{dir: dir}, nil
}

// BlobPath returns the final on-disk path for a blob keyed by sha256,
// regardless of whether it currently exists.
func (c *Cache) BlobPath(sha256 string) string {
	return filepath.Join(c.dir, "blobs", sha256+".tar.gz")
}

func (c *Cache) tempPath(sha256 string) string {
	return filepath.Join(c.dir, "tmp", sha256+".tar.gz.part")
}

// HasBlob reports whether a blob with this digest is already present and
// committed.
func (c *Cache) HasBlob(sha256 string) bool {
	_, err := os.Stat(c.BlobPath(sha256))
	return err == nil
}

// Remove deletes a committed blob, used by the Installer's
// retry-on-corruption path to force a clean re-download.
func (c *Cache) Remove(sha256 string) error {
	err := os.Remove(c.BlobPath(sha256))
	if err != nil && !os.IsNotExist(err) {
		return zberr.NewFileError("removing blob", err)
	}
	return nil
}

// Writer accumulates a blob's bytes in a temp file until Commit makes it
// visible at its final content-addressed path, or Abort discards it.
//
// Go has no destructors, so callers must always reach either Commit or
// Abort on every code path (typically via defer w.Abort() immediately
// after StartWrite, which is a no-op once Commit has succeeded).
type Writer struct {
	cache     *Cache
	sha256    string
	file      *os.File
	tempPath  string
	committed bool
}

// StartWrite opens a fresh temp file for a blob keyed by sha256. Any
// existing temp file for the same digest is truncated.
func (c *Cache) StartWrite(sha256 string) (*Writer, error) {
	tmp := c.tempPath(sha256)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, zberr.NewFileError("creating blob temp file", err)
	}
	return &Writer{cache: c, sha256: sha256, file: f, tempPath: tmp}, nil
}

// Write implements io.Writer, appending to the temp file.
func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Commit fsyncs the temp file, renames it into place, and returns the final
// blob path. After a successful Commit, Abort is a no-op.
func (w *Writer) Commit() (string, error) {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return "", zberr.NewFileError("syncing blob temp file", err)
	}
	if err := w.file.Close(); err != nil {
		return "", zberr.NewFileError("closing blob temp file", err)
	}
	final := w.cache.BlobPath(w.sha256)
	if err := os.Rename(w.tempPath, final); err != nil {
		return "", zberr.NewFileError("committing blob", err)
	}
	w.committed = true
	return final, nil
}

// Abort discards the writer's temp file. Safe to call after a successful
// Commit (no-op) or multiple times.
func (w *Writer) Abort() {
	if w.committed {
		return
	}
	w.file.Close()
	os.Remove(w.tempPath)
}
