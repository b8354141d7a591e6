// Package store implements the content-addressed blob store: given a blob
// already verified by the downloader, Ensure extracts its tarball into a
// directory named after the blob's SHA-256 for the Cellar to materialize
// from. The store keeps no refcounts (the catalog does); the garbage
// collector calls Remove for entries the catalog reports as unreferenced.
package store

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/internal/zblog"
)

// Store is a content-addressed directory of extracted bottle trees, keyed
// by the SHA-256 of their source blob.
type Store struct {
	dir string
	mu  sync.Mutex // not used by any Store method
}

// New creates (or reopens) a store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zberr.NewFileError("creating store directory", err)
	}
	return &Store{dir: dir}, nil
}

// EntryPath returns the directory an extracted blob lives in, keyed by its
// SHA-256, regardless of whether it has been extracted yet.
func (s *Store) EntryPath(sha256 string) string {
	return filepath.Join(s.dir, sha256)
}

// Dir returns the store's root directory, for callers that need to walk it
// (e.g. the metrics collector computing on-disk size).
func (s *Store) Dir() string {
	return s.dir
}

// Has reports whether a store entry for sha256 already exists.
func (s *Store) Has(sha256 string) bool {
	_, err := os.Stat(s.EntryPath(sha256))
	return err == nil
}

// Ensure extracts blobPath (a tarball whose content hashes to sha256) into
// the store if it isn't already present, and returns the entry's directory.
// Extraction targets a temp directory and is renamed into place atomically
// so a half-extracted entry is never observed by a concurrent Ensure for
// the same key.
func (s *Store) Ensure(blobPath, sha256 string) (string, error) {
	final := s.EntryPath(sha256)
	if s.Has(sha256) {
		return final, nil
	}

	log := zblog.WithComponent("store").With().Str("sha256", sha256).Logger()

	tmp, err := os.MkdirTemp(s.dir, sha256+".extracting-*")
	if err != nil {
		return "", zberr.NewFileError("creating extraction temp dir", err)
	}
	defer os.RemoveAll(tmp)

	if err := extractTarball(blobPath, tmp); err != nil {
		log.Warn().Err(err).Msg("extraction failed")
		return "", err
	}

	if err := os.Rename(tmp, final); err != nil {
		if os.IsExist(err) || s.Has(sha256) {
			return final, nil
		}
		return "", zberr.NewStoreCorruption("failed to publish extracted entry", err)
	}

	return final, nil
}

// Remove deletes a store entry entirely. Callers (the GC) are responsible
// for confirming the entry is unreferenced first.
func (s *Store) Remove(sha256 string) error {
	if err := os.RemoveAll(s.EntryPath(sha256)); err != nil {
		return zberr.NewFileError("removing store entry", err)
	}
	return nil
}

// compressionFormat identifies a tarball's compression by magic bytes.
type compressionFormat int

const (
	formatUnknown compressionFormat = iota
	formatGzip
	formatXZ
	formatZstd
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

func detectCompression(path string) (compressionFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return formatUnknown, zberr.NewStoreCorruption("failed to open tarball", err)
	}
	defer f.Close()

	magic := make([]byte, 6)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return formatUnknown, zberr.NewStoreCorruption("failed to read magic bytes", err)
	}
	magic = magic[:n]

	if len(magic) >= 2 && bytes.Equal(magic[:2], gzipMagic) {
		return formatGzip, nil
	}
	if len(magic) >= 6 && bytes.Equal(magic, xzMagic) {
		return formatXZ, nil
	}
	if len(magic) >= 4 && bytes.Equal(magic[:4], zstdMagic) {
		return formatZstd, nil
	}
	return formatUnknown, nil
}

// extractTarball auto-detects the tarball's compression and extracts it
// into destDir, rejecting any entry that would escape destDir.
func extractTarball(tarballPath, destDir string) error {
	format, err := detectCompression(tarballPath)
	if err != nil {
		return err
	}

	f, err := os.Open(tarballPath)
	if err != nil {
		return zberr.NewStoreCorruption("failed to open tarball", err)
	}
	defer f.Close()

	var reader io.Reader
	switch format {
	case formatGzip, formatUnknown:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return zberr.NewStoreCorruption("failed to create gzip reader", err)
		}
		defer gz.Close()
		reader = gz
	case formatXZ:
		xzr, err := xz.NewReader(f)
		if err != nil {
			return zberr.NewStoreCorruption("failed to create xz reader", err)
		}
		reader = xzr
	case formatZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return zberr.NewStoreCorruption("failed to create zstd reader", err)
		}
		defer zr.Close()
		reader = zr
	}

	return extractTarArchive(reader, destDir)
}

func extractTarArchive(reader io.Reader, destDir string) error {
	canonicalDest, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		canonicalDest = destDir
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return zberr.NewStoreCorruption("failed to read archive entry", err)
		}

		if err := validateEntryPath(hdr.Name); err != nil {
			return err
		}

		fullPath := filepath.Join(destDir, hdr.Name)
		if canonicalParent, err := filepath.EvalSymlinks(filepath.Dir(fullPath)); err == nil {
			if !strings.HasPrefix(canonicalParent, canonicalDest) {
				return zberr.NewStoreCorruption(fmt.Sprintf("path traversal attempt: %s", hdr.Name), nil)
			}
		}

		if err := unpackEntry(hdr, tr, fullPath); err != nil {
			return zberr.NewStoreCorruption(fmt.Sprintf("failed to unpack entry %s", hdr.Name), err)
		}
	}
}

func validateEntryPath(name string) error {
	if filepath.IsAbs(name) {
		return zberr.NewStoreCorruption(fmt.Sprintf("absolute path in archive: %s", name), nil)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return zberr.NewStoreCorruption(fmt.Sprintf("path traversal in archive: %s", name), nil)
		}
	}
	return nil
}

func unpackEntry(hdr *tar.Header, tr *tar.Reader, fullPath string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(fullPath, os.FileMode(hdr.Mode))
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return err
		}
		os.Remove(fullPath)
		return os.Symlink(hdr.Linkname, fullPath)
	case tar.TypeLink:
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return err
		}
		return os.Link(filepath.Join(filepath.Dir(fullPath), hdr.Linkname), fullPath)
	case tar.TypeReg, tar.TypeRegA:
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, tr)
		return err
	default:
		return nil
	}
}
