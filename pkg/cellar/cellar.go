// Package cellar materializes a store entry into a versioned per-package
// keg (mirroring Homebrew's Cellar/<name>/<version> layout) and rewrites the
// @@HOMEBREW_PREFIX@@/@@HOMEBREW_CELLAR@@ placeholders bottles embed, so the
// result runs correctly at this machine's chosen prefix.
package cellar

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/internal/zblog"
)

const (
	cellarPlaceholder = "@@HOMEBREW_CELLAR@@"
	prefixPlaceholder = "@@HOMEBREW_PREFIX@@"
)

// Cellar materializes store entries into a versioned keg tree.
type Cellar struct {
	cellarDir string
	prefixDir string
	rewriter  Rewriter
}

// Rewriter abstracts the platform-specific binary fix-up step (Mach-O load
// command rewriting on macOS, ELF RPATH/RUNPATH rewriting on Linux) so
// tests can inject a fake instead of shelling out to host tools.
type Rewriter interface {
	// Rewrite adjusts any platform-specific binary metadata in path so
	// that references to the placeholder prefix resolve to prefixDir,
	// and any stale version segment belonging to name/version resolves to
	// the current one. Implementations should treat "not a binary of the
	// kind I handle" as success, not an error.
	Rewrite(path, prefixDir, name, version string) error
}

// New creates a Cellar rooted at cellarDir, materializing kegs that
// reference prefixDir, using rewriter for platform-specific binary fix-up.
func New(cellarDir, prefixDir string, rewriter Rewriter) *Cellar {
	return &Cellar{cellarDir: cellarDir, prefixDir: prefixDir, rewriter: rewriter}
}

// KegPath returns the directory a package's keg lives in, keyed by name and
// effective version, regardless of whether it has been materialized yet.
func (c *Cellar) KegPath(name, version string) string {
	return filepath.Join(c.cellarDir, name, version)
}

// Materialize copies storeEntry (a Store's extracted tree, rooted at
// "<name>/<version>/...") into the Cellar and rewrites placeholders in
// every file it copies. It is not transactional: on error, partially
// materialized output is removed before returning.
func (c *Cellar) Materialize(storeEntry, name, version string) (string, error) {
	keg := c.KegPath(name, version)
	log := zblog.WithComponent("cellar").With().Str("package", name).Str("version", version).Logger()

	// Bottles package their own "<name>/<version>" root inside the
	// archive; if the store entry already contains that layout, descend
	// into it so the materialized keg doesn't get an extra nesting level.
	src := storeEntry
	if nested := filepath.Join(storeEntry, name, version); dirExists(nested) {
		src = nested
	}

	if err := os.MkdirAll(filepath.Dir(keg), 0o755); err != nil {
		return "", zberr.NewFileError("creating cellar package directory", err)
	}

	if err := copyTree(src, keg); err != nil {
		os.RemoveAll(keg)
		return "", err
	}

	stripQuarantine(keg)

	if err := c.fixUp(keg, name, version); err != nil {
		log.Warn().Err(err).Msg("placeholder fix-up failed")
		os.RemoveAll(keg)
		return "", err
	}

	return keg, nil
}

// stripQuarantine removes the macOS quarantine extended attribute from
// every file under keg, once, recursively, so Gatekeeper doesn't re-prompt
// for binaries this installer just placed on disk. Best-effort: the xattr
// tool may be absent (non-macOS) or the attribute may never have been set.
func stripQuarantine(keg string) {
	if runtime.GOOS != "darwin" {
		return
	}
	if _, err := exec.LookPath("xattr"); err != nil {
		return
	}
	_ = exec.Command("xattr", "-rc", keg).Run()
}

// Remove deletes a materialized keg.
func (c *Cellar) Remove(name, version string) error {
	if err := os.RemoveAll(c.KegPath(name, version)); err != nil {
		return zberr.NewFileError("removing keg", err)
	}
	return nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// copyTree materializes src into dst using the cheapest strategy available:
// a hardlink when src and dst share a filesystem (the common case, since
// both live under the same RootPath), falling back to a full byte copy
// otherwise (e.g. across a bind mount boundary). Symlinks are recreated
// rather than followed.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		default:
			return copyFile(path, target, info.Mode())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// fileKind distinguishes the three categories of file fixUp rewrites, since
// they tolerate failure differently: a failed Mach-O rewrite always aborts
// the install (a binary left with unresolved load paths won't run), while
// ELF and text failures are tolerated up to a bounded count.
type fileKind int

const (
	fileKindText fileKind = iota
	fileKindMachO
	fileKindELF
)

// fixUp rewrites @@HOMEBREW_PREFIX@@/@@HOMEBREW_CELLAR@@ placeholders (and
// stale self-referential versions) across every file in keg: text files get
// a string substitution, binaries go through the platform Rewriter. ELF and
// text failures are tolerated (best-effort, matching the original's
// behavior of logging and continuing rather than failing the whole install
// over one unreadable file) up to a bounded count; any Mach-O failure is
// hard-failed immediately, since a bottle whose Mach-O load paths weren't
// fixed up won't run correctly.
func (c *Cellar) fixUp(keg, name, version string) error {
	var files []string
	err := filepath.Walk(keg, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return zberr.NewFileError("walking keg for placeholder fix-up", err)
	}

	const maxTolerated = 3
	var mu sync.Mutex
	var firstMachOErr error
	var toleratedFailures int

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for _, path := range files {
		path := path
		g.Go(func() error {
			kind, err := c.fixUpFile(path, name, version)
			if err == nil {
				return nil
			}
			zblog.Logger.Warn().Err(err).Str("file", path).Msg("placeholder fix-up failed for file")

			mu.Lock()
			defer mu.Unlock()
			if kind == fileKindMachO {
				if firstMachOErr == nil {
					firstMachOErr = err
				}
			} else {
				toleratedFailures++
			}
			return nil
		})
	}
	_ = g.Wait()

	if firstMachOErr != nil {
		return zberr.NewStoreCorruption("Mach-O fix-up failed", firstMachOErr)
	}
	if toleratedFailures > maxTolerated {
		return zberr.NewStoreCorruption("too many placeholder fix-up failures", nil)
	}
	return nil
}

func (c *Cellar) fixUpFile(path, name, version string) (fileKind, error) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return fileKindText, nil
	}

	head := make([]byte, 4)
	f, err := os.Open(path)
	if err != nil {
		return fileKindText, err
	}
	n, _ := f.Read(head)
	f.Close()

	if n >= 4 && bytes.Equal(head[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return fileKindELF, c.rewriter.Rewrite(path, c.prefixDir, name, version)
	}
	if isMachOMagic(head) {
		return fileKindMachO, c.rewriter.Rewrite(path, c.prefixDir, name, version)
	}

	return fileKindText, patchTextPlaceholders(path, c.prefixDir)
}

func isMachOMagic(head []byte) bool {
	if len(head) < 4 {
		return false
	}
	magics := [][4]byte{
		{0xfe, 0xed, 0xfa, 0xce}, {0xce, 0xfa, 0xed, 0xfe}, // 32-bit
		{0xfe, 0xed, 0xfa, 0xcf}, {0xcf, 0xfa, 0xed, 0xfe}, // 64-bit
		{0xca, 0xfe, 0xba, 0xbe}, {0xbe, 0xba, 0xfe, 0xca}, // fat/universal
	}
	var h [4]byte
	copy(h[:], head[:4])
	for _, m := range magics {
		if h == m {
			return true
		}
	}
	return false
}

// patchTextPlaceholders replaces @@HOMEBREW_PREFIX@@/@@HOMEBREW_CELLAR@@ in
// a file believed to be text, preserving its mode. Files that look binary
// (a NUL byte in the first 8KiB) are left untouched.
func patchTextPlaceholders(path, prefixDir string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	if bytes.IndexByte(probe, 0) != -1 {
		return nil
	}

	cellarDir := filepath.Join(prefixDir, "Cellar")
	if !bytes.Contains(data, []byte(prefixPlaceholder)) && !bytes.Contains(data, []byte(cellarPlaceholder)) {
		return nil
	}

	rewritten := bytes.ReplaceAll(data, []byte(cellarPlaceholder), []byte(cellarDir))
	rewritten = bytes.ReplaceAll(rewritten, []byte(prefixPlaceholder), []byte(prefixDir))

	return os.WriteFile(path, rewritten, info.Mode())
}
