// Package linker creates the user-visible symlinks from a package's keg
// into the install prefix, the step that makes `wget` resolve on $PATH
// after `/opt/homebrew/Cellar/wget/1.0/bin/wget` has been materialized.
package linker

import (
	"os"
	"path/filepath"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/internal/zblog"
)

// topLevelDirs are the keg subdirectories Homebrew links into the prefix.
// Every file below them is linked, share/doc and etc/<pkg> included; other
// top-level keg entries (libexec, files at the keg root) stay unlinked.
var topLevelDirs = []string{"bin", "sbin", "lib", "include", "share", "etc"}

// Linker creates and removes symlinks under a single prefix directory.
type Linker struct {
	prefixDir string
}

// New creates a Linker targeting prefixDir.
func New(prefixDir string) *Linker {
	return &Linker{prefixDir: prefixDir}
}

// Link walks keg's top-level directories and creates a mirroring symlink
// tree under the prefix for every file (not directory) it finds, returning
// the list of prefix paths it created. If any target path already exists
// and isn't already a symlink pointing into this exact keg, Link stops and
// returns a LinkConflict error without creating further links; anything
// already linked during this call is left in place for the caller to roll
// back via Unlink(createdSoFar).
func (l *Linker) Link(keg, name string) ([]string, error) {
	log := zblog.WithComponent("linker").With().Str("package", name).Logger()
	var created []string

	for _, sub := range topLevelDirs {
		kegSub := filepath.Join(keg, sub)
		info, err := os.Stat(kegSub)
		if err != nil {
			continue // packages needn't have every subdirectory
		}
		if !info.IsDir() {
			continue
		}

		err = filepath.Walk(kegSub, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(keg, path)
			if err != nil {
				return err
			}
			target := filepath.Join(l.prefixDir, rel)

			linkSource, err := filepath.Rel(filepath.Dir(target), path)
			if err != nil {
				return err
			}

			if conflict, err := hasConflict(target, linkSource); err != nil {
				return err
			} else if conflict {
				return zberr.NewLinkConflict(target)
			}
			if alreadyLinkedHere(target, linkSource) {
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return zberr.NewFileError("creating prefix directory", err)
			}
			if err := os.Symlink(linkSource, target); err != nil {
				return zberr.NewFileError("creating symlink", err)
			}
			created = append(created, target)
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Msg("link failed, returning partial links to the caller")
			return created, err
		}
	}

	return created, nil
}

// Unlink removes the symlinks previously returned by Link (or recorded in
// the Catalog), ignoring paths that no longer exist.
func (l *Linker) Unlink(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return zberr.NewFileError("removing symlink", err)
		}
	}
	return nil
}

func hasConflict(target, wantLinkSource string) (bool, error) {
	fi, err := os.Lstat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, zberr.NewFileError("checking existing link target", err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return true, nil // a real file sits where we want to link
	}
	existing, err := os.Readlink(target)
	if err != nil {
		return true, nil
	}
	return existing != wantLinkSource, nil
}

func alreadyLinkedHere(target, wantLinkSource string) bool {
	existing, err := os.Readlink(target)
	return err == nil && existing == wantLinkSource
}
