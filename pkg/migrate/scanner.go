package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zerobrew/zb/internal/zberr"
)

// InstalledFormula is one formula this scanner found under a Homebrew
// Cellar, with whatever Tab metadata was recoverable.
type InstalledFormula struct {
	Name                  string
	Version               string
	InstalledOnRequest    bool
	InstalledAsDependency bool
	PouredFromBottle      bool
	Tap                   string
	RuntimeDependencies   []string
	KegPath               string
}

// Scanner discovers formulas installed under a Homebrew prefix.
type Scanner struct {
	prefix string
}

// NewScanner returns a Scanner for the given Homebrew prefix (its Cellar is
// prefix/Cellar, matching Homebrew's own layout).
func NewScanner(prefix string) Scanner {
	return Scanner{prefix: prefix}
}

// CellarPath returns the scanner's Cellar directory.
func (s Scanner) CellarPath() string {
	return filepath.Join(s.prefix, "Cellar")
}

// IsHomebrewInstalled reports whether a Cellar exists at this prefix.
func (s Scanner) IsHomebrewInstalled() bool {
	info, err := os.Stat(s.CellarPath())
	return err == nil && info.IsDir()
}

// Scan walks the Cellar and returns every installed formula version found,
// reading each keg's INSTALL_RECEIPT.json when present. A keg with no
// receipt is still reported, just with no Tab-derived metadata.
func (s Scanner) Scan() ([]InstalledFormula, error) {
	cellar := s.CellarPath()
	formulaDirs, err := os.ReadDir(cellar)
	if err != nil {
		return nil, zberr.NewFileError(fmt.Sprintf("no Homebrew Cellar at %s", cellar), err)
	}

	var formulas []InstalledFormula
	for _, fd := range formulaDirs {
		if !fd.IsDir() {
			continue
		}
		name := fd.Name()
		formulaPath := filepath.Join(cellar, name)

		versionDirs, err := os.ReadDir(formulaPath)
		if err != nil {
			continue
		}
		for _, vd := range versionDirs {
			if !vd.IsDir() {
				continue
			}
			version := vd.Name()
			kegPath := filepath.Join(formulaPath, version)

			var tab Tab
			if t, err := ReadTab(filepath.Join(kegPath, "INSTALL_RECEIPT.json")); err == nil {
				tab = t
			}

			deps := make([]string, 0, len(tab.RuntimeDependencies))
			for _, d := range tab.RuntimeDependencies {
				deps = append(deps, d.FullName)
			}

			formulas = append(formulas, InstalledFormula{
				Name:                  name,
				Version:               version,
				InstalledOnRequest:    tab.InstalledOnRequest,
				InstalledAsDependency: tab.InstalledAsDependency,
				PouredFromBottle:      tab.PouredFromBottle,
				Tap:                   tab.Source.Tap,
				RuntimeDependencies:   deps,
				KegPath:               kegPath,
			})
		}
	}
	return formulas, nil
}

// ScanRequested returns only the formulas the user explicitly asked for,
// excluding ones pulled in purely as a dependency of another formula.
func (s Scanner) ScanRequested() ([]InstalledFormula, error) {
	all, err := s.Scan()
	if err != nil {
		return nil, err
	}
	var out []InstalledFormula
	for _, f := range all {
		if f.InstalledOnRequest || !f.InstalledAsDependency {
			out = append(out, f)
		}
	}
	return out, nil
}

// IsInstalled reports whether name has at least one version under the Cellar.
func (s Scanner) IsInstalled(name string) bool {
	info, err := os.Stat(filepath.Join(s.CellarPath(), name))
	return err == nil && info.IsDir()
}

// InstalledVersion returns the lexicographically greatest version directory
// recorded for name, or "" if it is not installed.
func (s Scanner) InstalledVersion(name string) string {
	entries, err := os.ReadDir(filepath.Join(s.CellarPath(), name))
	if err != nil {
		return ""
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return ""
	}
	sort.Strings(versions)
	return versions[len(versions)-1]
}
