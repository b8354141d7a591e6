// Package migrate discovers an existing Homebrew installation on disk and
// migrates its user-requested formulas into zb, skipping anything already
// present and refusing anything pulled from a tap zb doesn't support.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
)

// RuntimeDep is one entry of a Tab's runtime_dependencies array.
type RuntimeDep struct {
	FullName   string `json:"full_name"`
	Version    string `json:"version"`
	PkgVersion string `json:"pkg_version"`
}

// TabSource is the Tab's "source" object.
type TabSource struct {
	Tap  string `json:"tap"`
	Spec string `json:"spec"`
}

// Tab is Homebrew's INSTALL_RECEIPT.json: per-keg metadata about how and why
// a formula was installed.
type Tab struct {
	HomebrewVersion       string       `json:"homebrew_version"`
	InstalledAsDependency bool         `json:"installed_as_dependency"`
	InstalledOnRequest    bool         `json:"installed_on_request"`
	PouredFromBottle      bool         `json:"poured_from_bottle"`
	RuntimeDependencies   []RuntimeDep `json:"runtime_dependencies"`
	Time                  int64        `json:"time"`
	Arch                  string       `json:"arch"`
	Source                TabSource    `json:"source"`
}

// ReadTab reads and parses a Tab from an INSTALL_RECEIPT.json file.
func ReadTab(path string) (Tab, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Tab{}, fmt.Errorf("reading tab %s: %w", path, err)
	}
	return ParseTab(content)
}

// ParseTab parses a Tab from its JSON encoding.
func ParseTab(content []byte) (Tab, error) {
	var t Tab
	if err := json.Unmarshal(content, &t); err != nil {
		return Tab{}, fmt.Errorf("parsing tab JSON: %w", err)
	}
	return t, nil
}

// IsCoreFormula reports whether the Tab's source implies homebrew/core: an
// empty tap is homebrew/core's own convention for "no tap recorded".
func (t Tab) IsCoreFormula() bool {
	return t.Source.Tap == "" || t.Source.Tap == "homebrew/core"
}
