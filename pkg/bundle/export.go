package bundle

import (
	"fmt"
	"strings"

	"github.com/zerobrew/zb/pkg/installer"
)

// Export builds a Brewfile from an installer's currently installed
// packages. There's no record yet of which were installed directly versus
// pulled in as a dependency, so every installed package is exported as a
// top-level brew entry.
func Export(in *installer.Installer) (Brewfile, error) {
	kegs, err := in.ListInstalled()
	if err != nil {
		return Brewfile{}, fmt.Errorf("listing installed packages: %w", err)
	}

	entries := make([]Entry, 0, len(kegs))
	for _, keg := range kegs {
		entries = append(entries, Entry{Kind: KindBrew, Name: keg.Name})
	}
	return Brewfile{Entries: entries}, nil
}

// Format renders a Brewfile back to its text form: taps first, then brews,
// each using the shortest syntax that round-trips its options.
func Format(bf Brewfile) string {
	var out strings.Builder

	var taps []Entry
	var brews []Entry
	for _, e := range bf.Entries {
		switch e.Kind {
		case KindTap:
			taps = append(taps, e)
		case KindBrew:
			brews = append(brews, e)
		}
	}

	for _, t := range taps {
		if t.URL != "" {
			fmt.Fprintf(&out, "tap %q, %q\n", t.Name, t.URL)
		} else {
			fmt.Fprintf(&out, "tap %q\n", t.Name)
		}
	}
	if len(taps) > 0 && len(brews) > 0 {
		out.WriteString("\n")
	}

	for _, b := range brews {
		if len(b.Args) == 0 && b.RestartService == RestartNone && (b.Link == nil || *b.Link) {
			fmt.Fprintf(&out, "brew %q\n", b.Name)
			continue
		}

		parts := []string{fmt.Sprintf("brew %q", b.Name)}
		if len(b.Args) > 0 {
			quoted := make([]string, len(b.Args))
			for i, a := range b.Args {
				quoted[i] = fmt.Sprintf("%q", a)
			}
			parts = append(parts, fmt.Sprintf("args: [%s]", strings.Join(quoted, ", ")))
		}
		switch b.RestartService {
		case RestartAlways:
			parts = append(parts, "restart_service: true")
		case RestartChanged:
			parts = append(parts, "restart_service: :changed")
		}
		if b.Link != nil && !*b.Link {
			parts = append(parts, "link: false")
		}
		out.WriteString(strings.Join(parts, ", "))
		out.WriteString("\n")
	}

	return out.String()
}
