package bundle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zerobrew/zb/internal/zberr"
)

// Brewfile is a parsed manifest: the directives it contained, in file order.
type Brewfile struct {
	Entries []Entry
}

// BrewEntries returns the Brew directives, in file order.
func (b Brewfile) BrewEntries() []Entry {
	var out []Entry
	for _, e := range b.Entries {
		if e.Kind == KindBrew {
			out = append(out, e)
		}
	}
	return out
}

// Supported returns the entries zb can act on (taps and formulas).
func (b Brewfile) Supported() []Entry {
	var out []Entry
	for _, e := range b.Entries {
		if e.Supported() {
			out = append(out, e)
		}
	}
	return out
}

// Unsupported returns the entries zb only recognizes, never installs.
func (b Brewfile) Unsupported() []Entry {
	var out []Entry
	for _, e := range b.Entries {
		if !e.Supported() {
			out = append(out, e)
		}
	}
	return out
}

var (
	tapRe        = regexp.MustCompile(`^tap\s+"([^"]+)"(?:,\s*"([^"]+)")?`)
	brewNameRe   = regexp.MustCompile(`^brew\s+"([^"]+)"`)
	caskRe       = regexp.MustCompile(`^cask\s+"([^"]+)"`)
	masRe        = regexp.MustCompile(`^mas\s+"([^"]+)",\s*id:\s*(\d+)`)
	vscodeRe     = regexp.MustCompile(`^vscode\s+"([^"]+)"`)
	goRe         = regexp.MustCompile(`^go\s+"([^"]+)"`)
	cargoRe      = regexp.MustCompile(`^cargo\s+"([^"]+)"`)
	flatpakRe    = regexp.MustCompile(`^flatpak\s+"([^"]+)"`)
	quotedItemRe = regexp.MustCompile(`"([^"]*)"`)
)

// Parse reads a Brewfile's contents and returns its directives in order.
// Blank lines and comments (a '#' outside a quoted string) are skipped; a
// line that doesn't match a recognized directive is a parse error.
func Parse(content string) (Brewfile, error) {
	var entries []Entry
	for i, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}
		entry, ok, err := parseEntry(line)
		if err != nil {
			return Brewfile{}, zberr.NewInvalidArgument(fmt.Sprintf("Brewfile line %d: %v", i+1, err))
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return Brewfile{Entries: entries}, nil
}

// stripComment returns the portion of line before a '#' that isn't inside a
// double-quoted string, so a '#' inside a quoted name or argument (such as
// "#1") is left alone.
func stripComment(line string) string {
	inString := false
	escapeNext := false
	for i, ch := range line {
		if escapeNext {
			escapeNext = false
			continue
		}
		switch ch {
		case '\\':
			escapeNext = true
		case '"':
			inString = !inString
		case '#':
			if !inString {
				return line[:i]
			}
		}
	}
	return line
}

func parseEntry(line string) (Entry, bool, error) {
	switch {
	case strings.HasPrefix(line, "tap "):
		e, err := parseTap(line)
		return e, true, err
	case strings.HasPrefix(line, "brew "):
		e, err := parseBrew(line)
		return e, true, err
	case strings.HasPrefix(line, "cask "):
		e, err := parseSimple(line, caskRe, "cask", KindCask)
		return e, true, err
	case strings.HasPrefix(line, "mas "):
		e, err := parseMas(line)
		return e, true, err
	case strings.HasPrefix(line, "vscode "):
		e, err := parseSimple(line, vscodeRe, "vscode", KindVscode)
		return e, true, err
	case strings.HasPrefix(line, "go "):
		e, err := parseSimple(line, goRe, "go", KindGo)
		return e, true, err
	case strings.HasPrefix(line, "cargo "):
		e, err := parseSimple(line, cargoRe, "cargo", KindCargo)
		return e, true, err
	case strings.HasPrefix(line, "flatpak "):
		e, err := parseSimple(line, flatpakRe, "flatpak", KindFlatpak)
		return e, true, err
	case strings.HasPrefix(line, "cask_args "):
		// Global cask configuration; zb has no casks, nothing to carry.
		return Entry{}, false, nil
	default:
		return Entry{}, false, fmt.Errorf("unknown entry type: %s", line)
	}
}

func parseTap(line string) (Entry, error) {
	caps := tapRe.FindStringSubmatch(line)
	if caps == nil {
		return Entry{}, fmt.Errorf("invalid tap syntax: %s", line)
	}
	return Entry{Kind: KindTap, Name: caps[1], URL: caps[2]}, nil
}

func parseBrew(line string) (Entry, error) {
	caps := brewNameRe.FindStringSubmatch(line)
	if caps == nil {
		return Entry{}, fmt.Errorf("invalid brew syntax: %s", line)
	}
	return Entry{
		Kind:           KindBrew,
		Name:           caps[1],
		Args:           arrayOption(line, "args"),
		RestartService: restartServiceOption(line),
		Link:           boolOption(line, "link"),
	}, nil
}

func parseMas(line string) (Entry, error) {
	caps := masRe.FindStringSubmatch(line)
	if caps == nil {
		return Entry{}, fmt.Errorf("invalid mas syntax: %s", line)
	}
	id, err := strconv.ParseUint(caps[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid mas id: %s", caps[2])
	}
	return Entry{Kind: KindMas, Name: caps[1], ID: id}, nil
}

func parseSimple(line string, re *regexp.Regexp, directive string, kind EntryKind) (Entry, error) {
	caps := re.FindStringSubmatch(line)
	if caps == nil {
		return Entry{}, fmt.Errorf("invalid %s syntax: %s", directive, line)
	}
	return Entry{Kind: kind, Name: caps[1]}, nil
}

func arrayOption(line, name string) []string {
	re := regexp.MustCompile(name + `:\s*\[((?:"[^"]*"(?:,\s*)?)*)\]`)
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	items := quotedItemRe.FindAllStringSubmatch(m[1], -1)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it[1])
	}
	return out
}

var restartServiceRe = regexp.MustCompile(`restart_service:\s*(:changed|true|false)`)

func restartServiceOption(line string) RestartService {
	m := restartServiceRe.FindStringSubmatch(line)
	if m == nil {
		return RestartNone
	}
	switch m[1] {
	case "true":
		return RestartAlways
	case ":changed":
		return RestartChanged
	default:
		return RestartNone
	}
}

func boolOption(line, name string) *bool {
	re := regexp.MustCompile(name + `:\s*(true|false)`)
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	v := m[1] == "true"
	return &v
}
