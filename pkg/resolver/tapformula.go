package resolver

import (
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/pkg/types"
)

// ParseTapFormulaRuby parses the defined Ruby subset a tap formula file may
// use: version/revision/url/sha256 directives, depends_on lines (excluding
// :build and :test deps from the runtime dependency list), and a bottle do
// ... end block with root_url, rebuild, and per-platform sha256 lines.
// Platform-conditional blocks (on_macos/on_linux/on_arm/on_intel do ... end)
// and `if Hardware::CPU.{arm,intel}?` conditionals are resolved at parse
// time against the host running this process; matching branches are kept,
// the rest discarded. `#{version}` interpolation is resolved once the
// version directive has been located.
func ParseTapFormulaRuby(ref TapFormulaRef, source string) (types.Formula, error) {
	source = preprocessTapSource(source)

	version := parseVersion(source)
	if version == "" {
		version = "0"
	}
	revision := parseRevision(source)
	deps := parseRuntimeDependencies(source)

	_, sourceSHA, hasURL := parseSourceURL(source)
	bottle, hasBottle := parseBottle(ref, source, version, revision)

	if hasURL && sourceSHA == "" && !hasBottle {
		return types.Formula{}, zberr.NewInvalidArgument("tap formula " + ref.Formula + " source url is missing sha256")
	}
	if !hasBottle && !hasURL {
		return types.Formula{}, zberr.NewInvalidArgument("tap formula " + ref.Formula + " provides neither bottle data nor source url")
	}

	return types.Formula{
		Name:         ref.Formula,
		Tap:          ref.Owner + "/" + ref.Repo,
		Version:      types.ParseVersion(version),
		Dependencies: deps,
		Bottle:       bottle,
	}, nil
}

var (
	versionRe      = regexp.MustCompile(`(?m)^\s*version\s+["']([^"']+)["']`)
	urlVersionRe   = regexp.MustCompile(`(?m)^\s*url\s+["'][^"']*(?:refs/tags|archive|download)/v?([0-9][0-9A-Za-z._+-]*)`)
	revisionRe     = regexp.MustCompile(`(?m)^\s*revision\s+(\d+)\s*$`)
	dependsOnRe    = regexp.MustCompile(`(?m)^\s*depends_on\s+["']([^"']+)["'](.*)$`)
	sourceURLRe    = regexp.MustCompile(`(?m)^\s*url\s+["']([^"']+)["']`)
	sourceSHARe    = regexp.MustCompile(`(?m)^\s*sha256\s+["']([0-9a-f]{64})["']\s*$`)
	classStartRe   = regexp.MustCompile(`^\s*class\s+\w+\s*<\s*Formula\b`)
	bottleStartRe  = regexp.MustCompile(`^\s*bottle\s+do\b`)
	endRe          = regexp.MustCompile(`^\s*end\b`)
	doRe           = regexp.MustCompile(`\bdo\b\s*(?:\|[^|]*\|\s*)?(?:#.*)?$`)
	keywordStartRe = regexp.MustCompile(`^\s*(if|unless|case|begin|def|class|module|for|while|until)\b`)
	rootURLRe      = regexp.MustCompile(`root_url\s+["']([^"']+)["']`)
	rebuildRe      = regexp.MustCompile(`(?m)^\s*rebuild\s+(\d+)\s*$`)
	bottleSHARe    = regexp.MustCompile(`([a-z0-9_]+):\s*"([0-9a-f]{64})"`)
	onPlatformRe   = regexp.MustCompile(`^\s*on_(macos|linux|arm|intel)\s+do\b`)
	hwCPURe        = regexp.MustCompile(`^\s*if\s+Hardware::CPU\.(arm|intel)\?`)
	elsifHWCPURe   = regexp.MustCompile(`^\s*elsif\s+Hardware::CPU\.(arm|intel)\?`)
	elseLineRe     = regexp.MustCompile(`^\s*else\s*(?:#.*)?$`)
)

func preprocessTapSource(source string) string {
	resolved := resolveOnPlatformBlocks(source, false)
	resolved = resolveArchConditionals(resolved)
	if version := parseVersion(resolved); version != "" {
		resolved = strings.ReplaceAll(resolved, "#{version}", version)
	}
	return resolved
}

func platformBlockMatches(trimmed string) (matches bool, ok bool) {
	m := onPlatformRe.FindStringSubmatch(trimmed)
	if m == nil {
		return false, false
	}
	switch m[1] {
	case "macos":
		return runtime.GOOS == "darwin", true
	case "linux":
		return runtime.GOOS == "linux", true
	case "arm":
		return runtime.GOARCH == "arm64", true
	case "intel":
		return runtime.GOARCH == "amd64", true
	default:
		return false, true
	}
}

func archConditionalMatches(re *regexp.Regexp, trimmed string) (matches bool, ok bool) {
	m := re.FindStringSubmatch(trimmed)
	if m == nil {
		return false, false
	}
	switch m[1] {
	case "arm":
		return runtime.GOARCH == "arm64", true
	case "intel":
		return runtime.GOARCH == "amd64", true
	default:
		return false, true
	}
}

func countBlockOpens(trimmed string) int {
	count := len(doRe.FindAllString(trimmed, -1))
	if keywordStartRe.MatchString(trimmed) {
		count++
	}
	return count
}

func updateDepth(depth *int, trimmed string) {
	if endRe.MatchString(trimmed) {
		if *depth > 0 {
			*depth--
		}
		return
	}
	*depth += countBlockOpens(trimmed)
}

func findMatchingEnd(lines []string, start int) int {
	depth := 1
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if endRe.MatchString(trimmed) {
			depth--
			if depth == 0 {
				return i
			}
		} else {
			depth += countBlockOpens(trimmed)
		}
	}
	return len(lines)
}

// resolveOnPlatformBlocks unwraps on_macos/on_linux/on_arm/on_intel do...end
// blocks matching the host, discarding non-matching ones. Inside a bottle do
// block every platform sub-block is unwrapped unconditionally since that
// block is a data table, not conditional code.
func resolveOnPlatformBlocks(source string, insideBottle bool) string {
	lines := strings.Split(source, "\n")
	var out []string
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		if !insideBottle && bottleStartRe.MatchString(trimmed) {
			out = append(out, lines[i])
			end := findMatchingEnd(lines, i+1)
			inner := strings.Join(lines[i+1:min(end, len(lines))], "\n")
			resolved := resolveOnPlatformBlocks(inner, true)
			if resolved != "" {
				out = append(out, strings.Split(resolved, "\n")...)
			}
			if end < len(lines) {
				out = append(out, lines[end])
				i = end + 1
			} else {
				i = len(lines)
			}
			continue
		}

		if matches, ok := platformBlockMatches(trimmed); ok {
			end := findMatchingEnd(lines, i+1)
			if insideBottle || matches {
				inner := strings.Join(lines[i+1:min(end, len(lines))], "\n")
				resolved := resolveOnPlatformBlocks(inner, insideBottle)
				if resolved != "" {
					out = append(out, strings.Split(resolved, "\n")...)
				}
			}
			if end < len(lines) {
				i = end + 1
			} else {
				i = len(lines)
			}
			continue
		}

		out = append(out, lines[i])
		i++
	}
	return strings.Join(out, "\n")
}

// resolveArchConditionals keeps only the matching branch of an
// `if Hardware::CPU.{arm,intel}? ... elsif ... else ... end` conditional.
func resolveArchConditionals(source string) string {
	lines := strings.Split(source, "\n")
	var out []string
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		if ifMatches, ok := archConditionalMatches(hwCPURe, trimmed); ok {
			branch, end := splitIfElseElsif(lines, i+1, ifMatches)
			resolved := resolveArchConditionals(strings.Join(branch, "\n"))
			if resolved != "" {
				out = append(out, strings.Split(resolved, "\n")...)
			}
			if end < len(lines) {
				i = end + 1
			} else {
				i = len(lines)
			}
			continue
		}

		out = append(out, lines[i])
		i++
	}
	return strings.Join(out, "\n")
}

// archBranch is one branch of an if/elsif/else arch conditional; matches is
// nil for an else branch.
type archBranch struct {
	lines   []string
	matches *bool
}

// splitIfElseElsif walks the body of an if/elsif/else/end block, returning
// the lines of whichever branch matches (the first matching if/elsif, or
// the else branch if none matched) and the index of the closing "end".
func splitIfElseElsif(lines []string, start int, ifMatches bool) ([]string, int) {
	var branches []archBranch
	current := archBranch{matches: boolPtr(ifMatches)}
	depth := 0
	i := start

	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		if endRe.MatchString(trimmed) {
			if depth == 0 {
				branches = append(branches, current)
				return pickBranch(branches), i
			}
			depth--
		} else if depth == 0 {
			if m, ok := archConditionalMatches(elsifHWCPURe, trimmed); ok {
				branches = append(branches, current)
				current = archBranch{matches: boolPtr(m)}
				i++
				continue
			}
			if elseLineRe.MatchString(trimmed) {
				branches = append(branches, current)
				current = archBranch{matches: nil}
				i++
				continue
			}
			depth += countBlockOpens(trimmed)
		} else {
			depth += countBlockOpens(trimmed)
		}

		current.lines = append(current.lines, lines[i])
		i++
	}

	branches = append(branches, current)
	end := len(lines)
	if end > 0 {
		end--
	}
	return pickBranch(branches), end
}

func pickBranch(branches []archBranch) []string {
	for _, b := range branches {
		if b.matches != nil && *b.matches {
			return b.lines
		}
	}
	for _, b := range branches {
		if b.matches == nil {
			return b.lines
		}
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

func parseVersion(source string) string {
	if m := versionRe.FindStringSubmatch(source); m != nil {
		return m[1]
	}
	if m := urlVersionRe.FindStringSubmatch(source); m != nil {
		return normalizeInferredVersion(m[1])
	}
	return ""
}

func normalizeInferredVersion(raw string) string {
	for _, suffix := range []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tgz", ".zip"} {
		if strings.HasSuffix(raw, suffix) {
			return raw[:len(raw)-len(suffix)]
		}
	}
	return raw
}

func parseRevision(source string) uint32 {
	m := revisionRe.FindStringSubmatch(source)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// parseRuntimeDependencies scans depends_on lines outside nested blocks,
// excluding those tagged => :build or => :test since those don't belong in
// the install closure.
func parseRuntimeDependencies(source string) []string {
	body := extractFormulaClassBody(source)
	if body == "" {
		body = source
	}
	var deps []string
	depth := 0
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if depth == 0 {
			if m := dependsOnRe.FindStringSubmatch(trimmed); m != nil {
				opts := m[2]
				if !strings.Contains(opts, ":build") && !strings.Contains(opts, ":test") {
					deps = append(deps, m[1])
				}
			}
		}
		updateDepth(&depth, trimmed)
	}
	return dedupSorted(deps)
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func extractFormulaClassBody(source string) string {
	lines := strings.Split(source, "\n")
	start := -1
	depth := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start == -1 {
			if classStartRe.MatchString(trimmed) {
				start = i + 1
				depth = 1
			}
			continue
		}
		before := depth
		updateDepth(&depth, trimmed)
		if before > 0 && depth == 0 {
			return strings.Join(lines[start:i], "\n")
		}
	}
	if start == -1 {
		return ""
	}
	return strings.Join(lines[start:], "\n")
}

func parseSourceURL(source string) (url, sha string, present bool) {
	body := extractFormulaClassBody(source)
	if body == "" {
		body = source
	}
	depth := 0
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if depth == 0 {
			if url == "" {
				if m := sourceURLRe.FindStringSubmatch(trimmed); m != nil {
					url = m[1]
				}
			}
			if sha == "" {
				if m := sourceSHARe.FindStringSubmatch(trimmed); m != nil {
					sha = m[1]
				}
			}
			if url != "" && sha != "" {
				break
			}
		}
		updateDepth(&depth, trimmed)
	}
	return url, sha, url != ""
}

func extractBottleBlock(source string) (string, bool) {
	lines := strings.Split(source, "\n")
	start := -1
	depth := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start == -1 {
			if bottleStartRe.MatchString(trimmed) {
				start = i + 1
				depth = 1
			}
			continue
		}
		before := depth
		updateDepth(&depth, trimmed)
		if before > 0 && depth == 0 {
			return strings.Join(lines[start:i], "\n"), true
		}
	}
	return "", false
}

func parseBottle(ref TapFormulaRef, source, stable string, revision uint32) (types.BottleSet, bool) {
	block, ok := extractBottleBlock(source)
	if !ok {
		return types.BottleSet{}, false
	}

	rootURL := "https://ghcr.io/v2/" + ref.Owner + "/" + ref.Repo
	if m := rootURLRe.FindStringSubmatch(block); m != nil {
		rootURL = m[1]
	}
	var rebuild uint32
	if m := rebuildRe.FindStringSubmatch(block); m != nil {
		if n, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			rebuild = uint32(n)
		}
	}

	files := make(map[string]types.BottleFile)
	for _, m := range bottleSHARe.FindAllStringSubmatch(block, -1) {
		tag, sha := m[1], m[2]
		if tag == "cellar" {
			continue
		}
		files[tag] = types.BottleFile{
			URL:    buildBottleURL(ref, rootURL, stable, revision, rebuild, tag, sha),
			SHA256: sha,
		}
	}
	if len(files) == 0 {
		return types.BottleSet{}, false
	}
	return types.BottleSet{Rebuild: rebuild, Files: files}, true
}

func buildBottleURL(ref TapFormulaRef, rootURL, stable string, revision, rebuild uint32, tag, sha string) string {
	normalized := strings.TrimSuffix(rootURL, "/")
	if strings.Contains(normalized, "/v2/") {
		return normalized + "/" + ref.Formula + "/blobs/sha256:" + sha
	}

	effectiveVersion := stable
	if revision > 0 {
		effectiveVersion = stable + "_" + strconv.FormatUint(uint64(revision), 10)
	}
	rebuildSuffix := ""
	if rebuild > 0 {
		rebuildSuffix = "." + strconv.FormatUint(uint64(rebuild), 10)
	}
	return normalized + "/" + ref.Formula + "-" + effectiveVersion + "." + tag + rebuildSuffix + ".bottle.tar.gz"
}

