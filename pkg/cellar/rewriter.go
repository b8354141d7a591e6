package cellar

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/zerobrew/zb/internal/zberr"
)

// ExecRewriter shells out to host tools to patch binary load paths:
// install_name_tool/codesign on macOS, patchelf on Linux. It is the
// production Rewriter; tests use a fake instead of depending on these
// tools being installed.
type ExecRewriter struct {
	// GOOS overrides runtime.GOOS, for tests.
	GOOS string
}

// Rewrite patches path's embedded prefix references, and any stale
// name/version segment belonging to this install's own package, to point
// at prefixDir/name/version.
func (r ExecRewriter) Rewrite(path, prefixDir, name, version string) error {
	goos := r.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "darwin":
		return rewriteMachO(path, prefixDir, name, version)
	case "linux":
		return rewriteELF(path, prefixDir, name, version)
	default:
		return nil
	}
}

// rewriteMachO rewrites a Mach-O file's dependency load paths and, if the
// file is itself a dylib, its own ID. Any reference under
// <prefix>/Cellar/<name>/ whose version segment doesn't match version is
// rewritten to it, in addition to the @@HOMEBREW_*@@ placeholder case. A
// re-sign only happens if something was actually rewritten, and only for
// executables under bin/ to bound cost.
func rewriteMachO(path, prefixDir, name, version string) error {
	if _, err := exec.LookPath("install_name_tool"); err != nil {
		return nil // no-op on hosts without Xcode CLT; matches best-effort fix-up
	}

	libID := currentLibraryID(path)

	out, err := runCaptured(exec.Command("otool", "-L", path))
	if err != nil {
		return zberr.NewExecutionError("otool -L failed", err)
	}

	changed := false
	for _, line := range strings.Split(out, "\n") {
		dep := extractDepPath(line)
		if dep == "" {
			continue
		}
		resolved, ok := resolveDepPath(dep, prefixDir, name, version)
		if !ok {
			continue
		}

		var cmd *exec.Cmd
		if dep == libID {
			cmd = exec.Command("install_name_tool", "-id", resolved, path)
		} else {
			cmd = exec.Command("install_name_tool", "-change", dep, resolved, path)
		}
		if _, err := runCaptured(cmd); err != nil {
			return zberr.NewExecutionError(fmt.Sprintf("install_name_tool rewrite failed for %s", dep), err)
		}
		changed = true
	}

	if changed && shouldSign(path) {
		cmd := exec.Command("codesign", "--force", "--sign", "-", path)
		if _, err := runCaptured(cmd); err != nil {
			return zberr.NewExecutionError("codesign failed after rewrite", err)
		}
	}

	return nil
}

// currentLibraryID returns the Mach-O file's own install name (its ID), or
// "" if it has none (e.g. it's an executable, not a dylib).
func currentLibraryID(path string) string {
	if _, err := exec.LookPath("otool"); err != nil {
		return ""
	}
	out, err := runCaptured(exec.Command("otool", "-D", path))
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// shouldSign reports whether path should be ad-hoc re-signed after a
// rewrite: only executables under a bin/ directory, and only if not
// already signed, per the fix-up's cost bound.
func shouldSign(path string) bool {
	if _, err := exec.LookPath("codesign"); err != nil {
		return false
	}
	sep := string(filepath.Separator)
	if !strings.Contains(path, sep+"bin"+sep) {
		return false
	}
	if err := exec.Command("codesign", "-dv", path).Run(); err == nil {
		return false // already signed
	}
	return true
}

func rewriteELF(path, prefixDir, name, version string) error {
	if _, err := exec.LookPath("patchelf"); err != nil {
		return nil // patchelf absent: skip without failing, per spec
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	original := info.Mode()
	if err := os.Chmod(path, original|0o200); err == nil {
		defer os.Chmod(path, original)
	}

	rpath, err := runCaptured(exec.Command("patchelf", "--print-rpath", path))
	if err != nil {
		return zberr.NewExecutionError("patchelf --print-rpath failed", err)
	}
	newRPath := rewriteRPath(strings.TrimSpace(rpath), prefixDir, name, version)
	if _, err := runCaptured(exec.Command("patchelf", "--set-rpath", newRPath, path)); err != nil {
		return zberr.NewExecutionError("patchelf --set-rpath failed", err)
	}

	interp, err := runCaptured(exec.Command("patchelf", "--print-interpreter", path))
	if err == nil {
		interp = strings.TrimSpace(interp)
		if strings.Contains(interp, cellarPlaceholder) || strings.Contains(interp, prefixPlaceholder) {
			cmd := exec.Command("patchelf", "--set-interpreter", systemInterpreter(), path)
			if _, err := runCaptured(cmd); err != nil {
				return zberr.NewExecutionError("patchelf --set-interpreter failed", err)
			}
		}
	}

	return nil
}

// rewriteRPath resolves each colon-separated entry of an RPATH/RUNPATH
// independently, falling back to <prefix>/lib when rpath is empty or
// carries no placeholder/stale-version segment to rewrite.
func rewriteRPath(rpath, prefixDir, name, version string) string {
	if rpath == "" {
		return filepath.Join(prefixDir, "lib")
	}
	entries := strings.Split(rpath, ":")
	anyChanged := false
	for i, entry := range entries {
		resolved, changed := resolveDepPath(entry, prefixDir, name, version)
		entries[i] = resolved
		anyChanged = anyChanged || changed
	}
	if !anyChanged {
		return filepath.Join(prefixDir, "lib")
	}
	return strings.Join(entries, ":")
}

// systemInterpreter returns the architecture's system dynamic linker path,
// used to replace a placeholder interpreter baked into an ELF binary.
func systemInterpreter() string {
	if runtime.GOARCH == "arm64" {
		return "/lib/ld-linux-aarch64.so.1"
	}
	return "/lib64/ld-linux-x86-64.so.2"
}

func runCaptured(cmd *exec.Cmd) (string, error) {
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// extractDepPath pulls the leading path out of an `otool -L` dependency
// line, which looks like
// "\t@@HOMEBREW_CELLAR@@/foo/1.0/lib/libfoo.dylib (compatibility version ...)".
func extractDepPath(line string) string {
	trimmed := strings.TrimSpace(line)
	if idx := strings.IndexByte(trimmed, ' '); idx >= 0 {
		return trimmed[:idx]
	}
	return ""
}

func rewritePlaceholders(s, prefixDir string) string {
	cellarDir := filepath.Join(prefixDir, "Cellar")
	out := strings.ReplaceAll(s, cellarPlaceholder, cellarDir)
	out = strings.ReplaceAll(out, prefixPlaceholder, prefixDir)
	return out
}

// resolveDepPath rewrites dep if it embeds a @@HOMEBREW_*@@ placeholder, or
// a hardcoded <prefix>/Cellar/<name>/<stale-version> path belonging to this
// install's own package, returning the rewritten path and whether anything
// changed.
func resolveDepPath(dep, prefixDir, name, version string) (string, bool) {
	if dep == "" {
		return dep, false
	}
	resolved := dep
	changed := false
	if strings.Contains(resolved, cellarPlaceholder) || strings.Contains(resolved, prefixPlaceholder) {
		resolved = rewritePlaceholders(resolved, prefixDir)
		changed = true
	}
	if fixed, ok := rewriteStaleVersion(resolved, prefixDir, name, version); ok {
		resolved = fixed
		changed = true
	}
	return resolved, changed
}

// rewriteStaleVersion rewrites the version segment of a
// <prefix>/Cellar/<name>/<version>/... path to version, when name matches
// but the embedded version doesn't, the case of a bottle rebuilt against an
// older version of itself.
func rewriteStaleVersion(dep, prefixDir, name, version string) (string, bool) {
	prefix := filepath.Join(prefixDir, "Cellar", name) + string(filepath.Separator)
	if !strings.HasPrefix(dep, prefix) {
		return dep, false
	}
	rest := dep[len(prefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return dep, false
	}
	if rest[:idx] == version {
		return dep, false
	}
	return prefix + version + rest[idx:], true
}
