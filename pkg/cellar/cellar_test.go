package cellar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zerobrew/zb/internal/zberr"
)

type fakeRewriter struct {
	calls []string
	err   error
}

func (f *fakeRewriter) Rewrite(path, prefixDir, name, version string) error {
	f.calls = append(f.calls, path)
	return f.err
}

func TestMaterializeCopiesAndPatchesText(t *testing.T) {
	storeEntry := t.TempDir()
	pkgDir := filepath.Join(storeEntry, "wget", "1.0")
	if err := os.MkdirAll(filepath.Join(pkgDir, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	scriptPath := filepath.Join(pkgDir, "bin", "wget-wrapper")
	content := "#!/bin/sh\nexec @@HOMEBREW_PREFIX@@/Cellar/wget/1.0/bin/wget \"$@\"\n"
	if err := os.WriteFile(scriptPath, []byte(content), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cellarDir := t.TempDir()
	prefixDir := filepath.Join(t.TempDir(), "opt", "homebrew")
	rw := &fakeRewriter{}
	c := New(cellarDir, prefixDir, rw)

	keg, err := c.Materialize(storeEntry, "wget", "1.0")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if keg != c.KegPath("wget", "1.0") {
		t.Errorf("keg = %q, want %q", keg, c.KegPath("wget", "1.0"))
	}

	out, err := os.ReadFile(filepath.Join(keg, "bin", "wget-wrapper"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := string(out); !strings.Contains(got, prefixDir) {
		t.Errorf("expected placeholder rewritten to %q, got %q", prefixDir, got)
	}
	if strings.Contains(string(out), "@@HOMEBREW_PREFIX@@") {
		t.Error("placeholder should have been rewritten")
	}
}

type kindedFakeRewriter struct {
	err error
}

func (f *kindedFakeRewriter) Rewrite(path, prefixDir, name, version string) error {
	return f.err
}

func writeMagicFile(t *testing.T, path string, magic []byte, rest int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	data := append(append([]byte{}, magic...), make([]byte, rest)...)
	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestFixUpHardFailsOnAnyMachOFailure(t *testing.T) {
	storeEntry := t.TempDir()
	pkgDir := filepath.Join(storeEntry, "foo", "1.0")
	writeMagicFile(t, filepath.Join(pkgDir, "lib", "libfoo.dylib"), []byte{0xcf, 0xfa, 0xed, 0xfe}, 12)

	cellarDir := t.TempDir()
	rw := &kindedFakeRewriter{err: errors.New("otool failed")}
	c := New(cellarDir, "/opt/homebrew", rw)

	_, err := c.Materialize(storeEntry, "foo", "1.0")
	var zerr *zberr.Error
	if !errors.As(err, &zerr) || zerr.Kind != zberr.StoreCorruption {
		t.Fatalf("expected StoreCorruption, got %v", err)
	}
}

func TestFixUpToleratesAFewELFFailures(t *testing.T) {
	storeEntry := t.TempDir()
	pkgDir := filepath.Join(storeEntry, "foo", "1.0")
	for i := 0; i < 2; i++ {
		writeMagicFile(t, filepath.Join(pkgDir, "lib", fmt.Sprintf("lib%d.so", i)), []byte{0x7f, 'E', 'L', 'F'}, 12)
	}

	cellarDir := t.TempDir()
	rw := &kindedFakeRewriter{err: errors.New("patchelf failed")}
	c := New(cellarDir, "/opt/homebrew", rw)

	if _, err := c.Materialize(storeEntry, "foo", "1.0"); err != nil {
		t.Fatalf("expected a handful of ELF failures to be tolerated, got %v", err)
	}
}

func TestFixUpFailsAfterTooManyELFFailures(t *testing.T) {
	storeEntry := t.TempDir()
	pkgDir := filepath.Join(storeEntry, "foo", "1.0")
	for i := 0; i < 5; i++ {
		writeMagicFile(t, filepath.Join(pkgDir, "lib", fmt.Sprintf("lib%d.so", i)), []byte{0x7f, 'E', 'L', 'F'}, 12)
	}

	cellarDir := t.TempDir()
	rw := &kindedFakeRewriter{err: errors.New("patchelf failed")}
	c := New(cellarDir, "/opt/homebrew", rw)

	_, err := c.Materialize(storeEntry, "foo", "1.0")
	var zerr *zberr.Error
	if !errors.As(err, &zerr) || zerr.Kind != zberr.StoreCorruption {
		t.Fatalf("expected StoreCorruption after too many ELF failures, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	storeEntry := t.TempDir()
	pkgDir := filepath.Join(storeEntry, "jq", "1.7")
	os.MkdirAll(pkgDir, 0o755)
	os.WriteFile(filepath.Join(pkgDir, "f"), []byte("x"), 0o644)

	cellarDir := t.TempDir()
	c := New(cellarDir, "/opt/homebrew", &fakeRewriter{})

	if _, err := c.Materialize(storeEntry, "jq", "1.7"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if err := c.Remove("jq", "1.7"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if dirExists(c.KegPath("jq", "1.7")) {
		t.Error("keg should be removed")
	}
}
