package validate

import (
	"strings"
	"testing"
)

func TestFormulaNameAccepts(t *testing.T) {
	names := []string{"jq", "postgresql@15", "node", "gcc-13", "some-package_v2"}
	for _, n := range names {
		if err := FormulaName(n); err != nil {
			t.Errorf("FormulaName(%q) = %v, want nil", n, err)
		}
	}
}

func TestFormulaNameRejects(t *testing.T) {
	tests := []string{
		"../../etc/passwd",
		"foo/../bar",
		"/etc/passwd",
		"foo/bar",
		`foo\bar`,
		"foo\nbar",
		"foo\rbar",
		"foo\tbar",
		"foo\x00bar",
		"foo;bar",
		"foo$(cmd)",
		"foo`cmd`",
		"foo|bar",
		".hidden",
		"name.",
		"-prefixed",
		"suffixed-",
		"",
		strings.Repeat("a", 1000),
	}
	for _, n := range tests {
		if err := FormulaName(n); err == nil {
			t.Errorf("FormulaName(%q) = nil, want error", n)
		}
	}
}

func TestVersionAndDependency(t *testing.T) {
	if err := Version("1.0.0"); err != nil {
		t.Errorf("Version(1.0.0) = %v", err)
	}
	if err := Version("2.5.1_3"); err != nil {
		t.Errorf("Version(2.5.1_3) = %v", err)
	}
	if err := Version("../../../tmp"); err == nil {
		t.Error("Version(../../../tmp) = nil, want error")
	}
	if err := DependencyName("openssl@3"); err != nil {
		t.Errorf("DependencyName(openssl@3) = %v", err)
	}
	if err := DependencyName("../../etc/passwd"); err == nil {
		t.Error("DependencyName(..) = nil, want error")
	}
}

func TestTapName(t *testing.T) {
	if err := TapName("homebrew/core"); err != nil {
		t.Errorf("TapName(homebrew/core) = %v", err)
	}
	if err := TapName("user/"); err == nil {
		t.Error("TapName(user/) = nil, want error")
	}
	if err := TapName("justonepart"); err == nil {
		t.Error("TapName(justonepart) = nil, want error")
	}
}

func TestFormulaRef(t *testing.T) {
	if err := FormulaRef("wget"); err != nil {
		t.Errorf("FormulaRef(wget) = %v", err)
	}
	if err := FormulaRef("user/tools/wget"); err != nil {
		t.Errorf("FormulaRef(user/tools/wget) = %v", err)
	}
	if err := FormulaRef("user/tools/"); err == nil {
		t.Error("FormulaRef(user/tools/) = nil, want error")
	}
	if err := FormulaRef("a/b"); err == nil {
		t.Error("FormulaRef(a/b) = nil, want error (two parts not allowed)")
	}
}

func TestSHA256(t *testing.T) {
	valid := "AABBCCDD00112233445566778899AABBCCDD00112233445566778899AABBCCDD"
	got, err := SHA256(valid + "dd")
	if err == nil {
		t.Fatalf("expected error for wrong-length digest, got %q", got)
	}

	exact := "ab" + strings.Repeat("cd", 31)
	got, err = SHA256("  " + strings.ToUpper(exact) + "  ")
	if err != nil {
		t.Fatalf("SHA256(%q) error: %v", exact, err)
	}
	if got != exact {
		t.Errorf("SHA256 normalized = %q, want %q", got, exact)
	}

	nonHex := "g" + strings.Repeat("a", 63)
	if _, err := SHA256(nonHex); err == nil {
		t.Error("expected error for non-hex digest")
	}
}
