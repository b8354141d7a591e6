// Package validate checks formula identifiers (names, versions,
// dependencies, taps, sha256 digests) before they reach the filesystem or a
// shell invocation. It is the engine's first line of defense against path
// traversal and command injection via attacker-controlled metadata.
package validate

import (
	"strings"
	"unicode"

	digest "github.com/opencontainers/go-digest"

	"github.com/zerobrew/zb/internal/zberr"
)

// MaxIdentifierLength bounds every identifier this package validates.
const MaxIdentifierLength = 256

// Identifier checks name against the rules shared by formula names,
// versions, and dependency names:
//
//   - non-empty, at most MaxIdentifierLength bytes
//   - no "..", "/", "\", NUL, or control characters
//   - only alphanumeric plus '-', '_', '@', '+', '.', ':'
//   - no leading/trailing '.' or '-'
//
// field names the caller's field for the error message ("formula name",
// "version", "dependency name", ...).
func Identifier(name, field string) error {
	if name == "" {
		return zberr.NewInvalidArgument(field + " cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return zberr.NewInvalidArgument(field + " exceeds maximum length of 256 characters")
	}
	if strings.Contains(name, "..") {
		return zberr.NewInvalidArgument(field + " contains path traversal sequence '..'")
	}
	if strings.ContainsAny(name, `/\`) {
		return zberr.NewInvalidArgument(field + " contains path separator")
	}
	if strings.ContainsRune(name, 0) {
		return zberr.NewInvalidArgument(field + " contains null byte")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return zberr.NewInvalidArgument(field + " contains control characters")
		}
	}
	for _, r := range name {
		if !isValidChar(r) {
			return zberr.NewInvalidArgument(field + " contains invalid characters (allowed: alphanumeric, -, _, @, +, ., :)")
		}
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return zberr.NewInvalidArgument(field + " cannot start or end with '.'")
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return zberr.NewInvalidArgument(field + " cannot start or end with '-'")
	}
	return nil
}

func isValidChar(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '@', '+', '.', ':':
		return true
	}
	return false
}

// FormulaName validates a bare (non-tap-qualified) formula name.
func FormulaName(name string) error { return Identifier(name, "formula name") }

// Version validates a version string.
func Version(version string) error { return Identifier(version, "version") }

// DependencyName validates a dependency's formula name.
func DependencyName(name string) error { return Identifier(name, "dependency name") }

// TapName validates a tap name of the form "owner/repo". Each component is
// validated as an Identifier; exactly one slash is required.
func TapName(tap string) error {
	parts := strings.Split(tap, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return zberr.NewInvalidTap(tap)
	}
	if err := Identifier(parts[0], "tap owner"); err != nil {
		return zberr.NewInvalidTap(tap)
	}
	if err := Identifier(parts[1], "tap repo"); err != nil {
		return zberr.NewInvalidTap(tap)
	}
	return nil
}

// FormulaRef validates a possibly tap-qualified formula reference:
// "name" or "owner/repo/name".
func FormulaRef(ref string) error {
	parts := strings.Split(ref, "/")
	switch len(parts) {
	case 1:
		if err := Identifier(parts[0], "formula name"); err != nil {
			return zberr.NewInvalidFormulaRef(ref)
		}
	case 3:
		for _, p := range parts {
			if p == "" {
				return zberr.NewInvalidFormulaRef(ref)
			}
			if err := Identifier(p, "formula reference component"); err != nil {
				return zberr.NewInvalidFormulaRef(ref)
			}
		}
	default:
		return zberr.NewInvalidFormulaRef(ref)
	}
	return nil
}

// SHA256 normalizes (trims, lowercases) and validates a hex-encoded SHA-256
// digest, returning the normalized form. Validation is delegated to
// go-digest's digest validation so the accepted character set and length
// come from that library rather than a hand-written check.
func SHA256(s string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	d := digest.NewDigestFromEncoded(digest.SHA256, normalized)
	if err := d.Validate(); err != nil {
		return "", zberr.NewInvalidArgument("sha256 digest must be 64 hex characters")
	}
	return d.Encoded(), nil
}
