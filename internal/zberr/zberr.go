// Package zberr defines the typed error taxonomy shared by every zb
// component, modeled on the install engine's error surface: a install either
// fails with one of a small closed set of reasons, or it succeeds.
//
// Callers use errors.As to recover a *Error and branch on Kind; everything
// else is wrapped with fmt.Errorf("...: %w", err) so the chain stays
// inspectable with errors.Is/errors.As.
package zberr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure.
type Kind int

const (
	// UnsupportedBottle means no bottle archive matches the host platform
	// tag (or any of its fallbacks).
	UnsupportedBottle Kind = iota
	// ChecksumMismatch means a downloaded or stored blob's SHA-256 does not
	// match the digest recorded in formula metadata.
	ChecksumMismatch
	// LinkConflict means a symlink target in the prefix already exists and
	// is not owned by the package being linked.
	LinkConflict
	// StoreCorruption means durable on-disk state could not be read or
	// written as expected: a blob that failed extraction after having
	// already passed its checksum check (on-disk bitrot, truncation, or a
	// concurrent writer), a failed catalog database operation, or a keg
	// whose placeholder fix-up failed.
	StoreCorruption
	// NetworkFailure wraps a transport-level failure talking to the API or
	// a bottle's download URL.
	NetworkFailure
	// MissingFormula means no metadata exists for a named formula.
	MissingFormula
	// MissingFormulaInSources is MissingFormula with the list of sources
	// (taps/core) that were searched.
	MissingFormulaInSources
	// UnsupportedTap means a formula reference names a tap other than
	// homebrew/core in a context that only supports core.
	UnsupportedTap
	// DependencyCycle means the dependency graph could not be
	// topologically sorted.
	DependencyCycle
	// NotInstalled means an uninstall/upgrade was requested for a package
	// with no Catalog record.
	NotInstalled
	// FileError wraps a filesystem operation failure (permissions, disk
	// full, unexpected file type) that isn't better described by another
	// Kind.
	FileError
	// InvalidArgument means a caller-supplied value failed validation
	// (pkg/validate) before any I/O was attempted.
	InvalidArgument
	// ExecutionError wraps a failure from an external process invocation
	// (otool, install_name_tool, codesign, patchelf).
	ExecutionError
	// InvalidTap means a tap name failed validation.
	InvalidTap
	// InvalidFormulaRef means a tap-qualified formula reference
	// ("owner/repo/name") failed validation.
	InvalidFormulaRef
	// ConflictingFormulaSource means the same formula name resolved to
	// different tap sources during a single plan.
	ConflictingFormulaSource
)

func (k Kind) String() string {
	switch k {
	case UnsupportedBottle:
		return "UnsupportedBottle"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case LinkConflict:
		return "LinkConflict"
	case StoreCorruption:
		return "StoreCorruption"
	case NetworkFailure:
		return "NetworkFailure"
	case MissingFormula:
		return "MissingFormula"
	case MissingFormulaInSources:
		return "MissingFormulaInSources"
	case UnsupportedTap:
		return "UnsupportedTap"
	case DependencyCycle:
		return "DependencyCycle"
	case NotInstalled:
		return "NotInstalled"
	case FileError:
		return "FileError"
	case InvalidArgument:
		return "InvalidArgument"
	case ExecutionError:
		return "ExecutionError"
	case InvalidTap:
		return "InvalidTap"
	case InvalidFormulaRef:
		return "InvalidFormulaRef"
	case ConflictingFormulaSource:
		return "ConflictingFormulaSource"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every zb component returns for the
// taxonomy above. Fields beyond Kind and Message are populated only when
// the corresponding Kind uses them; see the New* constructors.
type Error struct {
	Kind     Kind
	Message  string
	Name     string   // formula/package name, where applicable
	Path     string   // filesystem path, where applicable
	Expected string   // ChecksumMismatch
	Actual   string   // ChecksumMismatch
	Sources  []string // MissingFormulaInSources
	Cycle    []string // DependencyCycle
	First    string   // ConflictingFormulaSource
	Second   string   // ConflictingFormulaSource
	Tap      string   // InvalidTap
	Ref      string   // InvalidFormulaRef

	err error // optional wrapped cause
}

func (e *Error) Error() string {
	switch e.Kind {
	case UnsupportedBottle:
		return fmt.Sprintf("unsupported bottle for formula %q", e.Name)
	case ChecksumMismatch:
		return fmt.Sprintf("checksum mismatch (expected %s, got %s)", e.Expected, e.Actual)
	case LinkConflict:
		return fmt.Sprintf("link conflict at %q", e.Path)
	case StoreCorruption:
		return "store corruption: " + e.Message
	case NetworkFailure:
		return "network failure: " + e.Message
	case MissingFormula:
		return fmt.Sprintf("missing formula %q", e.Name)
	case MissingFormulaInSources:
		if len(e.Sources) == 0 {
			return fmt.Sprintf("missing formula %q", e.Name)
		}
		return fmt.Sprintf("missing formula %q (tried: %s)", e.Name, joinComma(e.Sources))
	case UnsupportedTap:
		return fmt.Sprintf("tap formula %q is not supported (only homebrew/core)", e.Name)
	case DependencyCycle:
		return "dependency cycle detected: " + joinArrow(e.Cycle)
	case NotInstalled:
		return fmt.Sprintf("formula %q is not installed", e.Name)
	case FileError:
		return "file error: " + e.Message
	case InvalidArgument:
		return "invalid argument: " + e.Message
	case ExecutionError:
		return e.Message
	case InvalidTap:
		return fmt.Sprintf("invalid tap %q", e.Tap)
	case InvalidFormulaRef:
		return fmt.Sprintf("invalid formula reference %q", e.Ref)
	case ConflictingFormulaSource:
		return fmt.Sprintf("formula %q resolved from multiple taps (%s vs %s)", e.Name, e.First, e.Second)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.err }

func joinComma(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += ", "
		}
		out += x
	}
	return out
}

func joinArrow(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += " -> "
		}
		out += x
	}
	return out
}

func NewUnsupportedBottle(name string) *Error {
	return &Error{Kind: UnsupportedBottle, Name: name}
}

func NewChecksumMismatch(expected, actual string) *Error {
	return &Error{Kind: ChecksumMismatch, Expected: expected, Actual: actual}
}

func NewLinkConflict(path string) *Error {
	return &Error{Kind: LinkConflict, Path: path}
}

func NewStoreCorruption(message string, cause error) *Error {
	return &Error{Kind: StoreCorruption, Message: message, err: cause}
}

func NewNetworkFailure(message string, cause error) *Error {
	return &Error{Kind: NetworkFailure, Message: message, err: cause}
}

func NewMissingFormula(name string) *Error {
	return &Error{Kind: MissingFormula, Name: name}
}

func NewMissingFormulaInSources(name string, sources []string) *Error {
	return &Error{Kind: MissingFormulaInSources, Name: name, Sources: sources}
}

func NewUnsupportedTap(name string) *Error {
	return &Error{Kind: UnsupportedTap, Name: name}
}

func NewDependencyCycle(cycle []string) *Error {
	return &Error{Kind: DependencyCycle, Cycle: cycle}
}

func NewNotInstalled(name string) *Error {
	return &Error{Kind: NotInstalled, Name: name}
}

func NewFileError(message string, cause error) *Error {
	return &Error{Kind: FileError, Message: message, err: cause}
}

func NewInvalidArgument(message string) *Error {
	return &Error{Kind: InvalidArgument, Message: message}
}

func NewExecutionError(message string, cause error) *Error {
	return &Error{Kind: ExecutionError, Message: message, err: cause}
}

func NewInvalidTap(tap string) *Error {
	return &Error{Kind: InvalidTap, Tap: tap}
}

func NewInvalidFormulaRef(ref string) *Error {
	return &Error{Kind: InvalidFormulaRef, Ref: ref}
}

func NewConflictingFormulaSource(name, first, second string) *Error {
	return &Error{Kind: ConflictingFormulaSource, Name: name, First: first, Second: second}
}

// Is reports whether err is a *Error with the given Kind. It is a small
// convenience over errors.As for the common case of checking only the kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
