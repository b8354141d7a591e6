package resolver

import (
	"strings"

	"github.com/zerobrew/zb/internal/zberr"
)

// TapFormulaRef is a parsed three-segment "owner/repo/formula" reference.
type TapFormulaRef struct {
	Owner   string
	Repo    string
	Formula string
}

// ParseReference accepts either a bare formula name or a three-segment
// "owner/repo/formula" tap reference. Anything else is an invalid
// reference.
func ParseReference(ref string) (string, *TapFormulaRef, error) {
	parts := strings.Split(ref, "/")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", nil, zberr.NewInvalidFormulaRef(ref)
		}
		return parts[0], nil, nil
	case 3:
		if parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return "", nil, zberr.NewInvalidFormulaRef(ref)
		}
		return "", &TapFormulaRef{Owner: parts[0], Repo: parts[1], Formula: parts[2]}, nil
	default:
		return "", nil, zberr.NewInvalidFormulaRef(ref)
	}
}
