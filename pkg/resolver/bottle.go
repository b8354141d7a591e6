package resolver

import (
	"strings"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/pkg/types"
)

// SelectBottle picks the archive to download for formula on this platform.
// platformTags lists preferred tags in priority order (see config.Config).
// When none of the preferred tags match, the universal "all" tag is tried,
// then any tag compatible with the platform family (arm64_* on Darwin, the
// arch-matching *_linux on Linux).
func SelectBottle(formula types.Formula, platformTags []string) (types.BottleFile, string, error) {
	for _, tag := range platformTags {
		if f, ok := formula.Bottle.Files[tag]; ok {
			return f, tag, nil
		}
	}

	if f, ok := formula.Bottle.Files["all"]; ok {
		return f, "all", nil
	}

	for tag, f := range formula.Bottle.Files {
		if isCompatibleFallbackTag(tag, platformTags) {
			return f, tag, nil
		}
	}

	return types.BottleFile{}, "", zberr.NewUnsupportedBottle(formula.Name)
}

// isCompatibleFallbackTag reports whether tag belongs to the same platform
// family as platformTags' preferred entries, used only as a last resort
// after the exact-match and "all" passes have failed.
func isCompatibleFallbackTag(tag string, platformTags []string) bool {
	if len(platformTags) == 0 {
		return false
	}
	preferred := platformTags[0]
	switch {
	case strings.HasPrefix(preferred, "arm64_") && preferred != "arm64_linux":
		return strings.HasPrefix(tag, "arm64_") && tag != "arm64_linux"
	case preferred == "arm64_linux":
		return tag == "arm64_linux"
	case preferred == "x86_64_linux":
		return tag == "x86_64_linux"
	default:
		// Darwin intel family: sonoma/ventura/monterey/big_sur and siblings.
		return !strings.Contains(tag, "linux") && !strings.HasPrefix(tag, "arm64_")
	}
}
