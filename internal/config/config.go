// Package config holds the Installer's static configuration: everything
// read once at startup from flags/environment and never reloaded, per the
// install engine's no-live-reconfiguration design.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/zerobrew/zb/internal/zberr"
)

// Config is the full set of knobs the Installer needs to operate. Zero
// values are not valid configuration; use Default and override fields, or
// construct with NewFromEnv.
type Config struct {
	// RootPath is the root of this installation's private state: blob
	// cache, content-addressed store, cellar, and catalog database all
	// live under here.
	RootPath string
	// PrefixPath is where the Linker creates user-visible symlinks
	// (analogous to Homebrew's /opt/homebrew or /usr/local).
	PrefixPath string
	// DownloadConcurrency bounds the number of in-flight bottle downloads.
	DownloadConcurrency int
	// CorruptionRetryMax bounds the number of extraction attempts for a
	// single blob; after each StoreCorruption but the last, the blob is
	// re-downloaded, and after the last the install gives up.
	CorruptionRetryMax int
	// APIBaseURL is the formula metadata API root.
	APIBaseURL string
	// RegistryTokenURL, when non-empty, is used to fetch a bearer token
	// for bottle downloads hosted behind an OCI-style registry.
	RegistryTokenURL string
	// PlatformTags lists the platform tags to try, most preferred first,
	// when selecting a bottle archive (see pkg/resolver's bottle
	// selection).
	PlatformTags []string
	// HTTPTimeout bounds a single HTTP request (metadata fetch or bottle
	// download); downloads additionally stream so a slow-but-alive
	// connection is not cut off by this alone.
	HTTPTimeout time.Duration
}

// BlobCacheDir, StoreDir, CellarDir, and CatalogPath derive the engine's
// on-disk layout from RootPath, matching the teacher's convention of a
// single data directory with well-known subdirectories.
func (c Config) BlobCacheDir() string { return filepath.Join(c.RootPath, "cache") }
func (c Config) StoreDir() string     { return filepath.Join(c.RootPath, "store") }
func (c Config) CellarDir() string    { return filepath.Join(c.RootPath, "Cellar") }
func (c Config) CatalogPath() string  { return filepath.Join(c.RootPath, "zb.db") }

// Default returns a Config with sane defaults for the host platform. Callers
// typically start from this and override RootPath/PrefixPath from flags.
func Default() Config {
	tag := defaultPlatformTags()
	home, _ := os.UserHomeDir()
	return Config{
		RootPath:            filepath.Join(home, ".zb"),
		PrefixPath:          defaultPrefix(),
		DownloadConcurrency: 6,
		CorruptionRetryMax:  3,
		APIBaseURL:          "https://formulae.brew.sh/api",
		PlatformTags:        tag,
		HTTPTimeout:         30 * time.Second,
	}
}

func defaultPrefix() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "/opt/homebrew"
	}
	return "/usr/local"
}

func defaultPlatformTags() []string {
	switch {
	case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		return []string{"arm64_tahoe", "arm64_sequoia", "arm64_sonoma", "arm64_ventura", "all"}
	case runtime.GOOS == "darwin":
		return []string{"sonoma", "ventura", "monterey", "big_sur", "all"}
	case runtime.GOOS == "linux" && runtime.GOARCH == "arm64":
		return []string{"arm64_linux", "all"}
	default:
		return []string{"x86_64_linux", "all"}
	}
}

// Validate checks that Config is usable, returning an
// *zberr.Error(InvalidArgument) describing the first problem found.
func (c Config) Validate() error {
	if c.RootPath == "" {
		return zberr.NewInvalidArgument("RootPath must not be empty")
	}
	if !filepath.IsAbs(c.RootPath) {
		return zberr.NewInvalidArgument(fmt.Sprintf("RootPath %q must be absolute", c.RootPath))
	}
	if c.PrefixPath == "" {
		return zberr.NewInvalidArgument("PrefixPath must not be empty")
	}
	if !filepath.IsAbs(c.PrefixPath) {
		return zberr.NewInvalidArgument(fmt.Sprintf("PrefixPath %q must be absolute", c.PrefixPath))
	}
	if c.DownloadConcurrency < 1 {
		return zberr.NewInvalidArgument("DownloadConcurrency must be >= 1")
	}
	if c.CorruptionRetryMax < 0 {
		return zberr.NewInvalidArgument("CorruptionRetryMax must be >= 0")
	}
	if c.APIBaseURL == "" {
		return zberr.NewInvalidArgument("APIBaseURL must not be empty")
	}
	if len(c.PlatformTags) == 0 {
		return zberr.NewInvalidArgument("PlatformTags must not be empty")
	}
	return nil
}

// NewFromEnv builds a Config from Default, overriding fields from
// environment variables when set. It mirrors the teacher's practice of
// layering env vars over flag defaults rather than a dedicated config file.
func NewFromEnv() Config {
	cfg := Default()
	if v := os.Getenv("ZB_ROOT"); v != "" {
		cfg.RootPath = v
	}
	if v := os.Getenv("ZB_PREFIX"); v != "" {
		cfg.PrefixPath = v
	}
	if v := os.Getenv("ZB_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("ZB_REGISTRY_TOKEN_URL"); v != "" {
		cfg.RegistryTokenURL = v
	}
	return cfg
}
