// Command zb is a fast, Homebrew-compatible package installer: resolve a
// formula's dependency closure, download bottles in parallel, and extract
// them into a content-addressed store linked into a single prefix.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerobrew/zb/internal/config"
	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/internal/zblog"
	"github.com/zerobrew/zb/pkg/installer"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "zb",
	Short:   "zb - a fast, Homebrew-compatible package installer",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("zb version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("root", "", "Root directory for zb's private state (default: $ZB_ROOT or ~/.zb)")
	rootCmd.PersistentFlags().String("prefix", "", "Installation prefix (default: $ZB_PREFIX or platform default)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(tapCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	zblog.Init(zblog.Config{Level: zblog.Level(level), JSONOutput: jsonOut})
}

// loadConfig builds a config.Config from Default/env, then applies any
// --root/--prefix overrides from the invoking command's persistent flags.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.NewFromEnv()
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		cfg.RootPath = root
	}
	if prefix, _ := cmd.Flags().GetString("prefix"); prefix != "" {
		cfg.PrefixPath = prefix
	}
	return cfg
}

func newInstaller(cmd *cobra.Command) (*installer.Installer, error) {
	cfg := loadConfig(cmd)
	if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
		return nil, zberr.NewFileError("creating root directory", err)
	}
	return installer.New(cfg)
}

// exitCode maps an engine error to a process exit status: NotInstalled and
// InvalidArgument are user errors (2), everything else is an operational
// failure (1).
func exitCode(err error) int {
	if zberr.Is(err, zberr.NotInstalled) || zberr.Is(err, zberr.InvalidArgument) {
		return 2
	}
	return 1
}
