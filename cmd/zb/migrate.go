package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zerobrew/zb/pkg/migrate"
)

// defaultHomebrewPrefix mirrors Homebrew's own install-location convention,
// not zb's: Apple Silicon Macs use /opt/homebrew, everything else /usr/local.
func defaultHomebrewPrefix() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "/opt/homebrew"
	}
	return "/usr/local"
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [NAME...]",
	Short: "Migrate formulas from an existing Homebrew installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		homebrewPrefix, _ := cmd.Flags().GetString("homebrew-prefix")
		m := migrate.NewMigrator(in, homebrewPrefix)
		if !m.IsHomebrewInstalled() {
			fmt.Printf("No Homebrew installation found at %s\n", homebrewPrefix)
			return nil
		}

		plan, err := m.Plan(args)
		if err != nil {
			return fmt.Errorf("scanning Homebrew installation: %w", err)
		}

		for _, inc := range plan.Incompatible {
			switch inc.Reason {
			case migrate.RequiresTap:
				fmt.Printf("skipping %s: requires tap %s\n", inc.Name, inc.Tap)
			case migrate.AlreadyInstalled:
				fmt.Printf("skipping %s: already installed\n", inc.Name)
			}
		}
		if len(plan.AlreadyInstalled) > 0 {
			fmt.Printf("%d package(s) already installed, skipping\n", len(plan.AlreadyInstalled))
		}
		if plan.Empty() {
			fmt.Println("Nothing to migrate")
			return nil
		}

		fmt.Printf("Migrating %d package(s):\n", len(plan.ToInstall))
		for _, name := range plan.ToInstall {
			fmt.Printf("  %s\n", name)
		}
		if len(plan.Dependencies) > 0 {
			fmt.Printf("(%d additional dependenc%s will be pulled in automatically)\n",
				len(plan.Dependencies), plural(len(plan.Dependencies)))
		}

		result := m.Execute(context.Background(), plan)
		for _, f := range result.Failed {
			fmt.Printf("✗ %s: %v\n", f.Name, f.Err)
		}
		fmt.Printf("✓ Migrated %d package(s)\n", len(result.Installed))
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d package(s) failed to migrate", len(result.Failed))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("homebrew-prefix", defaultHomebrewPrefix(), "Path to the existing Homebrew installation")
}
