package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install NAME...",
	Short: "Install one or more formulas and their dependencies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		ctx := context.Background()
		plan, err := in.Plan(ctx, args)
		if err != nil {
			return fmt.Errorf("resolving dependencies: %w", err)
		}

		fmt.Printf("Resolved %d package(s) to install:\n", len(plan.Steps))
		for _, step := range plan.Steps {
			fmt.Printf("  %s %s\n", step.Formula.Token(), step.Formula.EffectiveVersion())
		}

		result, err := in.Execute(ctx, plan, true)
		if err != nil {
			return fmt.Errorf("installing: %w", err)
		}

		fmt.Printf("✓ Installed %d package(s)\n", result.Installed)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall NAME",
	Short: "Uninstall a package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		if err := in.Uninstall(args[0]); err != nil {
			return fmt.Errorf("uninstalling %s: %w", args[0], err)
		}
		fmt.Printf("✓ Uninstalled %s\n", args[0])
		return nil
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade NAME...",
	Short: "Upgrade one or more installed packages to their latest version",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		ctx := context.Background()
		var firstErr error
		for _, name := range args {
			if err := in.Upgrade(ctx, name); err != nil {
				fmt.Printf("✗ %s: %v\n", name, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			fmt.Printf("✓ Upgraded %s\n", name)
		}
		return firstErr
	},
}
