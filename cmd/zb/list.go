package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		kegs, err := in.ListInstalled()
		if err != nil {
			return fmt.Errorf("listing installed packages: %w", err)
		}
		if len(kegs) == 0 {
			fmt.Println("No packages installed")
			return nil
		}

		fmt.Printf("%-30s %s\n", "NAME", "VERSION")
		for _, keg := range kegs {
			fmt.Printf("%-30s %s\n", keg.Name, keg.Version)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info NAME",
	Short: "Show details for an installed package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		keg, ok, err := in.GetInstalled(args[0])
		if err != nil {
			return fmt.Errorf("looking up %s: %w", args[0], err)
		}
		if !ok {
			fmt.Printf("%s is not installed\n", args[0])
			return nil
		}

		fmt.Printf("%s: %s\n", keg.Name, keg.Version)
		fmt.Printf("  Store key: %s\n", keg.StoreKey)
		fmt.Printf("  Installed: %s\n", time.Unix(keg.InstalledAt, 0).Format(time.RFC3339))
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove store entries no longer referenced by any installed package",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		removed, err := in.GC()
		if err != nil {
			return fmt.Errorf("running gc: %w", err)
		}
		if len(removed) == 0 {
			fmt.Println("Nothing to remove")
			return nil
		}
		fmt.Printf("Removed %d unreferenced store entr%s\n", len(removed), plural(len(removed)))
		return nil
	},
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
