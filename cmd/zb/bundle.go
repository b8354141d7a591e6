package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerobrew/zb/pkg/bundle"
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Import or export a Brewfile-style manifest",
}

var bundleDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write a Brewfile listing every installed package",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		bf, err := bundle.Export(in)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("file")
		text := bundle.Format(bf)
		if out == "" || out == "-" {
			fmt.Print(text)
			return nil
		}
		return os.WriteFile(out, []byte(text), 0o644)
	},
}

var bundleInstallCmd = &cobra.Command{
	Use:   "install [FILE]",
	Short: "Install every brew entry in a Brewfile not already present",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "Brewfile"
		if len(args) == 1 {
			path = args[0]
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		bf, err := bundle.Parse(string(content))
		if err != nil {
			return err
		}

		in, err := newInstaller(cmd)
		if err != nil {
			return err
		}
		defer in.Close()

		plan, err := bundle.PlanImport(in, bf)
		if err != nil {
			return err
		}
		for _, name := range plan.Unsupported {
			fmt.Printf("skipping unsupported entry: %s\n", name)
		}
		if plan.Empty() {
			fmt.Println("Nothing to install")
			return nil
		}

		fmt.Printf("Installing %d package(s):\n", len(plan.ToInstall))
		for _, e := range plan.ToInstall {
			fmt.Printf("  %s\n", e.Name)
		}

		result := bundle.Execute(context.Background(), in, plan)
		for _, f := range result.Failed {
			fmt.Printf("✗ %s: %v\n", f.Name, f.Err)
		}
		fmt.Printf("✓ Installed %d package(s)\n", len(result.Installed))
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d package(s) failed to install", len(result.Failed))
		}
		return nil
	},
}

func init() {
	bundleDumpCmd.Flags().String("file", "", "Write to this path instead of stdout")
	bundleCmd.AddCommand(bundleDumpCmd)
	bundleCmd.AddCommand(bundleInstallCmd)
}
