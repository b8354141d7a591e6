package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/pkg/catalog"
)

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Manage third-party formula sources",
}

var tapAddCmd = &cobra.Command{
	Use:   "add OWNER/REPO",
	Short: "Add a third-party tap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, err := splitTap(args[0])
		if err != nil {
			return err
		}

		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()

		added, err := cat.AddTap(owner, repo, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("adding tap: %w", err)
		}
		if !added {
			fmt.Printf("%s/%s is already tapped\n", owner, repo)
			return nil
		}
		fmt.Printf("✓ Tapped %s/%s\n", owner, repo)
		return nil
	},
}

var tapRemoveCmd = &cobra.Command{
	Use:   "remove OWNER/REPO",
	Short: "Remove a third-party tap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, err := splitTap(args[0])
		if err != nil {
			return err
		}

		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()

		removed, err := cat.RemoveTap(owner, repo)
		if err != nil {
			return fmt.Errorf("removing tap: %w", err)
		}
		if !removed {
			fmt.Printf("%s/%s is not tapped\n", owner, repo)
			return nil
		}
		fmt.Printf("✓ Untapped %s/%s\n", owner, repo)
		return nil
	},
}

var tapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured taps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()

		taps, err := cat.ListTaps()
		if err != nil {
			return fmt.Errorf("listing taps: %w", err)
		}
		if len(taps) == 0 {
			fmt.Println("No taps configured")
			return nil
		}
		for _, tap := range taps {
			fmt.Printf("%s/%s\n", tap.Owner, tap.Repo)
		}
		return nil
	},
}

func init() {
	tapCmd.AddCommand(tapAddCmd)
	tapCmd.AddCommand(tapRemoveCmd)
	tapCmd.AddCommand(tapListCmd)
}

func splitTap(ref string) (owner, repo string, err error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", zberr.NewInvalidTap(ref)
	}
	return parts[0], parts[1], nil
}

func openCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	cfg := loadConfig(cmd)
	if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
		return nil, zberr.NewFileError("creating root directory", err)
	}
	return catalog.Open(cfg.CatalogPath())
}
