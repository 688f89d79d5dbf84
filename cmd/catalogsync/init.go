package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/catalogsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Create the product table and asset store",
	Long: `Prepare a new catalog.

Creates the product table in the configured record store and, for the fs
asset backend, the asset directory. For the azure backend the container is
created if it does not exist. Running init again is harmless.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout+cfg.Assets.Timeout)
		defer cancel()

		if cfg.StateFile != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.StateFile), 0o755); err != nil {
				fatalf("creating state directory: %v", err)
			}
		}

		database, err := openDB(ctx)
		if err != nil {
			fatalf("opening database: %v", err)
		}
		closeOnExit(database)

		store, err := openAssets(ctx)
		if err != nil {
			fatalf("opening asset store: %v", err)
		}
		closeOnExit(store)

		fmt.Printf("%s Catalog initialized\n", ui.RenderPass("✓"))
		fmt.Printf("   Record store: %s\n", database.Backend())
		fmt.Printf("   Asset store: %s\n", cfg.Assets.Backend)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
