package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/catalogsync/internal/catalog/loadtest"
	"github.com/steveyegge/catalogsync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "query",
	Short:   "Measure brand lookup latency under concurrent load",
	Long: `Build a throwaway catalog and measure brand lookups against it.

The catalog lives in a temporary SQLite database and is populated through the
reconciler. Concurrent clients then look up brands and latency percentiles are
reported. With --during-sync, clients keep looking up brands while repeated
runs rewrite the catalog, and every result is checked for consistency.

Examples:
  catalogsync loadtest
  catalogsync loadtest --products 5000 --clients 100
  catalogsync loadtest --during-sync 6 --json`,
	Run: func(cmd *cobra.Command, args []string) {
		products, _ := cmd.Flags().GetInt("products")
		brands, _ := cmd.Flags().GetInt("brands")
		clients, _ := cmd.Flags().GetInt("clients")
		queries, _ := cmd.Flags().GetInt("queries")
		rounds, _ := cmd.Flags().GetInt("during-sync")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dir, err := os.MkdirTemp("", "catalogsync-loadtest-")
		if err != nil {
			fatalf("creating temp dir: %v", err)
		}
		closeOnExit(closerFunc(func() error { return os.RemoveAll(dir) }))

		if !jsonOutput {
			fmt.Printf("%s Building catalog: %d products, %d brands...\n", ui.RenderAccent("🔄"), products, brands)
		}
		tc, err := loadtest.CreateTestCatalog(ctx, filepath.Join(dir, "catalog.db"), products, brands)
		if err != nil {
			fatalf("%v", err)
		}
		closeOnExit(tc)

		stats, err := tc.RunConcurrentLookups(ctx, clients, queries)
		if err != nil {
			fatalf("%v", err)
		}

		var consistency error
		if rounds > 0 {
			consistency = tc.VerifyLookupsDuringSync(ctx, clients, rounds)
		}

		if jsonOutput {
			out := map[string]any{
				"catalog": tc.GetStats(),
				"lookups": stats,
			}
			if rounds > 0 {
				out["during_sync_ok"] = consistency == nil
				if consistency != nil {
					out["during_sync_error"] = consistency.Error()
				}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(out)
		} else {
			fmt.Println()
			stats.PrintStats(os.Stdout)
			if rounds > 0 {
				fmt.Println()
				if consistency != nil {
					fmt.Printf("%s Lookups during %d run(s): %v\n", ui.RenderFail("✗"), rounds, consistency)
				} else {
					fmt.Printf("%s Lookups during %d run(s) stayed consistent\n", ui.RenderPass("✓"), rounds)
				}
			}
		}

		if consistency != nil || stats.Errors > 0 {
			closeAll()
			os.Exit(1)
		}
	},
}

func init() {
	loadtestCmd.Flags().Int("products", 1000, "Number of products in the catalog")
	loadtestCmd.Flags().Int("brands", 20, "Number of brands")
	loadtestCmd.Flags().Int("clients", 50, "Number of concurrent lookup clients")
	loadtestCmd.Flags().Int("queries", 10, "Number of lookups per client")
	loadtestCmd.Flags().Int("during-sync", 0, "Also run this many reconciliations under concurrent lookups")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")

	rootCmd.AddCommand(loadtestCmd)
}
