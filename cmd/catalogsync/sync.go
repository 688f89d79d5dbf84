package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/catalogsync/internal/catalog/daemon"
	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
	"github.com/steveyegge/catalogsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile the product table with the feed once",
	Long: `Run one reconciliation and exit.

This performs a full run:
  1. Parses the feed (a malformed feed is rejected before any write)
  2. Inserts new products and updates changed ones, in feed order
  3. Deletes products no longer in the feed
  4. Uploads images missing from the asset store

With --dry-run nothing is written; the summary shows what would change.

Example usage:
  catalogsync sync
  catalogsync sync --feed /data/products.xml --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

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

		rec := catsync.New(database, store, catsync.Options{
			AssetRoot:         cfg.AssetRoot(),
			UploadConcurrency: cfg.Sync.UploadConcurrency,
			DryRun:            dryRun,
			Logger:            logger,
		})

		mode := ""
		if dryRun {
			mode = " (dry run)"
		}
		fmt.Printf("%s Syncing %s%s...\n", ui.RenderAccent("🔄"), cfg.Feed.Path, mode)

		summary, err := rec.SyncFeed(ctx, cfg.Feed.Path)
		if !dryRun && cfg.StateFile != "" {
			if werr := daemon.WriteState(cfg.StateFile, daemon.NewRunState(daemon.ReasonManual, summary, err)); werr != nil {
				logger.Warn("failed to write state file", "path", cfg.StateFile, "error", werr)
			}
		}
		if summary != nil {
			printSummary(summary, err)
		}
		if err != nil {
			fatalf("sync failed: %v", err)
		}
	},
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Compute changes without writing anything")
	syncCmd.Flags().String("feed", "", "Feed file (overrides feed.path)")

	rootCmd.AddCommand(syncCmd)
}

func printSummary(s *catsync.Summary, err error) {
	elapsed := s.Duration().Round(time.Millisecond)

	switch {
	case err != nil:
		fmt.Printf("%s Sync aborted after %v\n", ui.RenderFail("✗"), elapsed)
	case len(s.FailedUploads) > 0:
		fmt.Printf("%s Sync finished with %d failed upload(s) in %v\n",
			ui.RenderWarn("⚠"), len(s.FailedUploads), elapsed)
	default:
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed)
	}
	fmt.Printf("   Run: %s\n", ui.RenderMuted(s.RunID))
	fmt.Println()

	fmt.Println(ui.Table([]string{"Feed", "Inserted", "Updated", "Unchanged", "Deleted", "Uploaded", "Skipped"},
		[][]string{{
			strconv.Itoa(s.Feed),
			strconv.Itoa(len(s.Inserted)),
			strconv.Itoa(len(s.Updated)),
			strconv.Itoa(len(s.Unchanged)),
			strconv.Itoa(len(s.Deleted)),
			strconv.Itoa(len(s.Uploaded)),
			strconv.Itoa(len(s.Skipped)),
		}}))

	if len(s.FailedUploads) == 0 {
		return
	}
	rows := make([][]string, 0, len(s.FailedUploads))
	for _, f := range s.FailedUploads {
		rows = append(rows, []string{f.Key, formatIDs(f.ProductIDs), f.Reason})
	}
	fmt.Println()
	fmt.Println(ui.Table([]string{"Asset", "Products", "Reason"}, rows))
}

func formatIDs(ids []int64) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += strconv.FormatInt(id, 10)
	}
	return out
}
