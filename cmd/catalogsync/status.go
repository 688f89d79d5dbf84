package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/catalogsync/internal/catalog/daemon"
	"github.com/steveyegge/catalogsync/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "query",
	Short:   "Show catalog and last-run status",
	Long: `Display the current state of the product catalog.

Shows:
  - Record store backend and product count
  - Products per brand
  - Outcome and counts of the last recorded run`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout+5*time.Second)
		defer cancel()

		database, err := openDB(ctx)
		if err != nil {
			fatalf("opening database: %v", err)
		}
		closeOnExit(database)

		count, err := database.CountProducts(ctx)
		if err != nil {
			fatalf("counting products: %v", err)
		}
		brands, err := database.ListBrands(ctx)
		if err != nil {
			fatalf("listing brands: %v", err)
		}

		fmt.Printf("\n%s Catalog Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Backend: %s\n", database.Backend())
		fmt.Printf("Feed: %s\n", cfg.Feed.Path)
		fmt.Printf("Daily run: %s\n", cfg.Schedule.DailyRunTime)
		fmt.Printf("Products: %d\n", count)
		if len(brands) > 0 {
			rows := make([][]string, 0, len(brands))
			for _, b := range brands {
				rows = append(rows, []string{b.Brand, strconv.Itoa(b.Products)})
			}
			fmt.Println()
			fmt.Println(ui.Table([]string{"Brand", "Products"}, rows))
		}
		fmt.Println()

		printLastRun(cfg.StateFile)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printLastRun(path string) {
	if path == "" {
		return
	}
	st, err := daemon.ReadState(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("%s No runs recorded yet\n", ui.RenderWarn("⚠"))
		fmt.Printf("   Run 'catalogsync sync' or 'catalogsync serve' to populate the catalog\n\n")
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}

	var mark string
	switch st.Outcome {
	case daemon.OutcomeSuccess:
		mark = ui.RenderPass("✓")
	case daemon.OutcomePartial:
		mark = ui.RenderWarn("⚠")
	default:
		mark = ui.RenderFail("✗")
	}

	fmt.Printf("%s Last run: %s (%s)\n", mark, st.Outcome, st.Reason)
	fmt.Printf("   Run: %s\n", ui.RenderMuted(st.RunID))
	fmt.Printf("   Started: %s\n", st.StartedAt.Local().Format(timeLayout))
	fmt.Printf("   Duration: %v\n", st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond))
	fmt.Printf("   Inserted: %d  Updated: %d  Unchanged: %d  Deleted: %d\n",
		st.Inserted, st.Updated, st.Unchanged, st.Deleted)
	fmt.Printf("   Uploaded: %d  Skipped: %d  Failed: %d\n",
		st.Uploaded, st.Skipped, len(st.FailedUploads))
	if st.Error != "" {
		fmt.Printf("   Error: %s\n", ui.RenderFail(st.Error))
	}
	for _, f := range st.FailedUploads {
		fmt.Printf("   %s %s: %s\n", ui.RenderFail("✗"), f.Key, f.Reason)
	}
	if !st.NextRun.IsZero() {
		fmt.Printf("   Next run: %s\n", st.NextRun.Local().Format(timeLayout))
	}
	fmt.Println()
}
