package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
	"github.com/steveyegge/catalogsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "query",
	Short:   "Write the stored catalog as a product feed",
	Long: `Write every stored product, in ascending ID order, as a feed document.

The output can be fed back to 'catalogsync sync' and produces no changes.

Examples:
  catalogsync export                      # write to stdout
  catalogsync export -o products.xml`,
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")

		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Store.Timeout+5*time.Second)
		defer cancel()

		database, err := openDB(ctx)
		if err != nil {
			fatalf("opening database: %v", err)
		}
		closeOnExit(database)

		products, err := fetchCatalog(ctx, database)
		if err != nil {
			fatalf("reading catalog: %v", err)
		}

		if output == "" || output == "-" {
			if err := schema.WriteFeed(os.Stdout, products); err != nil {
				fatalf("writing feed: %v", err)
			}
			return
		}
		if err := schema.WriteFeedFile(output, products); err != nil {
			fatalf("writing feed: %v", err)
		}
		fmt.Printf("%s Exported %d product(s) to %s\n", ui.RenderPass("✓"), len(products), output)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	rootCmd.AddCommand(exportCmd)
}

// fetchCatalog returns every stored product ordered by ID.
func fetchCatalog(ctx context.Context, records gateway.RecordStore) ([]*schema.Product, error) {
	idSet, err := records.FetchAllIDs(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	products, err := records.FetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].ID < products[j].ID
	})
	return products, nil
}
