package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/catalogsync/internal/catalog/lookup"
	"github.com/steveyegge/catalogsync/internal/ui"
)

var lookupCmd = &cobra.Command{
	Use:     "lookup [brand]",
	GroupID: "query",
	Short:   "List the products of a brand",
	Long: `Look up the stored products of a brand, with their image URLs.

The brand must match exactly (surrounding whitespace is ignored). When no
brand is given and stdin is a terminal, you are prompted for one.

Example usage:
  catalogsync lookup Acme
  catalogsync lookup Acme --output json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")
		switch output {
		case "table", "json", "yaml":
		default:
			fatalf("--output must be table, json or yaml, got %q", output)
		}

		var brand string
		if len(args) == 1 {
			brand = args[0]
		}
		if strings.TrimSpace(brand) == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptBrand(&brand); err != nil {
				fatalf("%v", err)
			}
		}
		if strings.TrimSpace(brand) == "" {
			fatalf("a brand is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout+5*time.Second)
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

		svc, err := lookup.New(database, store, lookup.Options{CacheSize: -1, Logger: logger})
		if err != nil {
			fatalf("%v", err)
		}

		listings, err := svc.Lookup(ctx, brand)
		if err != nil {
			fatalf("%v", err)
		}

		if err := writeListings(os.Stdout, output, strings.TrimSpace(brand), listings); err != nil {
			fatalf("writing output: %v", err)
		}
	},
}

func init() {
	lookupCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")

	rootCmd.AddCommand(lookupCmd)
}

func promptBrand(brand *string) error {
	return huh.NewInput().
		Title("Brand").
		Description("Exact brand name to look up").
		Value(brand).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("brand cannot be empty")
			}
			return nil
		}).
		Run()
}

func writeListings(w io.Writer, format, brand string, listings []lookup.Listing) error {
	if listings == nil {
		listings = []lookup.Listing{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listings); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(listings) == 0 {
		_, err := fmt.Fprintf(w, "%s No products found for brand %q\n", ui.RenderWarn("⚠"), brand)
		return err
	}
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []string{strconv.FormatInt(l.ID, 10), l.Name, l.Brand, l.ImageURL})
	}
	_, err := fmt.Fprintf(w, "%s %d product(s) for brand %q\n\n%s\n",
		ui.RenderAccent("🔎"), len(listings), brand, ui.Table([]string{"ID", "Name", "Brand", "Image"}, rows))
	return err
}
