package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/steveyegge/catalogsync/internal/catalog/assets"
	"github.com/steveyegge/catalogsync/internal/catalog/db"
	"github.com/steveyegge/catalogsync/internal/config"
	"github.com/steveyegge/catalogsync/internal/logging"
	"github.com/steveyegge/catalogsync/internal/ui"
)

var (
	configFile string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"feed":      "feed.path",
	"addr":      "http.addr",
}

var rootCmd = &cobra.Command{
	Use:   "catalogsync",
	Short: "Keep a product table and its images in step with a product feed",
	Long: `catalogsync reads an XML product feed, reconciles it against a product
table, and uploads any product images missing from the asset store.

Run 'catalogsync serve' to reconcile once a day and serve the brand lookup
dashboard, or 'catalogsync sync' to reconcile once and exit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			ui.DisableColor()
		}

		flags := make(map[string]*pflag.Flag)
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				flags[key] = f
			}
		}

		c, err := config.Load(config.LoadOptions{ConfigFile: configFile, Flags: flags})
		if err != nil {
			return err
		}
		l, closer, err := logging.New(c.LoggingOptions())
		if err != nil {
			return err
		}

		cfg, logger, logCloser = c, l, closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeAll()
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "query", Title: "Catalog:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./catalogsync.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDB opens the record store and makes sure the product table exists.
func openDB(ctx context.Context) (*db.DB, error) {
	database, err := db.OpenWithOptions(cfg.DatabaseURL, db.Options{
		Timeout:      cfg.Store.Timeout,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

func openAssets(ctx context.Context) (assets.Store, error) {
	return assets.New(ctx, cfg.AssetOptions())
}

// exitClosers are the handles the running command holds open. os.Exit skips
// deferred calls, so fatalf closes them itself.
var exitClosers []io.Closer

// closeOnExit registers c to be closed when the command returns or fails.
func closeOnExit(c io.Closer) {
	exitClosers = append(exitClosers, c)
}

// closeAll closes registered handles, most recent first.
func closeAll() {
	for i := len(exitClosers) - 1; i >= 0; i-- {
		if err := exitClosers[i].Close(); err != nil && logger != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	exitClosers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// fatalf reports a failure, releases open handles and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	closeAll()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	os.Exit(1)
}
