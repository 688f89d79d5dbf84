package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/catalogsync/internal/catalog/assets"
	"github.com/steveyegge/catalogsync/internal/catalog/daemon"
	"github.com/steveyegge/catalogsync/internal/catalog/dashboard"
	"github.com/steveyegge/catalogsync/internal/catalog/lookup"
	"github.com/steveyegge/catalogsync/internal/catalog/metrics"
	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
	"github.com/steveyegge/catalogsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the daily sync scheduler and the lookup dashboard",
	Long: `Run catalogsync in the foreground.

The scheduler reconciles the feed once a day at schedule.daily_run_time. A run
that is due while the previous one is still in progress is skipped. With
schedule.watch_feed set, changes to the feed file also trigger a run.

The dashboard serves:
  /                     brand search page
  /api/products?brand=  JSON lookup
  /ws                   WebSocket stream of reconcile events
  /health               liveness and scheduler state
  /metrics              Prometheus metrics

Example usage:
  catalogsync serve
  catalogsync serve --addr :9000`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// The scheduler and the lookup surface use separate handles.
		syncDB, err := openDB(ctx)
		if err != nil {
			fatalf("opening database: %v", err)
		}
		closeOnExit(syncDB)

		lookupDB, err := openDB(ctx)
		if err != nil {
			fatalf("opening database: %v", err)
		}
		closeOnExit(lookupDB)

		store, err := openAssets(ctx)
		if err != nil {
			fatalf("opening asset store: %v", err)
		}
		closeOnExit(store)

		svc, err := lookup.New(lookupDB, store, lookup.Options{
			CacheSize: cfg.Lookup.CacheSize,
			CacheTTL:  cfg.Lookup.CacheTTL,
			Logger:    logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		obs, err := metrics.NewObserver("catalogsync", prometheus.DefaultRegisterer)
		if err != nil {
			fatalf("registering metrics: %v", err)
		}

		var assetFS http.FileSystem
		if fsStore, ok := store.(*assets.FSStore); ok {
			assetFS = fsStore.HTTPFileSystem()
		}

		var d *daemon.Daemon
		server, err := dashboard.NewServer(&dashboard.Config{
			Addr:   cfg.HTTP.Addr,
			Lookup: svc,
			Assets: assetFS,
			Status: func() any { return newSchedulerStatus(d) },
			Logger: logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		rec := catsync.New(syncDB, store, catsync.Options{
			AssetRoot:         cfg.AssetRoot(),
			UploadConcurrency: cfg.Sync.UploadConcurrency,
			Logger:            logger,
			Observers: []catsync.Observer{
				obs,
				dashboard.NewHandler(server, logger),
				svc,
			},
		})

		dcfg, err := cfg.DaemonConfig()
		if err != nil {
			fatalf("%v", err)
		}
		dcfg.Logger = logger
		d, err = daemon.NewWithConfig(rec, cfg.Feed.Path, dcfg)
		if err != nil {
			fatalf("creating scheduler: %v", err)
		}

		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}

		fmt.Printf("%s catalogsync serving on http://%s\n", ui.RenderPass("✓"), server.GetAddr())
		fmt.Printf("   Feed: %s\n", cfg.Feed.Path)
		fmt.Printf("   Daily run: %s\n", cfg.Schedule.DailyRunTime)
		fmt.Println("\nPress Ctrl+C to stop...")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return d.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})

		if err := g.Wait(); err != nil {
			fatalf("%v", err)
		}
		fmt.Println("catalogsync stopped")
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Dashboard listen address (overrides http.addr)")
	serveCmd.Flags().String("feed", "", "Feed file (overrides feed.path)")

	rootCmd.AddCommand(serveCmd)
}

type schedulerStatus struct {
	State   string           `json:"state"`
	Runs    int64            `json:"runs"`
	NextRun time.Time        `json:"next_run"`
	LastRun *daemon.RunState `json:"last_run,omitempty"`
}

func newSchedulerStatus(d *daemon.Daemon) any {
	if d == nil {
		return nil
	}
	return schedulerStatus{
		State:   d.State().String(),
		Runs:    d.Runs(),
		NextRun: d.NextRun(),
		LastRun: d.LastRun(),
	}
}
