// Package loadtest measures brand lookups against a populated catalog.
//
// It simulates many dashboard clients looking up brands at once, optionally
// while the reconciler rewrites the catalog underneath them, and reports
// latency percentiles. Lookups and reconciliation use separate store handles,
// as in a running server.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/steveyegge/catalogsync/internal/catalog/assets"
	"github.com/steveyegge/catalogsync/internal/catalog/db"
	"github.com/steveyegge/catalogsync/internal/catalog/lookup"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
)

const feedRoot = "/feed"

// TestCatalog is a populated catalog ready for load testing.
type TestCatalog struct {
	SyncDB   *db.DB
	LookupDB *db.DB
	Assets   *assets.FSStore
	Lookup   *lookup.Service
	Products []*schema.Product
	Brands   []string

	rec catsync.Reconciler
}

// LatencyStats captures performance metrics from a load test.
type LatencyStats struct {
	Min          time.Duration   `json:"min"`
	Max          time.Duration   `json:"max"`
	Mean         time.Duration   `json:"mean"`
	P50          time.Duration   `json:"p50"`
	P95          time.Duration   `json:"p95"`
	P99          time.Duration   `json:"p99"`
	TotalQueries int             `json:"total_queries"`
	Errors       int             `json:"errors"`
	Durations    []time.Duration `json:"-"`
}

// CreateTestCatalog creates a catalog of numProducts products spread over
// numBrands brands in the SQLite database at dbPath.
//
// The catalog is populated through the reconciler, so every product's image
// is uploaded to an in-memory asset store.
func CreateTestCatalog(ctx context.Context, dbPath string, numProducts, numBrands int) (*TestCatalog, error) {
	if numProducts <= 0 || numBrands <= 0 {
		return nil, fmt.Errorf("products and brands must be positive")
	}

	syncDB, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := syncDB.InitSchemaContext(ctx); err != nil {
		_ = syncDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	lookupDB, err := db.Open(dbPath)
	if err != nil {
		_ = syncDB.Close()
		return nil, fmt.Errorf("failed to open lookup database: %w", err)
	}

	// Support many concurrent clients
	lookupDB.RawDB().SetMaxOpenConns(150)
	lookupDB.RawDB().SetMaxIdleConns(50)
	lookupDB.RawDB().SetConnMaxLifetime(10 * time.Minute)

	tc := &TestCatalog{
		SyncDB:   syncDB,
		LookupDB: lookupDB,
		Products: generateProducts(numProducts, numBrands),
		Brands:   generateBrands(numBrands),
	}

	source := afero.NewMemMapFs()
	for _, p := range tc.Products {
		if err := afero.WriteFile(source, path.Join(feedRoot, p.ImagePath), []byte(p.ImagePath), 0644); err != nil {
			_ = tc.Close()
			return nil, fmt.Errorf("failed to write image %s: %w", p.ImagePath, err)
		}
	}
	tc.Assets = assets.NewFSStoreOn(afero.NewMemMapFs(), assets.Options{Source: source})

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc.rec = catsync.New(syncDB, tc.Assets, catsync.Options{AssetRoot: feedRoot, Logger: quiet})

	// Lookups must hit the store, not the cache
	tc.Lookup, err = lookup.New(lookupDB, tc.Assets, lookup.Options{CacheSize: -1, Logger: quiet})
	if err != nil {
		_ = tc.Close()
		return nil, err
	}

	summary, err := tc.rec.Reconcile(ctx, tc.Products)
	if err != nil {
		_ = tc.Close()
		return nil, fmt.Errorf("failed to populate catalog: %w", err)
	}
	if len(summary.FailedUploads) > 0 {
		_ = tc.Close()
		return nil, fmt.Errorf("failed to upload %d image(s)", len(summary.FailedUploads))
	}

	return tc, nil
}

// Close closes both database handles.
func (tc *TestCatalog) Close() error {
	var firstErr error
	for _, d := range []*db.DB{tc.LookupDB, tc.SyncDB} {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunConcurrentLookups simulates numClients clients each performing
// queriesPerClient brand lookups, and returns their latency statistics.
func (tc *TestCatalog) RunConcurrentLookups(ctx context.Context, numClients, queriesPerClient int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numClients)
	errorsChan := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, queriesPerClient)
			for j := 0; j < queriesPerClient; j++ {
				brand := tc.Brands[(clientID+j)%len(tc.Brands)]

				start := time.Now()
				listings, err := tc.Lookup.Lookup(ctx, brand)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("client %d lookup %d failed: %w", clientID, j, err)
					break
				}
				if len(listings) == 0 {
					errorsChan <- fmt.Errorf("client %d lookup %d: no products for brand %q", clientID, j, brand)
					break
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	var firstErr error
	errorCount := 0
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no lookups completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	if errorCount == stats.TotalQueries {
		return stats, firstErr
	}
	return stats, nil
}

// VerifyLookupsDuringSync runs rounds reconciliations that alternately rename
// and restore every other product and drop every tenth one, while numClients
// clients look up brands.
//
// Every listing a client sees must belong to the requested brand, be in
// ascending ID order and carry the asset store URL of its image. A lookup may
// observe a partially applied run; that is not an error.
func (tc *TestCatalog) VerifyLookupsDuringSync(ctx context.Context, numClients, rounds int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numClients+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		mutated := mutateProducts(tc.Products)
		for i := 0; i < rounds; i++ {
			snapshot := tc.Products
			if i%2 == 0 {
				snapshot = mutated
			}
			if _, err := tc.rec.Reconcile(ctx, snapshot); err != nil {
				errorsChan <- fmt.Errorf("reconcile round %d failed: %w", i, err)
				return
			}
		}
	}()

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			for j := 0; ; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				brand := tc.Brands[(clientID+j)%len(tc.Brands)]
				listings, err := tc.Lookup.Lookup(ctx, brand)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorsChan <- fmt.Errorf("client %d lookup failed: %w", clientID, err)
					return
				}
				if err := tc.checkListings(brand, listings); err != nil {
					errorsChan <- fmt.Errorf("client %d: %w", clientID, err)
					return
				}

				// Small sleep to avoid hammering
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestCatalog) checkListings(brand string, listings []lookup.Listing) error {
	var prev int64
	for _, l := range listings {
		if l.Brand != brand {
			return fmt.Errorf("product %d has brand %q in lookup of %q", l.ID, l.Brand, brand)
		}
		if l.ID <= prev {
			return fmt.Errorf("lookup of %q not in ascending ID order at %d", brand, l.ID)
		}
		if want := tc.Assets.URL(l.ImagePath); l.ImageURL != want {
			return fmt.Errorf("product %d has image URL %q, want %q", l.ID, l.ImageURL, want)
		}
		prev = l.ID
	}
	return nil
}

// generateBrands returns the brand names used by generateProducts.
func generateBrands(count int) []string {
	brands := make([]string, count)
	for i := range brands {
		brands[i] = fmt.Sprintf("brand-%02d", i)
	}
	return brands
}

// generateProducts creates count products assigned round-robin to brands.
// Every fifth product shares its image with the one before it.
func generateProducts(count, numBrands int) []*schema.Product {
	brands := generateBrands(numBrands)
	products := make([]*schema.Product, count)

	for i := 0; i < count; i++ {
		img := i
		if i%5 == 4 {
			img = i - 1
		}
		products[i] = &schema.Product{
			ID:        int64(i + 1),
			Name:      fmt.Sprintf("Product %d", i+1),
			Brand:     brands[i%numBrands],
			ImagePath: fmt.Sprintf("img/%05d.png", img+1),
		}
	}
	return products
}

// mutateProducts renames every other product and drops every tenth one.
func mutateProducts(products []*schema.Product) []*schema.Product {
	out := make([]*schema.Product, 0, len(products))
	for i, p := range products {
		if i%10 == 9 {
			continue
		}
		cp := *p
		if i%2 == 0 {
			cp.Name += " (revised)"
		}
		out = append(out, &cp)
	}
	return out
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats writes the statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Lookups: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// GetStats returns statistics about the test catalog.
func (tc *TestCatalog) GetStats() map[string]any {
	images := make(map[string]struct{}, len(tc.Products))
	for _, p := range tc.Products {
		images[p.ImagePath] = struct{}{}
	}
	return map[string]any{
		"products":           len(tc.Products),
		"brands":             len(tc.Brands),
		"images":             len(images),
		"products_per_brand": float64(len(tc.Products)) / float64(len(tc.Brands)),
	}
}
