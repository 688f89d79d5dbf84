package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestCatalog(t *testing.T, products, brands int) *TestCatalog {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	tc, err := CreateTestCatalog(context.Background(), dbPath, products, brands)
	if err != nil {
		t.Fatalf("Failed to create test catalog: %v", err)
	}
	t.Cleanup(func() { _ = tc.Close() })
	return tc
}

// TestCreateTestCatalog verifies that the catalog is populated through the reconciler.
func TestCreateTestCatalog(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t, 100, 10)

	count, err := tc.SyncDB.CountProducts(ctx)
	if err != nil {
		t.Fatalf("CountProducts failed: %v", err)
	}
	if count != 100 {
		t.Errorf("Expected 100 products, got %d", count)
	}

	brands, err := tc.SyncDB.ListBrands(ctx)
	if err != nil {
		t.Fatalf("ListBrands failed: %v", err)
	}
	if len(brands) != 10 {
		t.Fatalf("Expected 10 brands, got %d", len(brands))
	}
	for _, b := range brands {
		if b.Products != 10 {
			t.Errorf("Brand %s has %d products, expected 10", b.Brand, b.Products)
		}
	}

	for _, p := range tc.Products {
		ok, err := tc.Assets.Exists(ctx, p.ImagePath)
		if err != nil || !ok {
			t.Fatalf("Image %s not uploaded (exists=%v, err=%v)", p.ImagePath, ok, err)
		}
	}

	stats := tc.GetStats()
	if stats["images"] != 80 {
		t.Errorf("Expected 80 distinct images, got %v", stats["images"])
	}
}

func TestCreateTestCatalog_InvalidSize(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	if _, err := CreateTestCatalog(context.Background(), dbPath, 0, 5); err == nil {
		t.Error("Expected error for zero products")
	}
	if _, err := CreateTestCatalog(context.Background(), dbPath, 10, 0); err == nil {
		t.Error("Expected error for zero brands")
	}
}

// TestConcurrentLookups_Small verifies basic concurrent lookup functionality.
func TestConcurrentLookups_Small(t *testing.T) {
	tc := newTestCatalog(t, 100, 10)

	stats, err := tc.RunConcurrentLookups(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("Concurrent lookups failed: %v", err)
	}
	if stats.Errors > 0 {
		t.Errorf("Got %d errors during lookups", stats.Errors)
	}
	if stats.TotalQueries != 50 {
		t.Errorf("Expected 50 total lookups, got %d", stats.TotalQueries)
	}
	if stats.Min > stats.P50 || stats.P50 > stats.P95 || stats.P95 > stats.Max {
		t.Errorf("Percentiles out of order: %+v", stats)
	}
}

// TestLookupsDuringSync verifies that lookups stay consistent while runs rewrite the catalog.
func TestLookupsDuringSync(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	tc := newTestCatalog(t, 200, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := tc.VerifyLookupsDuringSync(ctx, 8, 4); err != nil {
		t.Fatalf("Lookups during sync failed: %v", err)
	}

	// An even number of rounds ends on the original products
	count, err := tc.SyncDB.CountProducts(context.Background())
	if err != nil {
		t.Fatalf("CountProducts failed: %v", err)
	}
	if count != 200 {
		t.Errorf("Expected 200 products after final round, got %d", count)
	}
}

func TestGenerateProducts(t *testing.T) {
	products := generateProducts(10, 3)

	if products[0].Brand != "brand-00" || products[1].Brand != "brand-01" || products[3].Brand != "brand-00" {
		t.Errorf("Brands not assigned round-robin: %v %v %v", products[0], products[1], products[3])
	}
	if products[4].ImagePath != products[3].ImagePath {
		t.Errorf("Expected product 5 to share image with product 4, got %s and %s",
			products[4].ImagePath, products[3].ImagePath)
	}
	for i, p := range products {
		if err := p.Validate(); err != nil {
			t.Errorf("Product %d invalid: %v", i, err)
		}
	}
}

func TestMutateProducts(t *testing.T) {
	products := generateProducts(20, 2)
	mutated := mutateProducts(products)

	if len(mutated) != 18 {
		t.Fatalf("Expected 18 products after dropping every tenth, got %d", len(mutated))
	}
	if !strings.HasSuffix(mutated[0].Name, "(revised)") {
		t.Errorf("Expected first product renamed, got %q", mutated[0].Name)
	}
	if products[0].Name != "Product 1" {
		t.Errorf("Original product modified: %q", products[0].Name)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}

	var buf bytes.Buffer
	stats.PrintStats(&buf)
	if !strings.Contains(buf.String(), "Total Lookups: 100") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}

	if empty := computeLatencyStats(nil); empty.TotalQueries != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}
