// Package gateway defines the contracts between the catalog reconciler and
// its two external collaborators: the record store holding the product table
// and the asset store holding product images.
//
// Implementations live in the db and assets packages. Both are created once at
// process start, passed explicitly to their consumers, and closed at shutdown.
package gateway

import (
	"context"

	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

// RecordStore is the durable product table, keyed by product ID.
//
// Every method applies its own bounded timeout. Implementations must be safe
// for concurrent use; the reconciler and the lookup surface call them from
// different goroutines.
type RecordStore interface {
	// FetchAllIDs returns the set of stored product IDs.
	FetchAllIDs(ctx context.Context) (map[int64]struct{}, error)

	// FetchByIDs returns the stored products whose IDs are in ids.
	// Unknown IDs are ignored. Order is unspecified.
	FetchByIDs(ctx context.Context, ids []int64) ([]*schema.Product, error)

	// FetchByBrand returns the products of a brand ordered by ID.
	FetchByBrand(ctx context.Context, brand string) ([]*schema.Product, error)

	// UpsertProduct inserts p or overwrites the stored record with the same ID.
	UpsertProduct(ctx context.Context, p *schema.Product) error

	// DeleteProduct removes the record with the given ID.
	// Returns nil if it doesn't exist (idempotent).
	DeleteProduct(ctx context.Context, id int64) error
}

// AssetStore is a flat blob namespace addressed by key.
type AssetStore interface {
	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Upload copies the local file at localPath to key, unless an object is
	// already stored there. An existing object is not an error.
	Upload(ctx context.Context, key, localPath string) error

	// URL returns the address at which the object under key can be fetched.
	URL(key string) string
}
