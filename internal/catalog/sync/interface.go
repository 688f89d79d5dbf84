package sync

import (
	"context"

	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

// Reconciler keeps the stored catalog and asset store in line with a feed.
type Reconciler interface {
	// Reconcile applies one feed snapshot.
	//
	// The snapshot is validated first; a malformed or duplicate record
	// returns a *schema.FeedParseError and nothing is written.
	//
	// On a record store failure the returned summary describes the writes
	// applied before the failure, and the error is a
	// *gateway.StoreUnavailableError. Asset failures never produce an error;
	// they are listed in Summary.FailedUploads.
	//
	// Example:
	//   summary, err := rec.Reconcile(ctx, products)
	Reconcile(ctx context.Context, products []*schema.Product) (*Summary, error)

	// SyncFeed reads the feed at feedPath and reconciles it.
	//
	// Asset paths resolve against Options.AssetRoot, or the feed's directory
	// when AssetRoot is empty. An unreadable feed is a *schema.FeedParseError.
	//
	// Example:
	//   summary, err := rec.SyncFeed(ctx, "/srv/feeds/products.xml")
	SyncFeed(ctx context.Context, feedPath string) (*Summary, error)
}
