// Package sync reconciles a product feed snapshot with the stored catalog and
// the asset store.
//
// Overview
//
// One reconciliation run takes the ordered records of a feed and makes the
// record store match them exactly, then makes sure every referenced image is
// present in the asset store:
//
//	products.xml ──► schema.ParseFeed ──► Reconciler.Reconcile
//	                                          │
//	                       ┌──────────────────┴──────────────────┐
//	                       ▼                                     ▼
//	              gateway.RecordStore                   gateway.AssetStore
//	         upsert new/changed, delete stale        upload missing images
//
// Run Steps
//
//  1. Validate the snapshot. A malformed record or a duplicate ID rejects the
//     run with a *schema.FeedParseError before any store call.
//  2. Read the stored ID set (one read) and the stored rows of IDs present in
//     both, for change detection.
//  3. Upsert records that are new or differ from the stored row. Identical
//     rows are left alone and reported as unchanged.
//  4. Delete stored IDs absent from the feed. Assets are never deleted.
//  5. For each distinct image key, check existence and upload if absent.
//     Upload failures are recorded per key and never abort the run.
//
// Failure Semantics
//
// A record store failure in steps 2-4 aborts the run with a
// *gateway.StoreUnavailableError. Writes applied before the failure stay
// applied: the store offers no transaction spanning a run, and the next run
// converges the catalog again. Asset failures leave the record written and the
// asset missing until a later run uploads it.
//
// Usage
//
//	rec := sync.New(store, assetStore, sync.Options{Logger: logger})
//	summary, err := rec.SyncFeed(ctx, "products.xml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(summary)
//
// Concurrency
//
// A Reconciler may be shared, but runs are expected to be serialized by the
// caller (the daemon's single worker does this). Uploads within one run are
// performed concurrently up to Options.UploadConcurrency; observers must be
// safe for concurrent use.
package sync
