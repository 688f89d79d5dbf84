package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

// DefaultUploadConcurrency bounds parallel asset syncs within a run.
const DefaultUploadConcurrency = 4

// Options configures a Reconciler.
type Options struct {
	// AssetRoot is the directory asset keys resolve against when reading
	// local files. Empty means the feed's directory for SyncFeed and the
	// working directory for Reconcile.
	AssetRoot string

	// UploadConcurrency bounds parallel asset syncs (default 4).
	UploadConcurrency int

	// DryRun computes the diff and checks asset existence but writes nothing.
	DryRun bool

	// Logger for run events (default: slog.Default()).
	Logger *slog.Logger

	// Observers receive change and completion events.
	Observers []Observer

	// Now and NewRunID are overridable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// reconciler implements the Reconciler interface.
type reconciler struct {
	records   gateway.RecordStore
	assets    gateway.AssetStore
	opts      Options
	logger    *slog.Logger
	observers observers
}

// New creates a Reconciler over the given gateways.
//
// Both gateways must be open and remain open for the reconciler's lifetime.
//
// Example:
//
//	store, err := db.Open("file:.catalogsync/catalog.db")
//	if err != nil {
//	    return err
//	}
//	assetStore, err := assets.NewFSStore("/srv/assets", assets.Options{})
//	if err != nil {
//	    return err
//	}
//	rec := sync.New(store, assetStore, sync.Options{})
func New(records gateway.RecordStore, assets gateway.AssetStore, opts Options) Reconciler {
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = DefaultUploadConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &reconciler{
		records:   records,
		assets:    assets,
		opts:      opts,
		logger:    logger.With("component", "sync"),
		observers: observers(opts.Observers),
	}
}

// Reconcile implements Reconciler.Reconcile.
func (r *reconciler) Reconcile(ctx context.Context, products []*schema.Product) (*Summary, error) {
	return r.execute(ctx, r.opts.AssetRoot, func() ([]*schema.Product, error) {
		return products, nil
	})
}

// SyncFeed implements Reconciler.SyncFeed.
func (r *reconciler) SyncFeed(ctx context.Context, feedPath string) (*Summary, error) {
	root := r.opts.AssetRoot
	if root == "" {
		root = filepath.Dir(feedPath)
	}
	return r.execute(ctx, root, func() ([]*schema.Product, error) {
		return schema.ReadFeedFile(feedPath)
	})
}

// execute runs one reconciliation and reports it to observers exactly once.
func (r *reconciler) execute(ctx context.Context, assetRoot string, load func() ([]*schema.Product, error)) (summary *Summary, err error) {
	summary = &Summary{
		RunID:     r.opts.NewRunID(),
		StartedAt: r.opts.Now(),
		DryRun:    r.opts.DryRun,
	}
	log := r.logger.With("run_id", summary.RunID)
	if r.opts.DryRun {
		log = log.With("dry_run", true)
	}

	defer func() {
		summary.FinishedAt = r.opts.Now()
		if err != nil {
			log.Error("reconciliation failed", "error", err, "duration", summary.Duration())
		} else {
			log.Info("reconciliation complete",
				"inserted", len(summary.Inserted),
				"updated", len(summary.Updated),
				"unchanged", len(summary.Unchanged),
				"deleted", len(summary.Deleted),
				"uploaded", len(summary.Uploaded),
				"skipped_assets", len(summary.Skipped),
				"failed_uploads", len(summary.FailedUploads),
				"duration", summary.Duration(),
			)
		}
		r.observers.RunFinished(summary, err)
	}()

	products, err := load()
	if err != nil {
		return summary, err
	}
	if err := schema.CheckSnapshot(products); err != nil {
		return summary, err
	}
	summary.Feed = len(products)
	log.Info("reconciliation started", "records", len(products))

	if err := r.applyRecords(ctx, log, summary, products); err != nil {
		return summary, err
	}

	r.syncAssets(ctx, log, summary, products, assetRoot)
	return summary, nil
}

// applyRecords upserts new and changed records, then deletes stale ones.
func (r *reconciler) applyRecords(ctx context.Context, log *slog.Logger, summary *Summary, products []*schema.Product) error {
	oldIDs, err := r.records.FetchAllIDs(ctx)
	if err != nil {
		return &gateway.StoreUnavailableError{Op: "fetch ids", Err: err}
	}

	var known []int64
	for _, p := range products {
		if _, ok := oldIDs[p.ID]; ok {
			known = append(known, p.ID)
		}
	}
	stored := make(map[int64]*schema.Product, len(known))
	if len(known) > 0 {
		rows, err := r.records.FetchByIDs(ctx, known)
		if err != nil {
			return &gateway.StoreUnavailableError{Op: "fetch records", Err: err}
		}
		for _, row := range rows {
			stored[row.ID] = row
		}
	}

	newIDs := make(map[int64]struct{}, len(products))
	for _, p := range products {
		newIDs[p.ID] = struct{}{}

		change := ChangeInserted
		if _, ok := oldIDs[p.ID]; ok {
			if p.Equal(stored[p.ID]) {
				summary.Unchanged = append(summary.Unchanged, p.ID)
				continue
			}
			change = ChangeUpdated
		}

		if !r.opts.DryRun {
			if err := r.records.UpsertProduct(ctx, p); err != nil {
				return &gateway.StoreUnavailableError{Op: fmt.Sprintf("upsert %d", p.ID), Err: err}
			}
		}

		if change == ChangeInserted {
			summary.Inserted = append(summary.Inserted, p.ID)
		} else {
			summary.Updated = append(summary.Updated, p.ID)
		}
		log.Info("product "+change.String(),
			"product_id", p.ID,
			"brand", p.Brand,
			"name", p.Name,
			"image", p.ImagePath,
		)
		r.observers.RecordChanged(summary.RunID, change, p)
	}

	stale := make([]int64, 0)
	for id := range oldIDs {
		if _, ok := newIDs[id]; !ok {
			stale = append(stale, id)
		}
	}
	slices.Sort(stale)

	for _, id := range stale {
		if !r.opts.DryRun {
			if err := r.records.DeleteProduct(ctx, id); err != nil {
				return &gateway.StoreUnavailableError{Op: fmt.Sprintf("delete %d", id), Err: err}
			}
		}
		summary.Deleted = append(summary.Deleted, id)
		log.Info("product deleted", "product_id", id)
		r.observers.RecordChanged(summary.RunID, ChangeDeleted, &schema.Product{ID: id})
	}

	return nil
}

// assetResult is the outcome of one asset key, kept in feed order.
type assetResult struct {
	key     string
	owners  []int64
	outcome AssetOutcome
	err     error
}

// syncAssets checks and uploads every distinct asset key. Failures are
// recorded in the summary and never returned.
func (r *reconciler) syncAssets(ctx context.Context, log *slog.Logger, summary *Summary, products []*schema.Product, assetRoot string) {
	var results []*assetResult
	byKey := make(map[string]*assetResult)
	for _, p := range products {
		if res, ok := byKey[p.ImagePath]; ok {
			res.owners = append(res.owners, p.ID)
			continue
		}
		res := &assetResult{key: p.ImagePath, owners: []int64{p.ID}}
		byKey[p.ImagePath] = res
		results = append(results, res)
	}

	// Each goroutine writes only its own result.
	var g errgroup.Group
	g.SetLimit(r.opts.UploadConcurrency)

	for _, res := range results {
		g.Go(func() error {
			localPath := filepath.Join(assetRoot, filepath.FromSlash(res.key))
			outcome, err := r.syncAsset(ctx, log, res.key, localPath)

			res.outcome, res.err = outcome, err

			r.observers.AssetSynced(summary.RunID, res.key, outcome, err)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		switch res.outcome {
		case AssetUploaded:
			summary.Uploaded = append(summary.Uploaded, res.key)
		case AssetSkipped:
			summary.Skipped = append(summary.Skipped, res.key)
		case AssetFailed:
			summary.FailedUploads = append(summary.FailedUploads, AssetFailure{
				Key:        res.key,
				ProductIDs: res.owners,
				Reason:     res.err.Error(),
				Err:        res.err,
			})
		}
	}
}

// syncAsset uploads key from localPath unless the asset store already has it.
// An existence-check error falls through to the upload, which never
// overwrites.
func (r *reconciler) syncAsset(ctx context.Context, log *slog.Logger, key, localPath string) (AssetOutcome, error) {
	log = log.With("asset_key", key)

	exists, err := r.assets.Exists(ctx, key)
	switch {
	case err != nil:
		log.Warn("asset existence check failed, attempting upload", "error", err)
	case exists:
		log.Debug("asset present")
		return AssetSkipped, nil
	}

	if r.opts.DryRun {
		if err != nil {
			return AssetFailed, &gateway.AssetUploadError{Key: key, Err: err}
		}
		log.Info("asset would be uploaded", "source", localPath)
		return AssetUploaded, nil
	}

	if err := r.assets.Upload(ctx, key, localPath); err != nil {
		uerr := &gateway.AssetUploadError{Key: key, Err: err}
		log.Error("asset upload failed", "source", localPath, "error", err)
		return AssetFailed, uerr
	}

	log.Info("asset uploaded", "source", localPath)
	return AssetUploaded, nil
}
