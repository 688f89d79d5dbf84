package sync

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

func TestReconcileInsertsFeed(t *testing.T) {
	records := newFakeRecords()
	assets := newFakeAssets()
	rec := newTestReconciler(records, assets, Options{})

	feed := []*schema.Product{
		product(1, "Alpha", "X", "a.png"),
		product(2, "Beta", "X", "b.png"),
		product(3, "Gamma", "Y", "c.png"),
	}

	summary, err := rec.Reconcile(context.Background(), feed)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !slices.Equal(summary.Inserted, []int64{1, 2, 3}) {
		t.Errorf("expected inserted [1 2 3], got %v", summary.Inserted)
	}
	if len(summary.Updated)+len(summary.Deleted)+len(summary.Unchanged) != 0 {
		t.Errorf("expected only inserts, got %s", summary)
	}
	if summary.Feed != 3 {
		t.Errorf("expected feed size 3, got %d", summary.Feed)
	}

	got := records.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(got))
	}
	for i, p := range feed {
		if !p.Equal(&got[i]) {
			t.Errorf("stored record %d = %v, want %v", i, &got[i], p)
		}
	}

	if !slices.Equal(assets.uploaded(), []string{"a.png", "b.png", "c.png"}) {
		t.Errorf("expected all assets uploaded, got %v", assets.uploaded())
	}
	if !slices.Equal(summary.Uploaded, []string{"a.png", "b.png", "c.png"}) {
		t.Errorf("summary uploaded = %v", summary.Uploaded)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	records := newFakeRecords()
	assets := newFakeAssets()
	rec := newTestReconciler(records, assets, Options{})

	feed := []*schema.Product{
		product(1, "Alpha", "X", "a.png"),
		product(2, "Beta", "X", "b.png"),
	}

	if _, err := rec.Reconcile(context.Background(), feed); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	upsertsAfterFirst := len(records.upserts)

	summary, err := rec.Reconcile(context.Background(), feed)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}

	if summary.Changed() {
		t.Errorf("expected no changes on second run, got %s", summary)
	}
	if !slices.Equal(summary.Unchanged, []int64{1, 2}) {
		t.Errorf("expected unchanged [1 2], got %v", summary.Unchanged)
	}
	if !slices.Equal(summary.Skipped, []string{"a.png", "b.png"}) {
		t.Errorf("expected both assets skipped, got %v", summary.Skipped)
	}
	if len(records.upserts) != upsertsAfterFirst {
		t.Errorf("second run wrote records: %v", records.upserts[upsertsAfterFirst:])
	}
	if len(assets.uploaded()) != 2 {
		t.Errorf("expected 2 uploads total, got %v", assets.uploaded())
	}
}

// Stored {1 (old fields), 3}; feed {1, 2}.
func TestReconcileMixedChanges(t *testing.T) {
	records := newFakeRecords(
		product(1, "Old Alpha", "X", "a.png"),
		product(3, "Gamma", "Y", "c.png"),
	)
	assets := newFakeAssets("a.png", "c.png")
	rec := newTestReconciler(records, assets, Options{})

	feed := []*schema.Product{
		product(1, "Alpha", "X", "a.png"),
		product(2, "Beta", "X", "b.png"),
	}

	summary, err := rec.Reconcile(context.Background(), feed)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !slices.Equal(summary.Inserted, []int64{2}) {
		t.Errorf("inserted = %v, want [2]", summary.Inserted)
	}
	if !slices.Equal(summary.Updated, []int64{1}) {
		t.Errorf("updated = %v, want [1]", summary.Updated)
	}
	if !slices.Equal(summary.Deleted, []int64{3}) {
		t.Errorf("deleted = %v, want [3]", summary.Deleted)
	}

	got := records.snapshot()
	if len(got) != 2 || got[0].Name != "Alpha" || got[1].ID != 2 {
		t.Errorf("stored catalog = %v", got)
	}

	// Deletion leaves the asset in place; only b.png was missing.
	if !slices.Equal(assets.uploaded(), []string{"b.png"}) {
		t.Errorf("uploads = %v, want [b.png]", assets.uploaded())
	}
	if _, ok := assets.objects["c.png"]; !ok {
		t.Error("asset of deleted record was removed")
	}
}

func TestReconcileDeletesStaleAscending(t *testing.T) {
	records := newFakeRecords(
		product(9, "I", "Z", "i.png"),
		product(4, "D", "Z", "d.png"),
		product(7, "G", "Z", "g.png"),
		product(1, "A", "X", "a.png"),
	)
	rec := newTestReconciler(records, newFakeAssets("a.png"), Options{})

	summary, err := rec.Reconcile(context.Background(), []*schema.Product{
		product(1, "A", "X", "a.png"),
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !slices.Equal(records.deletes, []int64{4, 7, 9}) {
		t.Errorf("delete order = %v, want [4 7 9]", records.deletes)
	}
	if !slices.Equal(summary.Deleted, []int64{4, 7, 9}) {
		t.Errorf("summary deleted = %v", summary.Deleted)
	}
}

func TestReconcileEmptyFeedDeletesEverything(t *testing.T) {
	records := newFakeRecords(product(1, "A", "X", "a.png"), product(2, "B", "X", "b.png"))
	assets := newFakeAssets("a.png", "b.png")
	rec := newTestReconciler(records, assets, Options{})

	summary, err := rec.Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !slices.Equal(summary.Deleted, []int64{1, 2}) {
		t.Errorf("deleted = %v, want [1 2]", summary.Deleted)
	}
	if len(records.snapshot()) != 0 {
		t.Errorf("expected empty catalog, got %v", records.snapshot())
	}
	if len(assets.objects) != 2 {
		t.Errorf("expected assets untouched, got %v", assets.objects)
	}
}

func TestReconcileRejectsInvalidSnapshot(t *testing.T) {
	tests := []struct {
		name string
		feed []*schema.Product
	}{
		{
			name: "duplicate id",
			feed: []*schema.Product{
				product(5, "First", "X", "a.png"),
				product(6, "Other", "X", "b.png"),
				product(5, "Second", "X", "c.png"),
			},
		},
		{
			name: "empty brand",
			feed: []*schema.Product{product(1, "A", "", "a.png")},
		},
		{
			name: "escaping asset key",
			feed: []*schema.Product{product(1, "A", "X", "../secret.png")},
		},
		{
			name: "nil record",
			feed: []*schema.Product{nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := newFakeRecords(product(1, "Kept", "X", "k.png"))
			assets := newFakeAssets()
			obs := &recordingObserver{}
			rec := newTestReconciler(records, assets, Options{Observers: []Observer{obs}})

			summary, err := rec.Reconcile(context.Background(), tt.feed)
			if !schema.IsFeedParseError(err) {
				t.Fatalf("expected FeedParseError, got %v", err)
			}
			if summary == nil || summary.Changed() {
				t.Errorf("expected empty summary, got %v", summary)
			}
			if records.calls != 0 {
				t.Errorf("expected no record store calls, got %d", records.calls)
			}
			if len(assets.uploads) != 0 {
				t.Errorf("expected no uploads, got %v", assets.uploads)
			}
			if got := records.snapshot(); len(got) != 1 || got[0].Name != "Kept" {
				t.Errorf("store modified: %v", got)
			}
			if obs.runs != 1 || obs.finished[0] == nil {
				t.Errorf("expected one failed RunFinished, got %d %v", obs.runs, obs.finished)
			}
		})
	}
}

func TestReconcileStoreUnavailable(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*fakeRecords)
		wantOp     string
		wantStored int
	}{
		{
			name:       "fetch ids",
			setup:      func(f *fakeRecords) { f.failFetchIDs = true },
			wantOp:     "fetch ids",
			wantStored: 1,
		},
		{
			name:       "fetch records",
			setup:      func(f *fakeRecords) { f.failFetchRows = true },
			wantOp:     "fetch records",
			wantStored: 1,
		},
		{
			name:   "upsert",
			setup:  func(f *fakeRecords) { f.failUpsert[3] = true },
			wantOp: "upsert 3",
			// 2 was inserted before the failure and stays.
			wantStored: 2,
		},
		{
			name:       "delete",
			setup:      func(f *fakeRecords) { f.failDelete[1] = true },
			wantOp:     "delete 1",
			wantStored: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := newFakeRecords(product(1, "A", "X", "a.png"))
			tt.setup(records)
			assets := newFakeAssets()
			rec := newTestReconciler(records, assets, Options{})

			feed := []*schema.Product{
				product(2, "B", "X", "b.png"),
				product(3, "C", "X", "c.png"),
			}
			if tt.name == "fetch records" {
				feed = append(feed, product(1, "A2", "X", "a.png"))
			}

			summary, err := rec.Reconcile(context.Background(), feed)

			var serr *gateway.StoreUnavailableError
			if !errors.As(err, &serr) {
				t.Fatalf("expected StoreUnavailableError, got %v", err)
			}
			if serr.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", serr.Op, tt.wantOp)
			}
			if !errors.Is(err, errBackend) {
				t.Errorf("expected wrapped backend error, got %v", err)
			}
			if summary == nil {
				t.Fatal("expected partial summary")
			}
			if got := len(records.snapshot()); got != tt.wantStored {
				t.Errorf("stored records = %d, want %d", got, tt.wantStored)
			}
			if len(assets.uploads) != 0 {
				t.Errorf("asset sync ran after store failure: %v", assets.uploads)
			}
		})
	}
}

func TestReconcilePartialUploadFailure(t *testing.T) {
	records := newFakeRecords()
	assets := newFakeAssets()
	assets.uploadErr["b.png"] = true
	rec := newTestReconciler(records, assets, Options{})

	feed := []*schema.Product{
		product(1, "A", "X", "a.png"),
		product(2, "B", "X", "b.png"),
		product(3, "C", "Y", "c.png"),
	}

	summary, err := rec.Reconcile(context.Background(), feed)
	if err != nil {
		t.Fatalf("upload failure must not fail the run: %v", err)
	}

	if len(records.snapshot()) != 3 {
		t.Errorf("expected all records applied, got %v", records.snapshot())
	}
	if !slices.Equal(summary.Uploaded, []string{"a.png", "c.png"}) {
		t.Errorf("uploaded = %v, want [a.png c.png]", summary.Uploaded)
	}
	if len(summary.FailedUploads) != 1 {
		t.Fatalf("expected one failed upload, got %v", summary.FailedUploads)
	}

	failure := summary.FailedUploads[0]
	if failure.Key != "b.png" || !slices.Equal(failure.ProductIDs, []int64{2}) {
		t.Errorf("unexpected failure %+v", failure)
	}
	var uerr *gateway.AssetUploadError
	if !errors.As(failure.Err, &uerr) || uerr.Key != "b.png" {
		t.Errorf("expected AssetUploadError for b.png, got %v", failure.Err)
	}
	if failure.Reason == "" {
		t.Error("expected failure reason text")
	}

	// The failed key is retried on the next run.
	delete(assets.uploadErr, "b.png")
	summary, err = rec.Reconcile(context.Background(), feed)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if !slices.Equal(summary.Uploaded, []string{"b.png"}) {
		t.Errorf("retry uploaded = %v, want [b.png]", summary.Uploaded)
	}
}

func TestReconcileExistsErrorAttemptsUpload(t *testing.T) {
	assets := newFakeAssets()
	assets.existsErr["a.png"] = true
	rec := newTestReconciler(newFakeRecords(), assets, Options{})

	summary, err := rec.Reconcile(context.Background(), []*schema.Product{product(1, "A", "X", "a.png")})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !slices.Equal(summary.Uploaded, []string{"a.png"}) {
		t.Errorf("expected upload after failed existence check, got %s", summary)
	}
}

func TestReconcileSharedAssetKey(t *testing.T) {
	assets := newFakeAssets()
	assets.uploadErr["shared.png"] = true
	rec := newTestReconciler(newFakeRecords(), assets, Options{})

	summary, err := rec.Reconcile(context.Background(), []*schema.Product{
		product(1, "A", "X", "shared.png"),
		product(2, "B", "X", "own.png"),
		product(3, "C", "Y", "shared.png"),
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(summary.FailedUploads) != 1 {
		t.Fatalf("expected shared key to be attempted once, got %v", summary.FailedUploads)
	}
	if ids := summary.FailedUploads[0].ProductIDs; !slices.Equal(ids, []int64{1, 3}) {
		t.Errorf("failure owners = %v, want [1 3]", ids)
	}
	if !slices.Equal(summary.Uploaded, []string{"own.png"}) {
		t.Errorf("uploaded = %v", summary.Uploaded)
	}
}

func TestReconcileUploadConcurrencyBound(t *testing.T) {
	assets := newFakeAssets()
	assets.delay = 5 * time.Millisecond
	rec := newTestReconciler(newFakeRecords(), assets, Options{UploadConcurrency: 2})

	var feed []*schema.Product
	for i := int64(1); i <= 12; i++ {
		feed = append(feed, product(i, "P", "X", string(rune('a'+i))+".png"))
	}

	summary, err := rec.Reconcile(context.Background(), feed)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(summary.Uploaded) != 12 {
		t.Errorf("expected 12 uploads, got %d", len(summary.Uploaded))
	}
	if peak := assets.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", peak)
	}

	// Results keep feed order regardless of completion order.
	for i, key := range summary.Uploaded {
		if key != feed[i].ImagePath {
			t.Fatalf("uploaded[%d] = %s, want %s", i, key, feed[i].ImagePath)
		}
	}
}

func TestReconcileDryRun(t *testing.T) {
	records := newFakeRecords(
		product(1, "Old", "X", "a.png"),
		product(3, "C", "Y", "c.png"),
	)
	assets := newFakeAssets("a.png")
	rec := newTestReconciler(records, assets, Options{DryRun: true})

	summary, err := rec.Reconcile(context.Background(), []*schema.Product{
		product(1, "New", "X", "a.png"),
		product(2, "B", "X", "b.png"),
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !summary.DryRun {
		t.Error("summary not marked as dry run")
	}
	if !slices.Equal(summary.Inserted, []int64{2}) ||
		!slices.Equal(summary.Updated, []int64{1}) ||
		!slices.Equal(summary.Deleted, []int64{3}) {
		t.Errorf("unexpected diff %s", summary)
	}
	if !slices.Equal(summary.Uploaded, []string{"b.png"}) || !slices.Equal(summary.Skipped, []string{"a.png"}) {
		t.Errorf("unexpected asset plan %s", summary)
	}

	if len(records.upserts)+len(records.deletes) != 0 {
		t.Errorf("dry run wrote records: upserts=%v deletes=%v", records.upserts, records.deletes)
	}
	if len(assets.uploads) != 0 {
		t.Errorf("dry run uploaded %v", assets.uploads)
	}
	if got := records.snapshot(); got[0].Name != "Old" {
		t.Errorf("dry run modified record 1: %v", got[0])
	}
}

func TestReconcileNotifiesObservers(t *testing.T) {
	records := newFakeRecords(product(1, "Old", "X", "a.png"), product(3, "C", "Y", "c.png"))
	assets := newFakeAssets("a.png")
	assets.uploadErr["b.png"] = true
	obs := &recordingObserver{}
	rec := newTestReconciler(records, assets, Options{Observers: []Observer{obs, BaseObserver{}}})

	_, err := rec.Reconcile(context.Background(), []*schema.Product{
		product(1, "New", "X", "a.png"),
		product(2, "B", "X", "b.png"),
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	wantChanges := []string{"updated:1", "inserted:2", "deleted:3"}
	if !slices.Equal(obs.changes, wantChanges) {
		t.Errorf("changes = %v, want %v", obs.changes, wantChanges)
	}

	slices.Sort(obs.assets)
	wantAssets := []string{"failed:b.png", "skipped:a.png"}
	if !slices.Equal(obs.assets, wantAssets) {
		t.Errorf("assets = %v, want %v", obs.assets, wantAssets)
	}
	if obs.runs != 1 || obs.finished[0] != nil {
		t.Errorf("expected one successful RunFinished, got %d %v", obs.runs, obs.finished)
	}
}

func TestReconcileRunMetadata(t *testing.T) {
	start := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	clock := start
	rec := newTestReconciler(newFakeRecords(), newFakeAssets(), Options{
		Now: func() time.Time {
			now := clock
			clock = clock.Add(2 * time.Second)
			return now
		},
		NewRunID: func() string { return "run-1" },
	})

	summary, err := rec.Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if summary.RunID != "run-1" {
		t.Errorf("RunID = %q", summary.RunID)
	}
	if !summary.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", summary.StartedAt, start)
	}
	if summary.Duration() != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", summary.Duration())
	}
}

func TestNewDefaults(t *testing.T) {
	rec := New(newFakeRecords(), newFakeAssets(), Options{}).(*reconciler)
	if rec.opts.UploadConcurrency != DefaultUploadConcurrency {
		t.Errorf("UploadConcurrency = %d", rec.opts.UploadConcurrency)
	}
	if rec.logger == nil || rec.opts.Now == nil || rec.opts.NewRunID == nil {
		t.Error("expected defaults for logger, clock and run IDs")
	}
	if a, b := rec.opts.NewRunID(), rec.opts.NewRunID(); a == "" || a == b {
		t.Errorf("expected distinct run IDs, got %q %q", a, b)
	}
}
