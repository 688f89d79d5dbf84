package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

var errBackend = errors.New("backend down")

// fakeRecords is an in-memory RecordStore with per-operation failure injection.
type fakeRecords struct {
	mu   gosync.Mutex
	rows map[int64]*schema.Product

	failFetchIDs  bool
	failFetchRows bool
	failUpsert    map[int64]bool
	failDelete    map[int64]bool

	calls   int
	upserts []int64
	deletes []int64
}

func newFakeRecords(products ...*schema.Product) *fakeRecords {
	f := &fakeRecords{
		rows:       make(map[int64]*schema.Product),
		failUpsert: make(map[int64]bool),
		failDelete: make(map[int64]bool),
	}
	for _, p := range products {
		cp := *p
		f.rows[p.ID] = &cp
	}
	return f
}

func (f *fakeRecords) FetchAllIDs(ctx context.Context) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFetchIDs {
		return nil, errBackend
	}
	ids := make(map[int64]struct{}, len(f.rows))
	for id := range f.rows {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *fakeRecords) FetchByIDs(ctx context.Context, ids []int64) ([]*schema.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFetchRows {
		return nil, errBackend
	}
	var out []*schema.Product
	for _, id := range ids {
		if p, ok := f.rows[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRecords) FetchByBrand(ctx context.Context, brand string) ([]*schema.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []*schema.Product
	for _, p := range f.rows {
		if p.Brand == brand {
			cp := *p
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *schema.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (f *fakeRecords) UpsertProduct(ctx context.Context, p *schema.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failUpsert[p.ID] {
		return errBackend
	}
	cp := *p
	f.rows[p.ID] = &cp
	f.upserts = append(f.upserts, p.ID)
	return nil
}

func (f *fakeRecords) DeleteProduct(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failDelete[id] {
		return errBackend
	}
	delete(f.rows, id)
	f.deletes = append(f.deletes, id)
	return nil
}

// snapshot returns the stored rows sorted by id.
func (f *fakeRecords) snapshot() []schema.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.Product, 0, len(f.rows))
	for _, p := range f.rows {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b schema.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// fakeAssets is an in-memory AssetStore with per-key failure injection.
type fakeAssets struct {
	mu      gosync.Mutex
	objects map[string]string

	existsErr map[string]bool
	uploadErr map[string]bool
	delay     time.Duration

	uploads  []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeAssets(keys ...string) *fakeAssets {
	f := &fakeAssets{
		objects:   make(map[string]string),
		existsErr: make(map[string]bool),
		uploadErr: make(map[string]bool),
	}
	for _, k := range keys {
		f.objects[k] = "preloaded"
	}
	return f
}

func (f *fakeAssets) enter() func() {
	n := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeAssets) Exists(ctx context.Context, key string) (bool, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr[key] {
		return false, errBackend
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeAssets) Upload(ctx context.Context, key, localPath string) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr[key] {
		return errBackend
	}
	if _, ok := f.objects[key]; ok {
		return nil
	}
	f.objects[key] = localPath
	f.uploads = append(f.uploads, key)
	return nil
}

func (f *fakeAssets) URL(key string) string {
	return "https://assets.example.com/" + key
}

func (f *fakeAssets) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.uploads)
	slices.Sort(out)
	return out
}

// recordingObserver captures every event it receives.
type recordingObserver struct {
	mu       gosync.Mutex
	changes  []string
	assets   []string
	finished []error
	runs     int
}

func (o *recordingObserver) RecordChanged(runID string, change Change, p *schema.Product) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, fmt.Sprintf("%s:%d", change, p.ID))
}

func (o *recordingObserver) AssetSynced(runID, key string, outcome AssetOutcome, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assets = append(o.assets, fmt.Sprintf("%s:%s", outcome, key))
}

func (o *recordingObserver) RunFinished(summary *Summary, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
	o.finished = append(o.finished, err)
}

func product(id int64, name, brand, image string) *schema.Product {
	return &schema.Product{ID: id, Name: name, Brand: brand, ImagePath: image}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestReconciler(records *fakeRecords, assets *fakeAssets, opts Options) Reconciler {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.AssetRoot == "" {
		opts.AssetRoot = "/feed"
	}
	return New(records, assets, opts)
}
