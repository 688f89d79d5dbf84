package metrics

import (
	"errors"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/steveyegge/catalogsync/internal/catalog/schema"
	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
)

func TestObserverCountsEvents(t *testing.T) {
	reg := promclient.NewRegistry()
	obs, err := NewObserver("test", reg)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	p := &schema.Product{ID: 1}
	obs.RecordChanged("r", catsync.ChangeInserted, p)
	obs.RecordChanged("r", catsync.ChangeInserted, p)
	obs.RecordChanged("r", catsync.ChangeDeleted, p)
	obs.AssetSynced("r", "a.png", catsync.AssetUploaded, nil)
	obs.AssetSynced("r", "b.png", catsync.AssetFailed, errors.New("boom"))

	finished := time.Date(2026, 5, 4, 1, 0, 5, 0, time.UTC)
	obs.RunFinished(&catsync.Summary{
		Feed:          3,
		StartedAt:     finished.Add(-5 * time.Second),
		FinishedAt:    finished,
		FailedUploads: []catsync.AssetFailure{{Key: "b.png"}},
	}, nil)

	if got := testutil.ToFloat64(obs.records.WithLabelValues("inserted")); got != 2 {
		t.Errorf("inserted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(obs.records.WithLabelValues("deleted")); got != 1 {
		t.Errorf("deleted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.assets.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed assets = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.runs.WithLabelValues(OutcomePartial)); got != 1 {
		t.Errorf("partial runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.feedSize); got != 3 {
		t.Errorf("feed size = %v, want 3", got)
	}
	if got := testutil.ToFloat64(obs.lastSuccess); got != 0 {
		t.Errorf("partial run must not update last success, got %v", got)
	}
}

func TestObserverRunOutcomes(t *testing.T) {
	reg := promclient.NewRegistry()
	obs, err := NewObserver("test", reg)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	finished := time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC)
	obs.RunFinished(&catsync.Summary{StartedAt: finished, FinishedAt: finished}, nil)
	obs.RunFinished(&catsync.Summary{}, errors.New("store down"))
	obs.RunFinished(nil, errors.New("rejected"))

	if got := testutil.ToFloat64(obs.runs.WithLabelValues(OutcomeSuccess)); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.runs.WithLabelValues(OutcomeFailed)); got != 2 {
		t.Errorf("failed runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(obs.lastSuccess); got != float64(finished.Unix()) {
		t.Errorf("last success = %v, want %v", got, finished.Unix())
	}
}

func TestNewObserverReusesCollectors(t *testing.T) {
	reg := promclient.NewRegistry()
	first, err := NewObserver("test", reg)
	if err != nil {
		t.Fatalf("first NewObserver failed: %v", err)
	}
	second, err := NewObserver("test", reg)
	if err != nil {
		t.Fatalf("second NewObserver failed: %v", err)
	}

	second.RecordChanged("r", catsync.ChangeUpdated, &schema.Product{ID: 1})
	if got := testutil.ToFloat64(first.records.WithLabelValues("updated")); got != 1 {
		t.Errorf("expected shared collector, got %v", got)
	}
}

func TestNilObserver(t *testing.T) {
	var obs *Observer
	obs.RecordChanged("r", catsync.ChangeInserted, &schema.Product{})
	obs.AssetSynced("r", "k", catsync.AssetSkipped, nil)
	obs.RunFinished(nil, nil)
}
