// Package metrics exports reconciliation metrics to Prometheus.
package metrics

import (
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/steveyegge/catalogsync/internal/catalog/schema"
	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
)

// Run outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Observer turns reconciler events into Prometheus metrics.
type Observer struct {
	runs        *promclient.CounterVec
	runDuration promclient.Histogram
	records     *promclient.CounterVec
	assets      *promclient.CounterVec
	feedSize    promclient.Gauge
	lastSuccess promclient.Gauge
}

// NewObserver registers the reconciliation metrics with reg
// (default: the global registerer). Registering twice reuses the existing
// collectors.
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "catalogsync"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &Observer{
		runs: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by outcome.",
		}, []string{"outcome"}),
		runDuration: promclient.NewHistogram(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of reconciliation runs.",
			Buckets:   promclient.ExponentialBuckets(0.05, 2, 12),
		}),
		records: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "records_changed_total",
			Help:      "Catalog records written by kind of change.",
		}, []string{"change"}),
		assets: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "assets_total",
			Help:      "Asset keys processed by outcome.",
		}, []string{"outcome"}),
		feedSize: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_records",
			Help:      "Number of records in the last accepted feed.",
		}),
		lastSuccess: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last run without errors finished.",
		}),
	}

	var err error
	if o.runs, err = register(reg, o.runs); err != nil {
		return nil, err
	}
	if o.runDuration, err = register(reg, o.runDuration); err != nil {
		return nil, err
	}
	if o.records, err = register(reg, o.records); err != nil {
		return nil, err
	}
	if o.assets, err = register(reg, o.assets); err != nil {
		return nil, err
	}
	if o.feedSize, err = register(reg, o.feedSize); err != nil {
		return nil, err
	}
	if o.lastSuccess, err = register(reg, o.lastSuccess); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, returning the already registered collector when an
// identical one exists.
func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// RecordChanged implements sync.Observer.
func (o *Observer) RecordChanged(runID string, change catsync.Change, p *schema.Product) {
	if o == nil {
		return
	}
	o.records.WithLabelValues(change.String()).Inc()
}

// AssetSynced implements sync.Observer.
func (o *Observer) AssetSynced(runID, key string, outcome catsync.AssetOutcome, err error) {
	if o == nil {
		return
	}
	o.assets.WithLabelValues(outcome.String()).Inc()
}

// RunFinished implements sync.Observer.
func (o *Observer) RunFinished(summary *catsync.Summary, err error) {
	if o == nil {
		return
	}

	outcome := OutcomeSuccess
	switch {
	case err != nil:
		outcome = OutcomeFailed
	case summary != nil && len(summary.FailedUploads) > 0:
		outcome = OutcomePartial
	}
	o.runs.WithLabelValues(outcome).Inc()

	if summary == nil {
		return
	}
	o.runDuration.Observe(summary.Duration().Seconds())
	if err == nil {
		o.feedSize.Set(float64(summary.Feed))
		if outcome == OutcomeSuccess && !summary.DryRun {
			o.lastSuccess.Set(float64(summary.FinishedAt.Unix()))
		}
	}
}

var _ catsync.Observer = (*Observer)(nil)
