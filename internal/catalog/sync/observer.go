package sync

import "github.com/steveyegge/catalogsync/internal/catalog/schema"

// Change is the kind of catalog mutation applied to one record.
type Change int

const (
	// ChangeInserted indicates a record was created.
	ChangeInserted Change = iota
	// ChangeUpdated indicates a stored record was overwritten.
	ChangeUpdated
	// ChangeDeleted indicates a stored record was removed.
	ChangeDeleted
)

// String returns a human-readable representation of the change.
func (c Change) String() string {
	switch c {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// AssetOutcome is the result of syncing one asset key.
type AssetOutcome int

const (
	// AssetUploaded indicates the asset was missing and has been uploaded
	// (or, in a dry run, would be).
	AssetUploaded AssetOutcome = iota
	// AssetSkipped indicates the asset already existed.
	AssetSkipped
	// AssetFailed indicates the existence check or upload failed.
	AssetFailed
)

// String returns a human-readable representation of the outcome.
func (o AssetOutcome) String() string {
	switch o {
	case AssetUploaded:
		return "uploaded"
	case AssetSkipped:
		return "skipped"
	case AssetFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer receives reconciliation events. Methods may be called from several
// goroutines at once and must not block for long.
type Observer interface {
	// RecordChanged is called after each applied record mutation. For
	// deletions only p.ID is set.
	RecordChanged(runID string, change Change, p *schema.Product)

	// AssetSynced is called once per distinct asset key.
	AssetSynced(runID, key string, outcome AssetOutcome, err error)

	// RunFinished is called exactly once per run, including rejected and
	// failed runs.
	RunFinished(summary *Summary, err error)
}

// BaseObserver implements Observer with no-ops. Embed it to handle only some events.
type BaseObserver struct{}

func (BaseObserver) RecordChanged(string, Change, *schema.Product)  {}
func (BaseObserver) AssetSynced(string, string, AssetOutcome, error) {}
func (BaseObserver) RunFinished(*Summary, error)                     {}

// observers fans events out to several observers.
type observers []Observer

func (obs observers) RecordChanged(runID string, change Change, p *schema.Product) {
	for _, o := range obs {
		o.RecordChanged(runID, change, p)
	}
}

func (obs observers) AssetSynced(runID, key string, outcome AssetOutcome, err error) {
	for _, o := range obs {
		o.AssetSynced(runID, key, outcome, err)
	}
}

func (obs observers) RunFinished(summary *Summary, err error) {
	for _, o := range obs {
		o.RunFinished(summary, err)
	}
}
