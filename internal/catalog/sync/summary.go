package sync

import (
	"fmt"
	"time"
)

// AssetFailure describes one asset key that could not be synced.
type AssetFailure struct {
	Key        string  `json:"key" toml:"key"`
	ProductIDs []int64 `json:"product_ids" toml:"product_ids"`
	Reason     string  `json:"reason" toml:"reason"`

	// Err is the *gateway.AssetUploadError behind Reason.
	Err error `json:"-" toml:"-"`
}

// Summary reports what one reconciliation run did.
type Summary struct {
	RunID      string    `json:"run_id" toml:"run_id"`
	StartedAt  time.Time `json:"started_at" toml:"started_at"`
	FinishedAt time.Time `json:"finished_at" toml:"finished_at"`
	DryRun     bool      `json:"dry_run" toml:"dry_run"`

	// Feed is the number of records in the snapshot.
	Feed int `json:"feed" toml:"feed"`

	Inserted  []int64 `json:"inserted" toml:"inserted"`
	Updated   []int64 `json:"updated" toml:"updated"`
	Unchanged []int64 `json:"unchanged" toml:"unchanged"`
	Deleted   []int64 `json:"deleted" toml:"deleted"`

	// Uploaded and Skipped list asset keys in feed order.
	Uploaded      []string       `json:"uploaded" toml:"uploaded"`
	Skipped       []string       `json:"skipped" toml:"skipped"`
	FailedUploads []AssetFailure `json:"failed_uploads" toml:"failed_uploads"`
}

// Duration returns how long the run took.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Changed reports whether the run mutated the catalog or the asset store.
func (s *Summary) Changed() bool {
	return len(s.Inserted)+len(s.Updated)+len(s.Deleted)+len(s.Uploaded) > 0
}

// String returns a one-line count summary.
func (s *Summary) String() string {
	return fmt.Sprintf("inserted=%d updated=%d unchanged=%d deleted=%d uploaded=%d skipped=%d failed_uploads=%d",
		len(s.Inserted), len(s.Updated), len(s.Unchanged), len(s.Deleted),
		len(s.Uploaded), len(s.Skipped), len(s.FailedUploads))
}
