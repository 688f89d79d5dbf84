package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
)

// Run outcomes recorded in the state file.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// FailedUpload names one asset key that failed in the last run.
type FailedUpload struct {
	Key    string `toml:"key"`
	Reason string `toml:"reason"`
}

// RunState is the persisted record of the most recent run.
type RunState struct {
	RunID      string    `toml:"run_id"`
	Reason     string    `toml:"reason"`
	Outcome    string    `toml:"outcome"`
	Error      string    `toml:"error,omitempty"`
	StartedAt  time.Time `toml:"started_at"`
	FinishedAt time.Time `toml:"finished_at"`
	NextRun    time.Time `toml:"next_run"`

	Feed      int `toml:"feed"`
	Inserted  int `toml:"inserted"`
	Updated   int `toml:"updated"`
	Unchanged int `toml:"unchanged"`
	Deleted   int `toml:"deleted"`
	Uploaded  int `toml:"uploaded"`
	Skipped   int `toml:"skipped"`

	FailedUploads []FailedUpload `toml:"failed_uploads"`
}

// NewRunState summarizes a finished run.
func NewRunState(reason string, summary *catsync.Summary, err error) *RunState {
	st := &RunState{Reason: reason, Outcome: OutcomeSuccess}
	if summary != nil {
		st.RunID = summary.RunID
		st.StartedAt = summary.StartedAt
		st.FinishedAt = summary.FinishedAt
		st.Feed = summary.Feed
		st.Inserted = len(summary.Inserted)
		st.Updated = len(summary.Updated)
		st.Unchanged = len(summary.Unchanged)
		st.Deleted = len(summary.Deleted)
		st.Uploaded = len(summary.Uploaded)
		st.Skipped = len(summary.Skipped)
		for _, f := range summary.FailedUploads {
			st.FailedUploads = append(st.FailedUploads, FailedUpload{Key: f.Key, Reason: f.Reason})
		}
		if len(st.FailedUploads) > 0 {
			st.Outcome = OutcomePartial
		}
	}
	if err != nil {
		st.Outcome = OutcomeFailed
		st.Error = err.Error()
	}
	return st
}

// WriteState atomically replaces the state file at path.
func WriteState(path string, st *RunState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(st); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// ReadState loads the state file at path. A missing file yields an error
// wrapping os.ErrNotExist.
func ReadState(path string) (*RunState, error) {
	var st RunState
	if _, err := toml.DecodeFile(path, &st); err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	return &st, nil
}
