package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/catalogsync/internal/catalog/schema"
	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
)

// RecordChangeData contains product change information
type RecordChangeData struct {
	RunID     string `json:"run_id"`
	ProductID int64  `json:"product_id"`
	Action    string `json:"action"` // inserted, updated, deleted
	Name      string `json:"name,omitempty"`
	Brand     string `json:"brand,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
}

// AssetSyncedData contains asset outcome information
type AssetSyncedData struct {
	RunID   string `json:"run_id"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"` // uploaded, skipped, failed
	Error   string `json:"error,omitempty"`
}

// RunFinishedData contains run completion information
type RunFinishedData struct {
	RunID         string        `json:"run_id"`
	DryRun        bool          `json:"dry_run,omitempty"`
	Feed          int           `json:"feed"`
	Inserted      int           `json:"inserted"`
	Updated       int           `json:"updated"`
	Unchanged     int           `json:"unchanged"`
	Deleted       int           `json:"deleted"`
	Uploaded      int           `json:"uploaded"`
	Skipped       int           `json:"skipped"`
	FailedUploads []string      `json:"failed_uploads,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// StatsData contains aggregate run statistics
type StatsData struct {
	Runs          int       `json:"runs"`
	FailedRuns    int       `json:"failed_runs"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	LastRunFailed bool      `json:"last_run_failed"`
}

// Handler forwards reconciler events to the dashboard's WebSocket clients.
// It implements sync.Observer.
type Handler struct {
	server *Server
	logger *slog.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server: server,
		logger: logger.With("component", "dashboard"),
	}
}

// RecordChanged implements sync.Observer.
func (h *Handler) RecordChanged(runID string, change catsync.Change, p *schema.Product) {
	h.send(MessageTypeRecordChange, RecordChangeData{
		RunID:     runID,
		ProductID: p.ID,
		Action:    change.String(),
		Name:      p.Name,
		Brand:     p.Brand,
		ImagePath: p.ImagePath,
	})
}

// AssetSynced implements sync.Observer.
func (h *Handler) AssetSynced(runID, key string, outcome catsync.AssetOutcome, err error) {
	data := AssetSyncedData{RunID: runID, Key: key, Outcome: outcome.String()}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeAssetSynced, data)
}

// RunFinished implements sync.Observer.
func (h *Handler) RunFinished(summary *catsync.Summary, err error) {
	data := RunFinishedData{}
	if summary != nil {
		data = RunFinishedData{
			RunID:     summary.RunID,
			DryRun:    summary.DryRun,
			Feed:      summary.Feed,
			Inserted:  len(summary.Inserted),
			Updated:   len(summary.Updated),
			Unchanged: len(summary.Unchanged),
			Deleted:   len(summary.Deleted),
			Uploaded:  len(summary.Uploaded),
			Skipped:   len(summary.Skipped),
			Duration:  summary.Duration(),
		}
		for _, f := range summary.FailedUploads {
			data.FailedUploads = append(data.FailedUploads, f.Key)
		}
	}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeRunFinished, data)

	h.mu.Lock()
	h.stats.Runs++
	if err != nil {
		h.stats.FailedRuns++
	}
	h.stats.LastRunID = data.RunID
	h.stats.LastRunAt = time.Now()
	h.stats.LastRunFailed = err != nil
	stats := h.stats
	h.mu.Unlock()

	h.send(MessageTypeStats, stats)
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) send(typ MessageType, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("failed to marshal message data", "type", typ, "error", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

var _ catsync.Observer = (*Handler)(nil)
