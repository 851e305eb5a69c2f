package scheduler

import (
	"context"
	"time"

	"jobwatch/internal/domain"
	"jobwatch/internal/storage"
)

const runRecordKey = "engine:run"

// runRecord is the persisted form of an active run. It exists only while the
// engine is Running. The credential is not stored.
type runRecord struct {
	RunID     string              `json:"runId"`
	Config    domain.FilterConfig `json:"config"`
	FeedIndex int                 `json:"feedIndex"`
	StartedAt time.Time           `json:"startedAt"`
}

func (e *Engine) saveRecord(ctx context.Context) {
	rec := runRecord{
		RunID:     e.runID,
		Config:    e.cfg,
		FeedIndex: e.feedIndex,
		StartedAt: e.startedAt,
	}
	if err := storage.SetJSON(ctx, e.kv, runRecordKey, rec); err != nil {
		e.logger.Warn("failed to persist run record", "run_id", e.runID, "error", err)
	}
}

func (e *Engine) loadRecord(ctx context.Context) (*runRecord, error) {
	var rec runRecord
	found, err := storage.GetJSON(ctx, e.kv, runRecordKey, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (e *Engine) removeRecord(ctx context.Context) error {
	return e.kv.Remove(ctx, runRecordKey)
}
