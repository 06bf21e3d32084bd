package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// RunLedger keeps run rows in memory for development and tests.
type RunLedger struct {
	mu    sync.RWMutex
	order []string
	runs  map[string]tender.RunRecord
}

// NewRunLedger constructs an empty RunLedger.
func NewRunLedger() *RunLedger {
	return &RunLedger{runs: make(map[string]tender.RunRecord)}
}

// UpsertRun stores rec, keeping the StartedAt of the first write.
func (l *RunLedger) UpsertRun(_ context.Context, rec tender.RunRecord) error {
	if rec.ID == "" {
		return errors.New("run id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.runs[rec.ID]; ok {
		rec.StartedAt = prev.StartedAt
	} else {
		l.order = append(l.order, rec.ID)
	}
	rec.CountersJSON = append([]byte(nil), rec.CountersJSON...)
	l.runs[rec.ID] = rec
	return nil
}

// LastRun returns the most recently inserted run.
func (l *RunLedger) LastRun(_ context.Context) (tender.RunRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.order) == 0 {
		return tender.RunRecord{}, tender.ErrRunNotFound
	}
	return l.runs[l.order[len(l.order)-1]], nil
}

// Run returns the stored row for id.
func (l *RunLedger) Run(id string) (tender.RunRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.runs[id]
	return rec, ok
}
