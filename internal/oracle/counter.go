package oracle

import (
	"context"
	"sync/atomic"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// Counter decorates an Oracle with call and failure counts. The pipeline reads the counts
// at the start and end of a run to report per-run totals.
type Counter struct {
	next     tender.Oracle
	calls    atomic.Int64
	failures atomic.Int64
}

// NewCounter wraps next. It returns nil when next is nil so callers keep their
// oracle-disabled behavior.
func NewCounter(next tender.Oracle) *Counter {
	if next == nil {
		return nil
	}
	return &Counter{next: next}
}

// Extract implements tender.Oracle.
func (c *Counter) Extract(ctx context.Context, text, label string) (tender.Extraction, error) {
	ext, err := c.next.Extract(ctx, text, label)
	c.count(err)
	return ext, err
}

// Judge implements tender.Oracle.
func (c *Counter) Judge(ctx context.Context, prompt string) (string, error) {
	reply, err := c.next.Judge(ctx, prompt)
	c.count(err)
	return reply, err
}

// Counts returns the totals so far.
func (c *Counter) Counts() (calls, failures int64) {
	if c == nil {
		return 0, 0
	}
	return c.calls.Load(), c.failures.Load()
}

func (c *Counter) count(err error) {
	c.calls.Add(1)
	if err != nil {
		c.failures.Add(1)
	}
}
