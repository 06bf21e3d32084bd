package tender

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a batch of URLs. It returns exactly one result per request.
type Fetcher interface {
	FetchAll(ctx context.Context, requests []FetchRequest) []FetchResult
}

// RateGuard is the per-host fetch policy consulted before guarded fetches. Wait blocks for
// the host's next slot, spacing requests at least minInterval apart, and fails without
// blocking when the slot lies beyond the context deadline.
type RateGuard interface {
	Allowed(ctx context.Context, rawURL, agent string) bool
	CrawlDelay(ctx context.Context, rawURL, agent string) (time.Duration, bool)
	Wait(ctx context.Context, rawURL string, minInterval time.Duration) error
}

// Candidate is one structured notice returned by the extraction oracle.
type Candidate struct {
	Type           string   `json:"type"`
	Entity         string   `json:"entity"`
	Reference      string   `json:"reference"`
	TenderObject   string   `json:"tender_object"`
	Deadline       string   `json:"deadline"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Keywords       []string `json:"keywords"`
	RelevanceScore float64  `json:"relevance_score"`
	Budget         string   `json:"budget"`
	Location       string   `json:"location"`
	SourceURL      string   `json:"source_url"`
}

// Extraction is the oracle's answer to one extract call.
type Extraction struct {
	Candidates     []Candidate `json:"tenders"`
	TotalExtracted int         `json:"total_extracted"`
	Confidence     float64     `json:"confidence"`
}

// Oracle is the external text-understanding capability. Every call may fail.
type Oracle interface {
	Extract(ctx context.Context, text, label string) (Extraction, error)
	Judge(ctx context.Context, prompt string) (string, error)
}

// BlobStore persists opaque artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// SnapshotStore keeps raw fetched payloads for audit. It is write-only from the core.
type SnapshotStore interface {
	StoreSnapshot(ctx context.Context, payload []byte, sourceName, url, runID, contentType string) (string, error)
}

// RunStatus is the ledger status of a run.
type RunStatus string

// Run statuses.
const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// RunRecord is one run ledger row.
type RunRecord struct {
	ID           string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
	CountersJSON []byte
	ErrorMessage string
}

// RunLedger records run progress.
type RunLedger interface {
	UpsertRun(ctx context.Context, rec RunRecord) error
}

// Publisher hands the final run payload to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SourceHealth tracks the last success and failure of each source.
type SourceHealth interface {
	RecordSuccess(ctx context.Context, source string, at time.Time) error
	RecordFailure(ctx context.Context, source string, at time.Time, message string) error
}

// Hasher produces content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
