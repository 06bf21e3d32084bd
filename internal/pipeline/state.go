package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/JakeFAU/tender-ingest/internal/links"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// Stage names, in execution order.
const (
	StageLoadSources   = "loadSources"
	StageFetchListings = "fetchListings"
	StageExtractLinks  = "extractLinks"
	StageFetchItems    = "fetchItems"
	StageParseExtract  = "parseExtract"
	StageClassify      = "classify"
	StageDedupe        = "dedupe"
	StageHandoff       = "handoff"
	StageErrorHandler  = "errorHandler"
)

// PipelineError is one recorded failure. Errors accumulate; only ShouldContinue=false stops
// a run.
type PipelineError struct {
	Stage   string            `json:"stage"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
	At      time.Time         `json:"at"`
}

// Item is a discovered link ready for parsing. For a PlainURL, Result holds the fetched page;
// structured links carry their payload themselves and Result only names the source.
type Item struct {
	Link   tender.Link
	Result tender.FetchResult
}

// RunStats are the per-run counters written to the ledger.
type RunStats struct {
	SourcesChecked    int                `json:"sources_checked"`
	ListingsFetched   int                `json:"listings_fetched"`
	ListingsFailed    int                `json:"listings_failed"`
	LinksDiscovered   int                `json:"links_discovered"`
	ItemsFetched      int                `json:"items_fetched"`
	ItemsFailed       int                `json:"items_failed"`
	NoticesParsed     int                `json:"notices_parsed"`
	NoticesRelevant   int                `json:"notices_relevant"`
	NoticesUnique     int                `json:"notices_unique"`
	DuplicatesRemoved int                `json:"duplicates_removed"`
	OracleCalls       int64              `json:"oracle_calls"`
	OracleFailures    int64              `json:"oracle_failures"`
	StageSeconds      map[string]float64 `json:"stage_seconds"`
}

// RunState is threaded through every stage. Stages return an updated copy; Errors is
// append-only.
type RunState struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     tender.RunStatus

	Sources          []tender.Source
	ListingResults   []tender.FetchResult
	DiscoveredLinks  []links.Discovered
	RawItems         []Item
	ParsedNotices    []tender.NoticeDraft
	RelevantNotices  []tender.NoticeDraft
	UniqueNotices    []tender.NoticeDraft
	CollapsedNotices []tender.NoticeDraft

	Errors         []PipelineError
	ShouldContinue bool
	Stats          RunStats
}

// Payload is the handoff message published at the end of a successful run.
type Payload struct {
	RunID     string               `json:"run_id"`
	Status    tender.RunStatus     `json:"status"`
	StartedAt time.Time            `json:"started_at"`
	Finished  time.Time            `json:"finished_at"`
	Stats     RunStats             `json:"stats"`
	Notices   []tender.NoticeDraft `json:"notices"`
	Errors    []PipelineError      `json:"errors"`
}

// Payload returns the handoff message for the state. FinishedAt must be set.
func (s RunState) Payload() Payload {
	p := Payload{
		RunID:     s.RunID,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		Stats:     s.Stats,
		Notices:   s.UniqueNotices,
		Errors:    s.Errors,
	}
	if s.FinishedAt != nil {
		p.Finished = *s.FinishedAt
	}
	return p
}

func (s *RunState) addError(stage, message string, at time.Time, kv ...string) {
	var ctx map[string]string
	if len(kv) > 1 {
		ctx = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			ctx[kv[i]] = kv[i+1]
		}
	}
	s.Errors = append(s.Errors, PipelineError{Stage: stage, Message: message, Context: ctx, At: at})
}

// fail records a fatal error and stops the stage sequence.
func (s *RunState) fail(stage, message string, at time.Time, kv ...string) {
	s.addError(stage, message, at, kv...)
	s.ShouldContinue = false
}

func (s RunState) record() tender.RunRecord {
	counters, err := json.Marshal(s.Stats)
	if err != nil {
		counters = []byte("{}")
	}
	return tender.RunRecord{
		ID:           s.RunID,
		Status:       s.Status,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		CountersJSON: counters,
		ErrorMessage: s.errorMessage(),
	}
}

func (s RunState) errorMessage() string {
	if len(s.Errors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		msgs = append(msgs, e.Stage+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}
