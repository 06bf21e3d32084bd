package tender

import (
	"strings"
	"time"
)

// Strategy names the parser strategy a source is processed with.
type Strategy string

// Supported parser strategies.
const (
	StrategyHTML         Strategy = "html"
	StrategyHTMLPDFMixed Strategy = "html-pdf-mixed"
	StrategyPDF          Strategy = "pdf"
	StrategyPDFBulletin  Strategy = "pdf-bulletin"
	StrategyPDFRAG       Strategy = "pdf-rag"
	StrategyHTMLListing  Strategy = "html-listing"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyHTML, StrategyHTMLPDFMixed, StrategyPDF, StrategyPDFBulletin, StrategyPDFRAG, StrategyHTMLListing:
		return true
	default:
		return false
	}
}

// Source describes one monitored publication point. It is immutable for the duration of a run.
type Source struct {
	Name       string            `yaml:"name" json:"name"`
	BaseURL    string            `yaml:"base_url" json:"base_url"`
	ListingURL string            `yaml:"list_url" json:"list_url"`
	Strategy   Strategy          `yaml:"parser" json:"parser"`
	RateLimit  string            `yaml:"rate_limit" json:"rate_limit"`
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	Hints      map[string]string `yaml:"hints" json:"hints,omitempty"`
}

// Hint returns the first non-empty structural hint among keys.
func (s Source) Hint(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(s.Hints[k]); v != "" {
			return v
		}
	}
	return ""
}

// FetchStatus is the settled state of one fetch.
type FetchStatus string

// Fetch outcomes.
const (
	FetchOK     FetchStatus = "ok"
	FetchFailed FetchStatus = "failed"
)

// FailureKind classifies why a fetch failed.
type FailureKind string

// Failure kinds reported by the fetcher.
const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureDisallowed  FailureKind = "disallowed"
	FailureRateLimited FailureKind = "rate_limited"
	FailureHTTPStatus  FailureKind = "http_status"
	FailureNetwork     FailureKind = "network"
	FailureCanceled    FailureKind = "canceled"
	FailureTooLarge    FailureKind = "too_large"
	FailureResolve     FailureKind = "resolve"
)

// FetchRequest asks the fetcher for one URL.
type FetchRequest struct {
	Source  *Source
	URL     string
	Guarded bool
}

// Document is a downloaded bulletin attached to a listing result.
type Document struct {
	URL      string
	Title    string
	Filename string
	Payload  []byte
}

// FetchResult is the settled outcome of one request. It is created once and never mutated;
// WithDocument and WithRecords return copies.
type FetchResult struct {
	Source      *Source
	URL         string
	Payload     []byte
	ContentType string
	Status      FetchStatus
	Failure     FailureKind
	StatusCode  int
	Err         string
	FetchedAt   time.Time
	SizeBytes   int

	Document *Document
	Records  []ListingRecord
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool { return r.Status == FetchOK }

// SourceName returns the owning source name or an empty string.
func (r FetchResult) SourceName() string {
	if r.Source == nil {
		return ""
	}
	return r.Source.Name
}

// IsPDF reports whether the payload looks like a PDF document.
func (r FetchResult) IsPDF() bool {
	if strings.Contains(strings.ToLower(r.ContentType), "pdf") {
		return true
	}
	return len(r.Payload) >= 5 && string(r.Payload[:5]) == "%PDF-"
}

// WithDocument returns a copy of r carrying doc.
func (r FetchResult) WithDocument(doc Document) FetchResult {
	r.Document = &doc
	return r
}

// WithRecords returns a copy of r carrying records.
func (r FetchResult) WithRecords(records []ListingRecord) FetchResult {
	r.Records = append([]ListingRecord(nil), records...)
	return r
}

// AsFailed returns a failed copy of r.
func (r FetchResult) AsFailed(kind FailureKind, msg string) FetchResult {
	r.Status = FetchFailed
	r.Failure = kind
	r.Err = msg
	return r
}

// ClassificationMethod records how a relevance score was produced.
type ClassificationMethod string

// Classification methods.
const (
	ClassifiedByRules          ClassificationMethod = "rules"
	ClassifiedByOracle         ClassificationMethod = "llm"
	ClassifiedByOracleFallback ClassificationMethod = "llm_fallback"
)

// NoticeDraft is one normalized procurement notice.
type NoticeDraft struct {
	ID                   string               `json:"id"`
	SourceName           string               `json:"source_name"`
	SourceURL            string               `json:"source_url"`
	ParserType           string               `json:"parser_type"`
	Type                 string               `json:"type"`
	Entity               string               `json:"entity"`
	Reference            string               `json:"reference"`
	TenderObject         string               `json:"tender_object"`
	Description          string               `json:"description"`
	Category             string               `json:"category"`
	Deadline             string               `json:"deadline"`
	Location             string               `json:"location"`
	Budget               string               `json:"budget"`
	PublishedAt          string               `json:"published_at,omitempty"`
	Keywords             []string             `json:"keywords"`
	RelevanceScore       float64              `json:"relevance_score"`
	Confidence           float64              `json:"confidence,omitempty"`
	ClassificationMethod ClassificationMethod `json:"classification_method"`
	ContentHash          string               `json:"content_hash"`
	IsDuplicate          bool                 `json:"is_duplicate"`
	DuplicateOfID        string               `json:"duplicate_of_id,omitempty"`
	DuplicateReason      string               `json:"duplicate_reason,omitempty"`
}

// FingerprintInput returns the entity, reference, object and deadline hashed into ContentHash,
// or nil when none of them carry a value. The notice type is left out so that one tender
// announced under different types still collapses.
func (d NoticeDraft) FingerprintInput() []byte {
	fields := []string{d.Entity, d.Reference, d.TenderObject, d.Deadline}
	empty := true
	for i, f := range fields {
		fields[i] = foldSpace(f)
		if fields[i] != "" {
			empty = false
		}
	}
	if empty {
		return nil
	}
	return []byte(strings.Join(fields, "|"))
}

// SimilarityText is the text compared by fuzzy duplicate detection.
func (d NoticeDraft) SimilarityText() string {
	if s := foldSpace(d.TenderObject); s != "" {
		return s
	}
	return foldSpace(d.Description)
}

func foldSpace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
