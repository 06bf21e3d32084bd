// Package parser turns discovered links into normalized notice drafts. HTML pages and listing
// records map to one draft each; bulletin PDFs are segmented on reference-number boundaries,
// and RAG PDFs are split into windows sent to the extraction oracle.
package parser

import (
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/oracle"
	"github.com/JakeFAU/tender-ingest/internal/pdftext"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// RAG modes.
const (
	ModeDirect    = "direct"
	ModeRetrieval = "retrieval"
)

// ErrUnsupportedLink is returned for a Link variant the parser does not know.
var ErrUnsupportedLink = errors.New("unsupported link kind")

// Config tunes RAG windowing and the oracle fan-out.
type Config struct {
	RAGMode        string
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	Query          string
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.RAGMode == "" {
		c.RAGMode = ModeDirect
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 0
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	return c
}

// Parser converts links into drafts. It is safe for concurrent use.
type Parser struct {
	cfg      Config
	text     pdftext.TextExtractor
	oracle   tender.Oracle
	embedder oracle.Embedder
	hasher   tender.Hasher
	logger   *zap.Logger
}

// New builds a Parser. A nil oracle disables RAG extraction and oracle segmentation; a nil
// embedder falls back to the hashing embedder.
func New(cfg Config, text pdftext.TextExtractor, o tender.Oracle, emb oracle.Embedder, hasher tender.Hasher, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emb == nil {
		emb = oracle.HashingEmbedder{}
	}
	return &Parser{
		cfg:      cfg.withDefaults(),
		text:     text,
		oracle:   o,
		embedder: emb,
		hasher:   hasher,
		logger:   logger,
	}
}

// Parse returns the drafts found behind link. item carries the owning source and, for a
// PlainURL, the fetched page. HTML pages always yield one draft, however sparse.
//
// When some oracle windows fail, Parse returns the drafts of the successful windows together
// with a *WindowError.
func (p *Parser) Parse(ctx context.Context, link tender.Link, item tender.FetchResult) ([]tender.NoticeDraft, error) {
	var (
		drafts []tender.NoticeDraft
		err    error
	)
	switch l := link.(type) {
	case tender.PlainURL:
		if item.IsPDF() {
			drafts, err = p.parseBulletin(ctx, item.Source, tender.QuotidienPDF{
				URL:      string(l),
				Filename: path.Base(string(l)),
				Payload:  item.Payload,
			})
			break
		}
		drafts = []tender.NoticeDraft{parseHTML(item.Source, string(l), item.Payload)}
	case tender.QuotidienPDF:
		drafts, err = p.parseBulletin(ctx, item.Source, l)
	case tender.RagPDF:
		drafts, err = p.parseRAG(ctx, item.Source, l)
	case tender.ListingRecord:
		drafts = []tender.NoticeDraft{parseRecord(item.Source, l)}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedLink, link)
	}

	var werr *WindowError
	if err != nil && !errors.As(err, &werr) {
		return nil, err
	}
	if ferr := p.finish(drafts); ferr != nil {
		return nil, ferr
	}
	return drafts, err
}

// finish fills ContentHash and missing IDs in place.
func (p *Parser) finish(drafts []tender.NoticeDraft) error {
	if p.hasher == nil {
		return nil
	}
	for i := range drafts {
		d := &drafts[i]
		if in := d.FingerprintInput(); in != nil {
			sum, err := p.hasher.Hash(in)
			if err != nil {
				return fmt.Errorf("fingerprint draft: %w", err)
			}
			d.ContentHash = sum
		}
		if d.ID == "" {
			sum, err := p.hasher.Hash([]byte(fmt.Sprintf("%s#%d", d.SourceURL, i)))
			if err != nil {
				return fmt.Errorf("draft id: %w", err)
			}
			if len(sum) > 16 {
				sum = sum[:16]
			}
			d.ID = sum
		}
	}
	return nil
}

func sourceMeta(src *tender.Source) (name, parserType string) {
	if src == nil {
		return "", ""
	}
	return src.Name, string(src.Strategy)
}
