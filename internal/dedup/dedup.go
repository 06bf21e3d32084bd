// Package dedup collapses repeated notices. Drafts are compared in input order against the
// drafts kept so far; the first occurrence of a notice is the canonical one.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/metrics"
	"github.com/JakeFAU/tender-ingest/internal/tender"
	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

// Method selects the duplicate test.
type Method string

// Supported methods.
const (
	HashOnly       Method = "hash_only"
	SimilarityOnly Method = "similarity_only"
	HashSimilarity Method = "hash_similarity"
	OracleOnly     Method = "llm_only"
	Hybrid         Method = "hybrid"
)

const (
	defaultBandFloor = 70
	oracleMinConf    = 0.7
	reasonHash       = "hash"
	reasonSimilarity = "similarity"
	reasonOracle     = "llm"
)

// ErrNoOracle is returned when llm_only is selected without an oracle.
var ErrNoOracle = errors.New("llm_only deduplication requires an oracle")

var (
	duplicateLabel  = regexp.MustCompile(`(?i)DUPLICATE\s*:\s*(yes|no|oui|non)`)
	confidenceLabel = regexp.MustCompile(`(?i)CONFIDENCE\s*:\s*([0-9]*\.?[0-9]+)`)
)

// Config holds the method, the similarity threshold in [0,1] and the hybrid band floor in
// percent.
type Config struct {
	Method    Method
	Threshold float64
	BandFloor float64
}

// Deduplicator applies one Method. It keeps no state between Dedupe calls.
type Deduplicator struct {
	method    Method
	threshold float64 // percent
	floor     float64 // percent
	oracle    tender.Oracle
	logger    *zap.Logger
}

// New builds a Deduplicator. The oracle may be nil except for llm_only; in hybrid mode a nil
// oracle makes the moderate band resolve to not-duplicate.
func New(cfg Config, o tender.Oracle, logger *zap.Logger) (*Deduplicator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Method == "" {
		cfg.Method = HashSimilarity
	}
	switch cfg.Method {
	case HashOnly, SimilarityOnly, HashSimilarity, Hybrid:
	case OracleOnly:
		if o == nil {
			return nil, ErrNoOracle
		}
	default:
		return nil, fmt.Errorf("unknown dedup method %q", cfg.Method)
	}
	floor := cfg.BandFloor
	if floor <= 0 {
		floor = defaultBandFloor
	}
	return &Deduplicator{
		method:    cfg.Method,
		threshold: math.Round(cfg.Threshold*100*1e6) / 1e6,
		floor:     floor,
		oracle:    o,
		logger:    logger,
	}, nil
}

type verdict struct {
	of     string
	reason string
	kind   string
}

// Dedupe splits drafts into kept and collapsed ones. Collapsed drafts carry IsDuplicate,
// DuplicateOfID and DuplicateReason.
func (d *Deduplicator) Dedupe(ctx context.Context, drafts []tender.NoticeDraft) (unique, collapsed []tender.NoticeDraft) {
	seen := make(map[string]string)
	for _, draft := range drafts {
		v, dup := d.check(ctx, draft, unique, seen)
		if !dup {
			draft.IsDuplicate = false
			unique = append(unique, draft)
			if draft.ContentHash != "" {
				if _, ok := seen[draft.ContentHash]; !ok {
					seen[draft.ContentHash] = draft.ID
				}
			}
			continue
		}
		draft.IsDuplicate = true
		draft.DuplicateOfID = v.of
		draft.DuplicateReason = v.reason
		metrics.ObserveDuplicate(v.kind)
		d.logger.Debug("duplicate collapsed",
			zap.String("draft_id", draft.ID),
			zap.String("duplicate_of", v.of),
			zap.String("reason", v.reason),
		)
		collapsed = append(collapsed, draft)
	}
	return unique, collapsed
}

func (d *Deduplicator) check(ctx context.Context, draft tender.NoticeDraft, kept []tender.NoticeDraft, seen map[string]string) (verdict, bool) {
	useHash := d.method == HashOnly || d.method == HashSimilarity || d.method == Hybrid
	if useHash && draft.ContentHash != "" {
		if id, ok := seen[draft.ContentHash]; ok {
			return verdict{of: id, reason: reasonHash, kind: reasonHash}, true
		}
	}

	switch d.method {
	case SimilarityOnly, HashSimilarity:
		return d.similar(draft, kept)
	case Hybrid:
		if v, ok := d.similar(draft, kept); ok {
			return v, true
		}
		return d.band(ctx, draft, kept)
	case OracleOnly:
		for _, k := range kept {
			if conf, ok := d.ask(ctx, draft, k); ok {
				return oracleVerdict(k.ID, conf), true
			}
		}
	}
	return verdict{}, false
}

func (d *Deduplicator) similar(draft tender.NoticeDraft, kept []tender.NoticeDraft) (verdict, bool) {
	text := draft.SimilarityText()
	for _, k := range kept {
		r := Ratio(text, k.SimilarityText())
		if r >= d.threshold {
			return verdict{
				of:     k.ID,
				reason: reasonSimilarity + ":" + strconv.FormatFloat(r, 'f', 1, 64),
				kind:   reasonSimilarity,
			}, true
		}
	}
	return verdict{}, false
}

// band asks the oracle about every kept draft in the moderate similarity band.
func (d *Deduplicator) band(ctx context.Context, draft tender.NoticeDraft, kept []tender.NoticeDraft) (verdict, bool) {
	if d.oracle == nil {
		return verdict{}, false
	}
	text := draft.SimilarityText()
	for _, k := range kept {
		r := Ratio(text, k.SimilarityText())
		if r < d.floor || r >= d.threshold {
			continue
		}
		if conf, ok := d.ask(ctx, draft, k); ok {
			return oracleVerdict(k.ID, conf), true
		}
	}
	return verdict{}, false
}

func oracleVerdict(of string, conf float64) verdict {
	return verdict{of: of, reason: reasonOracle + ":" + strconv.FormatFloat(conf, 'f', 2, 64), kind: reasonOracle}
}

// ask returns the oracle's confidence when it judges a and b to be the same notice.
func (d *Deduplicator) ask(ctx context.Context, a, b tender.NoticeDraft) (float64, bool) {
	reply, err := d.oracle.Judge(ctx, pairPrompt(a, b))
	if err != nil {
		d.logger.Warn("duplicate judgment failed, treating as distinct",
			zap.String("draft_id", a.ID),
			zap.String("candidate_id", b.ID),
			zap.Error(err),
		)
		return 0, false
	}
	dup, conf := ParsePairReply(reply)
	return conf, dup && conf > oracleMinConf
}

// ParsePairReply reads a "DUPLICATE: yes|no / CONFIDENCE: x" reply.
func ParsePairReply(reply string) (duplicate bool, confidence float64) {
	if m := duplicateLabel.FindStringSubmatch(reply); m != nil {
		v := strings.ToLower(m[1])
		duplicate = v == "yes" || v == "oui"
	}
	if m := confidenceLabel.FindStringSubmatch(reply); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = max(0, min(1, v))
		}
	}
	return duplicate, confidence
}

func pairPrompt(a, b tender.NoticeDraft) string {
	describe := func(d tender.NoticeDraft) string {
		return fmt.Sprintf("Entité : %s\nRéférence : %s\nObjet : %s\nDate limite : %s\nDescription : %s",
			d.Entity, d.Reference, d.TenderObject, d.Deadline, textnorm.Truncate(d.Description, 500))
	}
	return "Ces deux avis décrivent-ils le même marché public ?\n\nAVIS A\n" + describe(a) +
		"\n\nAVIS B\n" + describe(b) +
		"\n\nRéponds exactement au format :\nDUPLICATE: yes ou no\nCONFIDENCE: nombre entre 0 et 1\nREASON: une phrase"
}
