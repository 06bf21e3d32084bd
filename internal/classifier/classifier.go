// Package classifier scores notice drafts for IT relevance, either by keyword coverage or by
// asking the oracle for a yes/no judgment.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/tender"
	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

// Mode is the run-wide relevance strategy.
type Mode string

// Supported modes.
const (
	ModeKeyword Mode = "keyword"
	ModeOracle  Mode = "oracle"
)

const (
	oracleYesScore      = 0.8
	oracleNoScore       = 0.2
	oracleFallbackScore = 0.6
	promptTextLimit     = 1500
)

// ErrNoOracle is returned when oracle mode is selected without an oracle.
var ErrNoOracle = errors.New("oracle mode requires an oracle")

var (
	scoreLabel = regexp.MustCompile(`(?i)SCORE\s*:\s*([0-9]*\.?[0-9]+)`)
	yesPrefix  = regexp.MustCompile(`(?i)^\W*(oui|yes)\b`)
)

// Config selects the mode and threshold.
type Config struct {
	Mode      Mode
	Threshold float64
	Keywords  []string
}

// Classifier scores drafts. It is safe for concurrent use.
type Classifier struct {
	mode      Mode
	threshold float64
	keywords  []string
	mu        sync.Mutex // the matcher keeps per-call state
	matcher   *ahocorasick.Matcher
	oracle    tender.Oracle
	logger    *zap.Logger
}

// New builds a Classifier. Keywords are folded the same way as the text they are matched
// against, so "Réseau" matches "reseau" and "ERP" matches "erp".
func New(cfg Config, o tender.Oracle, logger *zap.Logger) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeKeyword
	}
	switch cfg.Mode {
	case ModeKeyword:
	case ModeOracle:
		if o == nil {
			return nil, ErrNoOracle
		}
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Mode)
	}

	c := &Classifier{mode: cfg.Mode, threshold: cfg.Threshold, oracle: o, logger: logger}
	seen := make(map[string]struct{}, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		folded := textnorm.Fold(kw)
		if folded == "" {
			continue
		}
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		c.keywords = append(c.keywords, folded)
	}
	if len(c.keywords) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(c.keywords)
	}
	return c, nil
}

// Classify scores d and reports whether it clears the threshold. The returned draft carries
// the score, the method and, in keyword mode, the matched keywords.
func (c *Classifier) Classify(ctx context.Context, d tender.NoticeDraft) (tender.NoticeDraft, bool) {
	if c.mode == ModeOracle {
		score, method := c.judge(ctx, d)
		d.RelevanceScore = score
		d.ClassificationMethod = method
		return d, score >= c.threshold
	}

	matched := c.Match(d.TenderObject + " " + d.Description)
	score := 0.0
	if len(c.keywords) > 0 {
		score = min(float64(len(matched))/float64(len(c.keywords)), 1)
	}
	d.RelevanceScore = score
	d.Keywords = matched
	d.ClassificationMethod = tender.ClassifiedByRules
	return d, score >= c.threshold
}

// Match returns the configured keywords found in text, each at most once, in keyword order.
func (c *Classifier) Match(text string) []string {
	if c.matcher == nil {
		return nil
	}
	c.mu.Lock()
	hits := c.matcher.Match([]byte(textnorm.Fold(text)))
	c.mu.Unlock()
	found := make(map[int]bool, len(hits))
	for _, h := range hits {
		found[h] = true
	}
	out := make([]string, 0, len(found))
	for i, kw := range c.keywords {
		if found[i] {
			out = append(out, kw)
		}
	}
	return out
}

func (c *Classifier) judge(ctx context.Context, d tender.NoticeDraft) (float64, tender.ClassificationMethod) {
	reply, err := c.oracle.Judge(ctx, relevancePrompt(d))
	if err != nil {
		c.logger.Warn("relevance judgment failed, using fallback score",
			zap.String("draft_id", d.ID),
			zap.Error(err),
		)
		return oracleFallbackScore, tender.ClassifiedByOracleFallback
	}
	return ParseJudgment(reply), tender.ClassifiedByOracle
}

// ParseJudgment reads a yes/no relevance reply. A "SCORE: x" label wins over the yes/no
// default and is clamped to [0,1].
func ParseJudgment(reply string) float64 {
	reply = strings.TrimSpace(reply)
	if m := scoreLabel.FindStringSubmatch(reply); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return max(0, min(1, v))
		}
	}
	if yesPrefix.MatchString(reply) {
		return oracleYesScore
	}
	return oracleNoScore
}

func relevancePrompt(d tender.NoticeDraft) string {
	return fmt.Sprintf(`Cet avis de marché public concerne-t-il l'informatique, le numérique, les télécommunications ou l'ingénierie logicielle ?

Entité : %s
Objet : %s
Description : %s

Réponds sur la première ligne par OUI ou NON, puis sur la deuxième ligne par "SCORE: x" où x est un nombre entre 0 et 1.`,
		d.Entity, d.TenderObject, textnorm.Truncate(d.Description, promptTextLimit))
}
