package parser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/oracle"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

var splitSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// WindowError reports oracle windows that failed while others succeeded or all failed.
type WindowError struct {
	URL    string
	Failed int
	Total  int
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%s: %d of %d oracle windows failed: %v", e.URL, e.Failed, e.Total, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }

// Window is one oracle-sized slice of a document. Index is 1-based and stable.
type Window struct {
	Index int
	Text  string
}

func (p *Parser) parseRAG(ctx context.Context, src *tender.Source, doc tender.RagPDF) ([]tender.NoticeDraft, error) {
	if p.text == nil {
		return nil, fmt.Errorf("rag %s: no text extractor configured", doc.URL)
	}
	if p.oracle == nil {
		return nil, fmt.Errorf("rag %s: %w", doc.URL, oracle.ErrDisabled)
	}
	text, err := p.text.ExtractText(ctx, doc.Payload)
	if err != nil {
		return nil, fmt.Errorf("rag %s: %w", doc.URL, err)
	}

	windows := p.split(text)
	if p.cfg.RAGMode == ModeRetrieval {
		windows, err = p.retrieve(ctx, windows)
		if err != nil {
			return nil, fmt.Errorf("rag %s: %w", doc.URL, err)
		}
	}
	label := doc.SourceName
	if label == "" {
		label, _ = sourceMeta(src)
	}
	p.logger.Info("rag windows prepared",
		zap.String("url", doc.URL),
		zap.String("mode", p.cfg.RAGMode),
		zap.Int("windows", len(windows)),
	)
	drafts, err := p.extractWindows(ctx, src, doc.URL, label, windows)
	published := publishedFromTitle(doc.Title)
	for i := range drafts {
		drafts[i].PublishedAt = published
	}
	return drafts, err
}

func (p *Parser) split(text string) []Window {
	chunks := SplitText(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	out := make([]Window, len(chunks))
	for i, c := range chunks {
		out[i] = Window{Index: i + 1, Text: c}
	}
	return out
}

// retrieve keeps the TopK windows closest to the configured query, in document order.
func (p *Parser) retrieve(ctx context.Context, windows []Window) ([]Window, error) {
	if len(windows) <= p.cfg.TopK {
		return windows, nil
	}
	texts := make([]string, 0, len(windows)+1)
	texts = append(texts, p.cfg.Query)
	for _, w := range windows {
		texts = append(texts, w.Text)
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed windows: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed windows: got %d vectors for %d texts", len(vecs), len(texts))
	}

	type scored struct {
		window Window
		score  float64
	}
	ranked := make([]scored, len(windows))
	for i, w := range windows {
		ranked[i] = scored{window: w, score: oracle.Cosine(vecs[0], vecs[i+1])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top := make([]Window, 0, p.cfg.TopK)
	for _, r := range ranked[:p.cfg.TopK] {
		top = append(top, r.window)
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Index < top[j].Index })
	return top, nil
}

type windowResult struct {
	drafts []tender.NoticeDraft
	err    error
}

// extractWindows sends every window to the oracle with bounded concurrency. Results are
// merged by window position, never by completion order.
func (p *Parser) extractWindows(ctx context.Context, src *tender.Source, docURL, label string, windows []Window) ([]tender.NoticeDraft, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	_, parserType := sourceMeta(src)
	name, _ := sourceMeta(src)
	if name == "" {
		name = label
	}

	results := make([]windowResult, len(windows))
	sem := make(chan struct{}, p.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func(i int, w Window) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = windowResult{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			ext, err := p.oracle.Extract(ctx, w.Text, label)
			if err != nil {
				results[i] = windowResult{err: fmt.Errorf("window %d: %w", w.Index, err)}
				return
			}
			drafts := make([]tender.NoticeDraft, 0, len(ext.Candidates))
			for j, c := range ext.Candidates {
				d := candidateDraft(c, name, parserType, docURL, ext.Confidence)
				d.ID = fmt.Sprintf("%s_%d_%d", label, w.Index, j+1)
				drafts = append(drafts, d)
			}
			results[i] = windowResult{drafts: drafts}
		}(i, w)
	}
	wg.Wait()

	var (
		out  []tender.NoticeDraft
		errs []error
	)
	for i, r := range results {
		if r.err != nil {
			p.logger.Warn("oracle window failed",
				zap.String("url", docURL),
				zap.Int("window", windows[i].Index),
				zap.Error(r.err),
			)
			errs = append(errs, r.err)
			continue
		}
		out = append(out, r.drafts...)
	}
	if len(errs) > 0 {
		return out, &WindowError{URL: docURL, Failed: len(errs), Total: len(windows), Err: errors.Join(errs...)}
	}
	return out, nil
}

func candidateDraft(c tender.Candidate, sourceName, parserType, docURL string, confidence float64) tender.NoticeDraft {
	typ := strings.TrimSpace(c.Type)
	if typ == "" {
		typ = noticeType
	}
	loc := strings.TrimSpace(c.Location)
	if loc == "" {
		loc = defaultLocation
	}
	return tender.NoticeDraft{
		SourceName:     sourceName,
		SourceURL:      docURL,
		ParserType:     parserType,
		Type:           typ,
		Entity:         strings.TrimSpace(c.Entity),
		Reference:      strings.TrimSpace(c.Reference),
		TenderObject:   strings.TrimSpace(c.TenderObject),
		Description:    strings.TrimSpace(c.Description),
		Category:       strings.TrimSpace(c.Category),
		Deadline:       NormalizeDate(c.Deadline),
		Location:       loc,
		Budget:         strings.TrimSpace(c.Budget),
		Keywords:       append([]string(nil), c.Keywords...),
		RelevanceScore: c.RelevanceScore,
		Confidence:     confidence,
	}
}

// SplitText splits text into chunks of at most size runes, preferring paragraph, then line,
// then sentence, then word boundaries. Consecutive chunks share up to overlap runes.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	return splitRecursive(text, splitSeparators, size, overlap)
}

func splitRecursive(text string, separators []string, size, overlap int) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = s
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeep(text, sep) {
		if utf8.RuneCountInString(piece) < size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, mergeSplits(good, size, overlap)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, splitRecursive(piece, rest, size, overlap)...)
	}
	if len(good) > 0 {
		out = append(out, mergeSplits(good, size, overlap)...)
	}
	return out
}

// splitKeep splits on sep and keeps the separator at the start of each following piece.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mergeSplits(pieces []string, size, overlap int) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > overlap || (total+n > size && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}
