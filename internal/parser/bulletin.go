package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/tender"
	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

const (
	entityScanRunes    = 500
	trailingBlockRunes = 2000
	minBlockRunes      = 200
	defaultBlockEntity = "Unknown Entity"
)

var (
	sectionMarker    = regexp.MustCompile(`(?i)fournitures\s+et\s+services\s+courants`)
	boundaryPattern  = regexp.MustCompile(`N[°o]\s*(\d{4}[-–]\d+[^\n]{0,100})`)
	entityStopPhrase = []string{"AVIS", "SOURCE", "FINANCEMENT", "OBJECTIFS", "PRESENTATION", "MODALITES", "REMARQUES"}
)

// Block is one notice cut out of a bulletin.
type Block struct {
	Entity    string
	Reference string
	Text      string
}

// Segment cuts the new-notice section of a bulletin into blocks, one per reference-number
// boundary. Without the section marker the whole text is segmented.
func Segment(text string) []Block {
	section := text
	if loc := sectionMarker.FindStringIndex(text); loc != nil {
		section = text[loc[0]:]
	}
	matches := boundaryPattern.FindAllStringSubmatchIndex(section, -1)
	if len(matches) == 0 {
		return nil
	}

	runes := []rune(section)
	// Rune offsets of each boundary start.
	starts := make([]int, len(matches))
	for i, m := range matches {
		starts[i] = utf8.RuneCountInString(section[:m[0]])
	}

	blocks := make([]Block, 0, len(matches))
	for i, m := range matches {
		start := starts[i]
		end := min(len(runes), start+trailingBlockRunes)
		if i+1 < len(matches) {
			end = starts[i+1]
		}
		content := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(content) < minBlockRunes {
			continue
		}
		blocks = append(blocks, Block{
			Entity:    entityBefore(runes, start),
			Reference: strings.TrimSpace(section[m[2]:m[3]]),
			Text:      content,
		})
	}
	return blocks
}

// entityBefore scans back from pos for the closest upper-case heading line.
func entityBefore(runes []rune, pos int) string {
	from := max(0, pos-entityScanRunes)
	lines := strings.Split(string(runes[from:pos]), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		n := utf8.RuneCountInString(line)
		if n <= 25 || n >= 150 || !isUpperLine(line) {
			continue
		}
		if containsStopPhrase(line) {
			continue
		}
		return line
	}
	return defaultBlockEntity
}

func isUpperLine(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func containsStopPhrase(line string) bool {
	for _, p := range entityStopPhrase {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

func (p *Parser) parseBulletin(ctx context.Context, src *tender.Source, doc tender.QuotidienPDF) ([]tender.NoticeDraft, error) {
	if p.text == nil {
		return nil, fmt.Errorf("bulletin %s: no text extractor configured", doc.URL)
	}
	text, err := p.text.ExtractText(ctx, doc.Payload)
	if err != nil {
		return nil, fmt.Errorf("bulletin %s: %w", doc.URL, err)
	}

	published := publishedFromTitle(doc.Title)
	blocks := Segment(text)
	p.logger.Info("bulletin segmented",
		zap.String("url", doc.URL),
		zap.Int("text_len", utf8.RuneCountInString(text)),
		zap.Int("blocks", len(blocks)),
	)

	if len(blocks) == 0 {
		if p.oracle == nil {
			return nil, nil
		}
		section := text
		if loc := sectionMarker.FindStringIndex(text); loc != nil {
			section = text[loc[0]:]
		}
		name, _ := sourceMeta(src)
		drafts, err := p.extractWindows(ctx, src, doc.URL, name, p.split(section))
		for i := range drafts {
			drafts[i].PublishedAt = published
		}
		return drafts, err
	}

	name, parserType := sourceMeta(src)
	drafts := make([]tender.NoticeDraft, 0, len(blocks))
	for _, b := range blocks {
		drafts = append(drafts, blockDraft(b, name, parserType, doc.URL, published))
	}
	return drafts, nil
}

func blockDraft(b Block, sourceName, parserType, sourceURL, published string) tender.NoticeDraft {
	ref := extractReference(b.Text)
	if ref == "" {
		ref = b.Reference
	}
	return tender.NoticeDraft{
		SourceName:   sourceName,
		SourceURL:    sourceURL,
		ParserType:   parserType,
		Type:         noticeType,
		Entity:       b.Entity,
		Reference:    ref,
		TenderObject: extractTitle(nonEmptyLines(b.Text)),
		Description:  textnorm.Truncate(textnorm.CollapseSpace(b.Text), descriptionMaxLen),
		Category:     extractCategory(b.Text),
		Deadline:     extractDeadline(b.Text),
		Location:     extractLocation(b.Text),
		Budget:       extractBudget(b.Text),
		PublishedAt:  published,
	}
}
