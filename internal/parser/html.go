package parser

import (
	"bytes"
	"crypto/md5" //nolint:gosec // reference suffix only, not a security boundary
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/tender-ingest/internal/tender"
	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

const (
	htmlTitleSelector       = "h1, h2, .title, [data-title]"
	htmlEntitySelector      = ".entity, .organization, .company, [data-entity]"
	htmlDeadlineSelector    = "[data-deadline], .deadline, .date-limite"
	htmlDescriptionSelector = "p, .description, .content"
	htmlDescriptionMaxLen   = 500
	htmlDescriptionParts    = 3
	unknownEntity           = "Unknown"
	defaultCategory         = "Services"
)

var nodeDeadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})`),
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
}

// parseHTML never fails: whatever the page lacks is left empty or defaulted.
func parseHTML(src *tender.Source, pageURL string, page []byte) tender.NoticeDraft {
	name, parserType := sourceMeta(src)
	d := tender.NoticeDraft{
		SourceName: name,
		SourceURL:  pageURL,
		ParserType: parserType,
		Type:       noticeType,
		Entity:     unknownEntity,
		Category:   defaultCategory,
		Location:   defaultLocation,
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		d.Reference = fallbackReference(pageURL)
		return d
	}
	pageText := doc.Find("body").Text()

	if s := firstText(doc, htmlTitleSelector); s != "" {
		d.TenderObject = textnorm.Truncate(s, titleMaxLen)
	}
	if s := firstText(doc, htmlEntitySelector); s != "" {
		d.Entity = s
	}
	d.Deadline = htmlDeadline(doc, pageText)
	d.Description = htmlDescription(doc)
	if d.Description == "" || d.TenderObject == "" {
		title, text := readable(page, pageURL)
		if d.TenderObject == "" {
			d.TenderObject = textnorm.Truncate(title, titleMaxLen)
		}
		if d.Description == "" {
			d.Description = textnorm.Truncate(textnorm.CollapseSpace(text), htmlDescriptionMaxLen)
		}
	}
	if ref := extractReference(pageText); ref != "" {
		d.Reference = ref
	} else {
		d.Reference = fallbackReference(pageURL)
	}
	if loc := locationPattern.FindString(pageText); loc != "" {
		d.Location = loc
	}
	return d
}

func firstText(doc *goquery.Document, selector string) string {
	var out string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = textnorm.CollapseSpace(s.Text())
		return out == ""
	})
	return out
}

func htmlDeadline(doc *goquery.Document, pageText string) string {
	var found string
	doc.Find(htmlDeadlineSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		candidates := []string{s.AttrOr("data-deadline", ""), s.Text()}
		for _, text := range candidates {
			for _, re := range nodeDeadlinePatterns {
				if m := re.FindStringSubmatch(text); m != nil {
					found = m[1]
					return false
				}
			}
		}
		return true
	})
	if found != "" {
		return NormalizeDate(found)
	}
	return extractDeadline(pageText)
}

func htmlDescription(doc *goquery.Document) string {
	var parts []string
	doc.Find(htmlDescriptionSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := textnorm.CollapseSpace(s.Text())
		if len([]rune(text)) > 20 {
			parts = append(parts, text)
		}
		return len(parts) < htmlDescriptionParts
	})
	return textnorm.Truncate(strings.Join(parts, " "), htmlDescriptionMaxLen)
}

// readable runs the readability extractor over pages whose markup the selectors missed.
func readable(page []byte, pageURL string) (title, text string) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", ""
	}
	article, err := readability.FromReader(bytes.NewReader(page), u)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), article.TextContent
}

func fallbackReference(rawURL string) string {
	sum := md5.Sum([]byte(rawURL)) //nolint:gosec
	return "REF-" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

// parseRecord maps a scraped listing record onto a draft.
func parseRecord(src *tender.Source, rec tender.ListingRecord) tender.NoticeDraft {
	name, parserType := sourceMeta(src)
	field := func(key, def string) string {
		if v := strings.TrimSpace(rec.Fields[key]); v != "" {
			return v
		}
		return def
	}
	d := tender.NoticeDraft{
		SourceName:   name,
		SourceURL:    rec.URL,
		ParserType:   parserType,
		Type:         noticeType,
		Entity:       field(tender.FieldEntity, unknownEntity),
		Category:     field(tender.FieldCategory, defaultCategory),
		Reference:    field(tender.FieldReference, fallbackReference(rec.URL)),
		TenderObject: textnorm.Truncate(strings.TrimSpace(rec.Title), titleMaxLen),
		Description:  field(tender.FieldDescription, ""),
		Location:     defaultLocation,
	}
	if dl := field(tender.FieldDeadline, ""); dl != "" {
		d.Deadline = NormalizeDate(dl)
	}
	return d
}
