// Package links turns fetched listing pages into discovered item links.
//
// Extract is a pure function of one FetchResult: the source strategy decides whether links
// are scraped from HTML, taken from the result's own URL, or unpacked from payloads the
// listing stage already attached.
package links

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/tender"
	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

// DefaultItemSelectors are tried in order when a source has no item selector hint.
var DefaultItemSelectors = []string{
	`a[href*="appel"]`,
	`a[href*="offre"]`,
	`a[href*="avis"]`,
	`a[href*="tender"]`,
	".item a",
	".post a",
	".entry a",
	"article a",
	".tender-item a",
}

var (
	includeTerms = []string{
		"appel", "offre", "avis", "tender", "rfp", "dao", "aoo",
		"consultation", "marche", "marché", "contract", "procurement",
	}
	excludeTerms = []string{
		"contact", "about", "accueil", "home", "login", "admin",
		"search", "recherche", "menu", "nav", "footer", "header",
		"javascript:", "mailto:", "#", "tel:",
	}
	pdfTerms = []string{"appel", "offre", "avis", "tender", "dao", "aoo", "consultation"}
)

// Hint keys read from Source.Hints.
const (
	HintItemLinkSelector = "item_link_selector"
	HintItemSelector     = "item_selector"
	HintPDFLinksSelector = "pdf_links_selector"
)

// Extractor applies Extract across a batch and enforces the per-run cap.
type Extractor struct {
	maxItems int
	logger   *zap.Logger
}

// New builds an Extractor. maxItems <= 0 disables the cap.
func New(maxItems int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{maxItems: maxItems, logger: logger}
}

// Discovered is a link together with the source whose listing produced it.
type Discovered struct {
	Link   tender.Link
	Source *tender.Source
}

// ExtractAll extracts links from every successful result, removes repeated (url, kind)
// pairs and truncates the union to the configured maximum.
func (e *Extractor) ExtractAll(results []tender.FetchResult) []Discovered {
	type key struct {
		url  string
		kind tender.LinkKind
	}
	var all []Discovered
	seen := make(map[key]struct{})
	for _, r := range results {
		if !r.OK() {
			continue
		}
		found := Extract(r)
		e.logger.Debug("extracted links",
			zap.String("source", r.SourceName()),
			zap.String("url", r.URL),
			zap.Int("links", len(found)),
		)
		for _, l := range found {
			k := key{url: l.LinkURL(), kind: l.Kind()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			all = append(all, Discovered{Link: l, Source: r.Source})
		}
	}
	if e.maxItems > 0 && len(all) > e.maxItems {
		e.logger.Warn("too many links discovered, truncating",
			zap.Int("total_found", len(all)),
			zap.Int("limit", e.maxItems),
			zap.Int("dropped", len(all)-e.maxItems),
		)
		all = all[:e.maxItems]
	}
	return all
}

// Extract returns the links discovered in one result according to its source strategy.
func Extract(r tender.FetchResult) []tender.Link {
	if r.Source == nil {
		return nil
	}
	switch r.Source.Strategy {
	case tender.StrategyHTML:
		return htmlLinks(r)
	case tender.StrategyHTMLPDFMixed:
		return tender.UniqueLinks(append(htmlLinks(r), pdfLinks(r)...))
	case tender.StrategyPDF:
		if !isHTTPURL(r.URL) {
			return nil
		}
		return []tender.Link{tender.PlainURL(r.URL)}
	case tender.StrategyPDFBulletin:
		if r.Document == nil {
			return nil
		}
		d := r.Document
		return []tender.Link{tender.QuotidienPDF{URL: d.URL, Title: d.Title, Filename: d.Filename, Payload: d.Payload}}
	case tender.StrategyPDFRAG:
		if r.Document == nil {
			return nil
		}
		d := r.Document
		return []tender.Link{tender.RagPDF{
			URL:        d.URL,
			SourceName: r.SourceName(),
			Title:      d.Title,
			Filename:   d.Filename,
			Payload:    d.Payload,
		}}
	case tender.StrategyHTMLListing:
		out := make([]tender.Link, 0, len(r.Records))
		for _, rec := range r.Records {
			out = append(out, rec)
		}
		return out
	default:
		return nil
	}
}

// IsLikelyTender reports whether a link looks like a notice: it must mention an include term
// in its URL or anchor text and no exclude term in either.
func IsLikelyTender(rawURL, text string) bool {
	u := strings.ToLower(rawURL)
	t := textnorm.Fold(text)
	return containsAny(u, t, includeTerms) && !containsAny(u, t, excludeTerms)
}

func containsAny(u, t string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(u, term) || strings.Contains(t, term) {
			return true
		}
	}
	return false
}

func htmlLinks(r tender.FetchResult) []tender.Link {
	doc, base, ok := parse(r)
	if !ok {
		return nil
	}
	selectors := DefaultItemSelectors
	if hint := r.Source.Hint(HintItemLinkSelector, HintItemSelector); hint != "" {
		selectors = []string{hint}
	}
	for _, sel := range selectors {
		var found []tender.Link
		doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			abs, ok := resolve(base, a)
			if !ok {
				return
			}
			if IsLikelyTender(abs, a.Text()) {
				found = append(found, tender.PlainURL(abs))
			}
		})
		if len(found) > 0 {
			return tender.UniqueLinks(found)
		}
	}
	return nil
}

func pdfLinks(r tender.FetchResult) []tender.Link {
	doc, base, ok := parse(r)
	if !ok {
		return nil
	}
	selectors := []string{`a[href$=".pdf"]`, `a[href*=".pdf"]`}
	if hint := r.Source.Hint(HintPDFLinksSelector); hint != "" {
		selectors = append(selectors, hint)
	}
	for _, sel := range selectors {
		var found []tender.Link
		doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			abs, ok := resolve(base, a)
			if !ok {
				return
			}
			u, err := url.Parse(abs)
			if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
				return
			}
			if containsAny(strings.ToLower(abs), textnorm.Fold(a.Text()), pdfTerms) {
				found = append(found, tender.PlainURL(abs))
			}
		})
		if len(found) > 0 {
			return tender.UniqueLinks(found)
		}
	}
	return nil
}

func parse(r tender.FetchResult) (*goquery.Document, *url.URL, bool) {
	if len(r.Payload) == 0 {
		return nil, nil, false
	}
	base, err := url.Parse(r.URL)
	if err != nil {
		return nil, nil, false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Payload))
	if err != nil {
		return nil, nil, false
	}
	return doc, base, true
}

func resolve(base *url.URL, a *goquery.Selection) (string, bool) {
	href, ok := a.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref).String()
	if !isHTTPURL(abs) {
		return "", false
	}
	return abs, true
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
