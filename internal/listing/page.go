// Package listing resolves listing pages that do not link straight to notices: bulletin
// tables pointing at the latest daily PDF, and card listings whose detail pages carry the
// notice fields.
package listing

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tender-ingest/internal/tender"
	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

// Hint keys read from Source.Hints.
const (
	HintBulletinLinkSelector = "bulletin_link_selector"
	HintListingSelector      = "listing_selector"
)

const (
	defaultCardSelector = "a.job-title"
	descriptionCap      = 800
)

// ErrNoBulletin is returned when a listing page does not expose a bulletin link.
var ErrNoBulletin = errors.New("no bulletin link on listing page")

// BulletinRef identifies the most recent bulletin on a listing page.
type BulletinRef struct {
	Title    string
	URL      string
	Filename string
}

// FindBulletin locates the latest bulletin on a listing page. By default it reads the first
// data row of the first table: cell 0 holds the title and cell 1 the PDF anchor. A selector
// hint picks the anchor directly instead.
func FindBulletin(page []byte, pageURL, selector string) (BulletinRef, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return BulletinRef{}, fmt.Errorf("parse listing url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return BulletinRef{}, fmt.Errorf("parse listing page: %w", err)
	}

	var title string
	var anchor *goquery.Selection
	if selector != "" {
		anchor = doc.Find(selector).First()
		title = textnorm.CollapseSpace(anchor.Text())
	} else {
		row := doc.Find("table tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Find("td").Length() >= 2
		}).First()
		if row.Length() == 0 {
			return BulletinRef{}, fmt.Errorf("%w: no data row in table", ErrNoBulletin)
		}
		cells := row.Find("td")
		title = textnorm.CollapseSpace(cells.Eq(0).Text())
		anchor = cells.Eq(1).Find("a[href]").First()
	}

	href, ok := anchor.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return BulletinRef{}, ErrNoBulletin
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return BulletinRef{}, fmt.Errorf("parse bulletin href: %w", err)
	}
	abs := base.ResolveReference(ref)
	filename := textnorm.CollapseSpace(anchor.Text())
	if filename == "" {
		filename = path.Base(abs.Path)
	}
	return BulletinRef{Title: title, URL: abs.String(), Filename: filename}, nil
}

// ParseCards returns one record per notice card on a listing page.
func ParseCards(page []byte, pageURL, selector string) ([]tender.ListingRecord, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	if selector == "" {
		selector = defaultCardSelector
	}

	var records []tender.ListingRecord
	doc.Find(selector).Each(func(i int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		title := textnorm.CollapseSpace(a.Text())
		if title == "" {
			title = fmt.Sprintf("Tender %d", i+1)
		}
		parts := strings.Split(strings.TrimRight(href, "/"), "/")
		records = append(records, tender.ListingRecord{
			URL:   base.ResolveReference(ref).String(),
			Title: title,
			Slug:  parts[len(parts)-1],
		})
	})
	return records, nil
}

var (
	entityPattern   = regexp.MustCompile(`(?im)Structure\s*:\s*([^\n]+?)\s*(?:Secteur|Localit|$)`)
	categoryPattern = regexp.MustCompile(`(?im)Cat[ée]gorie\s*:\s*([^\n]+?)\s*(?:Domaine|Structure|$)`)
	refPatterns     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)N\s*°\s*[0-9/A-Z-]+`),
		regexp.MustCompile(`(?i)DAO\s+[0-9-]+`),
		regexp.MustCompile(`(?i)Demande de prix\s+N[°\s]*[0-9/A-Z-]+`),
	}
)

// ParseDetail fills rec from its detail page. Fields absent from the page stay unset.
func ParseDetail(page []byte, rec tender.ListingRecord) (tender.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return rec, fmt.Errorf("parse detail page: %w", err)
	}
	fields := make(map[string]string, len(rec.Fields)+5)
	for k, v := range rec.Fields {
		fields[k] = v
	}

	header := doc.Find(".small-section-tittle").First()
	if t := textnorm.CollapseSpace(header.Find("h3").First().Text()); t != "" {
		rec.Title = t
	}
	headerText := header.Text()
	if m := entityPattern.FindStringSubmatch(headerText); m != nil {
		fields[tender.FieldEntity] = strings.TrimSpace(m[1])
	}
	if m := categoryPattern.FindStringSubmatch(headerText); m != nil {
		fields[tender.FieldCategory] = strings.TrimSpace(m[1])
	}

	doc.Find(".offre-detail-right strong").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), "Expire le") {
			return true
		}
		if d := textnorm.CollapseSpace(s.Parent().Find(".item-detail-color").First().Text()); d != "" {
			fields[tender.FieldDeadline] = d
			return false
		}
		return true
	})

	body := doc.Find(".post-details1").First()
	firstPara := body.Find("p").First().Text()
	for _, re := range refPatterns {
		if m := re.FindString(firstPara); m != "" {
			fields[tender.FieldReference] = strings.TrimSpace(m)
			break
		}
	}

	var parts []string
	body.Find("p").Slice(0, min(3, body.Find("p").Length())).Each(func(_ int, p *goquery.Selection) {
		if t := textnorm.CollapseSpace(p.Text()); len([]rune(t)) > 20 {
			parts = append(parts, t)
		}
	})
	if desc := textnorm.Truncate(strings.Join(parts, " "), descriptionCap); desc != "" {
		fields[tender.FieldDescription] = desc
	}

	rec.Fields = fields
	return rec, nil
}
