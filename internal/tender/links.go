package tender

// Link is a discovered item reference. Its concrete type is one of PlainURL, QuotidienPDF,
// RagPDF or ListingRecord; consumers dispatch with a type switch.
type Link interface {
	LinkURL() string
	Kind() LinkKind
	isLink()
}

// LinkKind names a Link variant.
type LinkKind string

// Link variants.
const (
	KindPlainURL      LinkKind = "plain_url"
	KindQuotidienPDF  LinkKind = "quotidien_pdf"
	KindRagPDF        LinkKind = "rag_pdf"
	KindListingRecord LinkKind = "listing_record"
)

// PlainURL is an item page that still needs fetching.
type PlainURL string

// LinkURL implements Link.
func (p PlainURL) LinkURL() string { return string(p) }

// Kind implements Link.
func (PlainURL) Kind() LinkKind { return KindPlainURL }

func (PlainURL) isLink() {}

// QuotidienPDF is a downloaded daily bulletin to be segmented by boundaries.
type QuotidienPDF struct {
	URL      string
	Title    string
	Filename string
	Payload  []byte
}

// LinkURL implements Link.
func (q QuotidienPDF) LinkURL() string { return q.URL }

// Kind implements Link.
func (QuotidienPDF) Kind() LinkKind { return KindQuotidienPDF }

func (QuotidienPDF) isLink() {}

// RagPDF is a downloaded bulletin to be processed by windowed oracle extraction.
type RagPDF struct {
	URL        string
	SourceName string
	Title      string
	Filename   string
	Payload    []byte
}

// LinkURL implements Link.
func (r RagPDF) LinkURL() string { return r.URL }

// Kind implements Link.
func (RagPDF) Kind() LinkKind { return KindRagPDF }

func (RagPDF) isLink() {}

// Keys of ListingRecord.Fields.
const (
	FieldEntity      = "entity"
	FieldCategory    = "category"
	FieldDeadline    = "deadline"
	FieldReference   = "reference"
	FieldDescription = "description"
)

// ListingRecord is a notice already scraped from a structured listing.
type ListingRecord struct {
	URL    string
	Title  string
	Slug   string
	Fields map[string]string
}

// LinkURL implements Link.
func (l ListingRecord) LinkURL() string { return l.URL }

// Kind implements Link.
func (ListingRecord) Kind() LinkKind { return KindListingRecord }

func (ListingRecord) isLink() {}

// UniqueLinks drops repeated (url, kind) pairs, keeping first occurrences in order.
func UniqueLinks(links []Link) []Link {
	type key struct {
		url  string
		kind LinkKind
	}
	seen := make(map[key]struct{}, len(links))
	out := make([]Link, 0, len(links))
	for _, l := range links {
		k := key{url: l.LinkURL(), kind: l.Kind()}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out
}
