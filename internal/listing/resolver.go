package listing

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// Failure reports a listing that could not be resolved.
type Failure struct {
	Source string
	URL    string
	Err    error
	// Detail is set for a card's detail page; the listing result itself stays OK.
	Detail bool
}

func (f Failure) Error() string {
	return fmt.Sprintf("resolve %s (%s): %v", f.Source, f.URL, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Resolver downloads the secondary documents behind bulletin and card listings and attaches
// them to the listing results.
type Resolver struct {
	fetcher  tender.Fetcher
	maxItems int
	logger   *zap.Logger
}

// NewResolver builds a Resolver. maxItems bounds the detail pages fetched per run.
func NewResolver(fetcher tender.Fetcher, maxItems int, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, maxItems: maxItems, logger: logger}
}

type pending struct {
	result int
	record tender.ListingRecord
	ref    BulletinRef
}

// Resolve returns a copy of results where bulletin listings carry their downloaded document
// and card listings carry their detail records. A listing that cannot be resolved becomes a
// failed result and is reported in the returned failures. A detail page that cannot be fetched
// or parsed is reported too, but its listing keeps the records that did resolve.
func (r *Resolver) Resolve(ctx context.Context, results []tender.FetchResult) ([]tender.FetchResult, []Failure) {
	out := append([]tender.FetchResult(nil), results...)
	var (
		failures []Failure
		requests []tender.FetchRequest
		owners   []pending
		details  int
	)
	fail := func(i int, err error) {
		failures = append(failures, Failure{Source: out[i].SourceName(), URL: out[i].URL, Err: err})
		out[i] = out[i].AsFailed(tender.FailureResolve, err.Error())
	}

	for i, res := range out {
		if !res.OK() || res.Source == nil {
			continue
		}
		switch res.Source.Strategy {
		case tender.StrategyPDFBulletin, tender.StrategyPDFRAG:
			if res.IsPDF() {
				out[i] = res.WithDocument(tender.Document{
					URL:      res.URL,
					Title:    res.Source.Name,
					Filename: filenameOf(res.URL),
					Payload:  res.Payload,
				})
				continue
			}
			ref, err := FindBulletin(res.Payload, res.URL, res.Source.Hint(HintBulletinLinkSelector))
			if err != nil {
				fail(i, err)
				continue
			}
			requests = append(requests, tender.FetchRequest{Source: res.Source, URL: ref.URL, Guarded: true})
			owners = append(owners, pending{result: i, ref: ref})

		case tender.StrategyHTMLListing:
			cards, err := ParseCards(res.Payload, res.URL, res.Source.Hint(HintListingSelector))
			if err != nil {
				fail(i, err)
				continue
			}
			if len(cards) == 0 {
				r.logger.Warn("listing page has no cards",
					zap.String("source", res.SourceName()),
					zap.String("url", res.URL),
				)
			}
			for _, card := range cards {
				if r.maxItems > 0 && details >= r.maxItems {
					break
				}
				details++
				requests = append(requests, tender.FetchRequest{Source: res.Source, URL: card.URL, Guarded: true})
				owners = append(owners, pending{result: i, record: card})
			}
		}
	}

	if len(requests) == 0 {
		return out, failures
	}

	fetched := r.fetcher.FetchAll(ctx, requests)
	records := make(map[int][]tender.ListingRecord)
	for j, fr := range fetched {
		owner := owners[j]
		i := owner.result
		if out[i].Source.Strategy == tender.StrategyHTMLListing {
			if !fr.OK() {
				failures = append(failures, Failure{
					Source: out[i].SourceName(),
					URL:    fr.URL,
					Err:    fmt.Errorf("fetch detail page: %s %s", fr.Failure, fr.Err),
					Detail: true,
				})
				continue
			}
			rec, err := ParseDetail(fr.Payload, owner.record)
			if err != nil {
				failures = append(failures, Failure{
					Source: out[i].SourceName(),
					URL:    fr.URL,
					Err:    fmt.Errorf("parse detail page: %w", err),
					Detail: true,
				})
				continue
			}
			records[i] = append(records[i], rec)
			continue
		}

		if !fr.OK() {
			fail(i, fmt.Errorf("download bulletin %s: %s %s", fr.URL, fr.Failure, fr.Err))
			continue
		}
		out[i] = out[i].WithDocument(tender.Document{
			URL:      fr.URL,
			Title:    owner.ref.Title,
			Filename: owner.ref.Filename,
			Payload:  fr.Payload,
		})
	}
	for i, recs := range records {
		out[i] = out[i].WithRecords(recs)
	}
	return out, failures
}

func filenameOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(path.Base(u.Path), "/")
}
