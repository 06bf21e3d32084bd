package links

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

const listingPage = `<html><body>
<nav><a href="/contact">Contact</a></nav>
<div class="post">
  <a href="/avis/2025-014">Avis d'appel d'offres 2025-014</a>
  <a href="avis/2025-015?x=1">Acquisition de serveurs</a>
  <a href="https://portail.example.org/avis/contact-us">Avis - contact</a>
  <a href="mailto:marches@portail.example.org">Écrire</a>
  <a href="/avis/2025-014">Avis d'appel d'offres 2025-014 (bis)</a>
</div>
<ul>
  <li><a href="/docs/DAO-fournitures.pdf">DAO fournitures</a></li>
  <li><a href="/docs/rapport.pdf">Rapport annuel</a></li>
  <li><a href="/docs/Consultation.PDF?v=2">Consultation restreinte</a></li>
</ul>
</body></html>`

func result(strategy tender.Strategy, hints map[string]string) tender.FetchResult {
	src := &tender.Source{Name: "portail", Strategy: strategy, Hints: hints}
	return tender.FetchResult{
		Source:  src,
		URL:     "https://portail.example.org/marches/",
		Payload: []byte(listingPage),
		Status:  tender.FetchOK,
	}
}

func urls(ls []tender.Link) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.LinkURL())
	}
	return out
}

func TestIsLikelyTender(t *testing.T) {
	t.Parallel()

	require.True(t, IsLikelyTender("https://a.example/avis/12", ""))
	require.False(t, IsLikelyTender("https://a.example/avis/contact", ""))
	require.True(t, IsLikelyTender("https://a.example/p/12", "Marché de travaux"))
	require.False(t, IsLikelyTender("https://a.example/p/12", "Rapport annuel"))
	require.False(t, IsLikelyTender("https://a.example/p/12", "Avis - Recherche"))
}

func TestExtractHTML(t *testing.T) {
	t.Parallel()

	got := urls(Extract(result(tender.StrategyHTML, nil)))
	require.Equal(t, []string{
		"https://portail.example.org/avis/2025-014",
		"https://portail.example.org/marches/avis/2025-015?x=1",
	}, got)
}

func TestExtractHTMLSelectorHint(t *testing.T) {
	t.Parallel()

	got := urls(Extract(result(tender.StrategyHTML, map[string]string{HintItemSelector: "ul a"})))
	require.Equal(t, []string{
		"https://portail.example.org/docs/DAO-fournitures.pdf",
		"https://portail.example.org/docs/Consultation.PDF?v=2",
	}, got)
}

func TestExtractMixedAddsPDFs(t *testing.T) {
	t.Parallel()

	got := urls(Extract(result(tender.StrategyHTMLPDFMixed, nil)))
	require.Contains(t, got, "https://portail.example.org/avis/2025-014")
	require.Contains(t, got, "https://portail.example.org/docs/DAO-fournitures.pdf")
	require.NotContains(t, got, "https://portail.example.org/docs/rapport.pdf")
}

func TestExtractStructuredStrategies(t *testing.T) {
	t.Parallel()

	pdf := result(tender.StrategyPDF, nil)
	pdf.URL = "https://portail.example.org/bulletin.pdf"
	require.Equal(t, []tender.Link{tender.PlainURL(pdf.URL)}, Extract(pdf))

	doc := tender.Document{URL: "https://dgmp.example/q.pdf", Title: "Quotidien N°4012 du 03/02/2025", Payload: []byte("%PDF-")}
	bulletin := result(tender.StrategyPDFBulletin, nil).WithDocument(doc)
	got := Extract(bulletin)
	require.Len(t, got, 1)
	q, ok := got[0].(tender.QuotidienPDF)
	require.True(t, ok)
	require.Equal(t, doc.Title, q.Title)

	rag := result(tender.StrategyPDFRAG, nil).WithDocument(doc)
	got = Extract(rag)
	require.Len(t, got, 1)
	r, ok := got[0].(tender.RagPDF)
	require.True(t, ok)
	require.Equal(t, "portail", r.SourceName)

	require.Empty(t, Extract(result(tender.StrategyPDFBulletin, nil)), "no attached document yields no link")

	listing := result(tender.StrategyHTMLListing, nil).WithRecords([]tender.ListingRecord{
		{URL: "https://j.example/offre/1", Title: "Offre 1"},
		{URL: "https://j.example/offre/2", Title: "Offre 2"},
	})
	require.Equal(t, []string{"https://j.example/offre/1", "https://j.example/offre/2"}, urls(Extract(listing)))
}

func TestExtractAllCapsAndLogs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	e := New(1, zap.New(core))

	failed := result(tender.StrategyHTML, nil).AsFailed(tender.FailureTimeout, "timeout")
	got := e.ExtractAll([]tender.FetchResult{failed, result(tender.StrategyHTML, nil), result(tender.StrategyHTML, nil)})
	require.Len(t, got, 1)
	require.Equal(t, "portail", got[0].Source.Name)
	require.Equal(t, 1, logs.FilterMessage("too many links discovered, truncating").Len())
}
