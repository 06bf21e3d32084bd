package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/metrics"
	"github.com/JakeFAU/tender-ingest/internal/parser"
	"github.com/JakeFAU/tender-ingest/internal/registry"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

func (p *Pipeline) loadSources(ctx context.Context, state RunState) (RunState, error) {
	all, err := p.deps.Sources(ctx)
	if err != nil {
		state.fail(StageLoadSources, fmt.Sprintf("load sources: %v", err), p.deps.Clock.Now())
		return state, nil
	}
	state.Sources = registry.Enabled(all)
	state.Stats.SourcesChecked = len(state.Sources)
	if len(state.Sources) == 0 {
		state.fail(StageLoadSources, tender.ErrNoSources.Error(), p.deps.Clock.Now())
		return state, nil
	}
	if p.deps.Guard != nil {
		p.deps.Guard.Register(state.Sources)
	}
	p.logger.Info("sources loaded",
		zap.String("run_id", state.RunID),
		zap.Int("enabled", len(state.Sources)),
		zap.Int("configured", len(all)),
	)
	return state, nil
}

func (p *Pipeline) fetchListings(ctx context.Context, state RunState) (RunState, error) {
	requests := make([]tender.FetchRequest, 0, len(state.Sources))
	for i := range state.Sources {
		requests = append(requests, tender.FetchRequest{
			Source:  &state.Sources[i],
			URL:     state.Sources[i].ListingURL,
			Guarded: true,
		})
	}
	results := p.deps.Fetcher.FetchAll(ctx, requests)
	for _, r := range results {
		p.snapshot(ctx, state.RunID, r.SourceName(), r.URL, r.ContentType, r.Payload, r.OK())
	}

	if p.deps.Resolver != nil {
		var failures []error
		resolved, fails := p.deps.Resolver.Resolve(ctx, results)
		now := p.deps.Clock.Now()
		for _, f := range fails {
			failures = append(failures, f)
			// Failed listings are recorded with the fetch results below.
			if f.Detail {
				state.addError(StageFetchListings, "listing detail failed: "+f.Err.Error(), now,
					"source", f.Source, "url", f.URL)
			}
		}
		results = resolved
		if len(failures) > 0 {
			p.logger.Warn("listing resolution failures",
				zap.String("run_id", state.RunID),
				zap.Error(errors.Join(failures...)),
			)
		}
		for _, r := range results {
			if r.Document != nil {
				p.snapshot(ctx, state.RunID, r.SourceName(), r.Document.URL, "application/pdf", r.Document.Payload, true)
			}
		}
	}

	now := p.deps.Clock.Now()
	for _, r := range results {
		if r.OK() {
			state.Stats.ListingsFetched++
			p.recordHealth(ctx, r.SourceName(), now, "")
			continue
		}
		state.Stats.ListingsFailed++
		msg := fmt.Sprintf("%s: %s", r.Failure, r.Err)
		state.addError(StageFetchListings, "listing fetch failed: "+msg, now,
			"source", r.SourceName(), "url", r.URL, "failure", string(r.Failure))
		p.recordHealth(ctx, r.SourceName(), now, msg)
	}
	state.ListingResults = results

	if state.Stats.ListingsFetched == 0 {
		state.fail(StageFetchListings, tender.ErrAllListingsFailed.Error(), now)
	}
	return state, nil
}

func (p *Pipeline) extractLinks(_ context.Context, state RunState) (RunState, error) {
	state.DiscoveredLinks = p.deps.Links.ExtractAll(state.ListingResults)
	state.Stats.LinksDiscovered = len(state.DiscoveredLinks)
	if len(state.DiscoveredLinks) == 0 {
		p.logger.Warn("no links discovered", zap.String("run_id", state.RunID))
	}
	return state, nil
}

// fetchItems downloads PlainURL links. Structured links already carry their payload and pass
// through unchanged.
func (p *Pipeline) fetchItems(ctx context.Context, state RunState) (RunState, error) {
	var (
		requests []tender.FetchRequest
		owners   []int
	)
	items := make([]Item, len(state.DiscoveredLinks))
	keep := make([]bool, len(state.DiscoveredLinks))
	for i, d := range state.DiscoveredLinks {
		items[i] = Item{Link: d.Link, Result: tender.FetchResult{
			Source: d.Source,
			URL:    d.Link.LinkURL(),
			Status: tender.FetchOK,
		}}
		if _, plain := d.Link.(tender.PlainURL); plain {
			requests = append(requests, tender.FetchRequest{Source: d.Source, URL: d.Link.LinkURL()})
			owners = append(owners, i)
			continue
		}
		keep[i] = true
	}

	if len(requests) > 0 {
		results := p.deps.Fetcher.FetchAll(ctx, requests)
		now := p.deps.Clock.Now()
		for j, r := range results {
			i := owners[j]
			p.snapshot(ctx, state.RunID, r.SourceName(), r.URL, r.ContentType, r.Payload, r.OK())
			if !r.OK() {
				state.Stats.ItemsFailed++
				state.addError(StageFetchItems, fmt.Sprintf("item fetch failed: %s: %s", r.Failure, r.Err), now,
					"source", r.SourceName(), "url", r.URL, "failure", string(r.Failure))
				continue
			}
			state.Stats.ItemsFetched++
			items[i].Result = r
			keep[i] = true
		}
	}

	state.RawItems = nil
	for i, it := range items {
		if keep[i] {
			state.RawItems = append(state.RawItems, it)
		}
	}
	return state, nil
}

func (p *Pipeline) parseExtract(ctx context.Context, state RunState) (RunState, error) {
	for _, it := range state.RawItems {
		drafts, err := p.deps.Parser.Parse(ctx, it.Link, it.Result)
		if err != nil {
			var werr *parser.WindowError
			kv := []string{"source", it.Result.SourceName(), "url", it.Link.LinkURL(), "kind", string(it.Link.Kind())}
			if errors.As(err, &werr) {
				kv = append(kv, "failed_windows", strconv.Itoa(werr.Failed), "total_windows", strconv.Itoa(werr.Total))
			}
			state.addError(StageParseExtract, err.Error(), p.deps.Clock.Now(), kv...)
		}
		state.ParsedNotices = append(state.ParsedNotices, drafts...)
	}
	state.Stats.NoticesParsed = len(state.ParsedNotices)
	metrics.ObserveNotices("parsed", len(state.ParsedNotices))
	return state, nil
}

func (p *Pipeline) classify(ctx context.Context, state RunState) (RunState, error) {
	state.RelevantNotices = nil
	for _, d := range state.ParsedNotices {
		scored, ok := p.deps.Classifier.Classify(ctx, d)
		if ok {
			state.RelevantNotices = append(state.RelevantNotices, scored)
		}
	}
	state.Stats.NoticesRelevant = len(state.RelevantNotices)
	metrics.ObserveNotices("relevant", len(state.RelevantNotices))
	return state, nil
}

func (p *Pipeline) dedupe(ctx context.Context, state RunState) (RunState, error) {
	state.UniqueNotices, state.CollapsedNotices = p.deps.Dedup.Dedupe(ctx, state.RelevantNotices)
	state.Stats.NoticesUnique = len(state.UniqueNotices)
	state.Stats.DuplicatesRemoved = len(state.CollapsedNotices)
	metrics.ObserveNotices("unique", len(state.UniqueNotices))
	return state, nil
}

// handoff finalizes a run that reached the end of the stage sequence. A publish failure is
// recorded and downgrades the status; it never fails the run.
func (p *Pipeline) handoff(ctx context.Context, state RunState) (RunState, error) {
	finished := p.deps.Clock.Now()
	state.FinishedAt = &finished
	state.Status = completedStatus(state)

	if p.deps.Publisher != nil {
		id, err := p.deps.Publisher.Publish(ctx, p.deps.Topic, state.Payload())
		if err != nil {
			state.addError(StageHandoff, fmt.Sprintf("publish run payload: %v", err), finished, "topic", p.deps.Topic)
			state.Status = completedStatus(state)
		} else {
			p.logger.Info("run payload published",
				zap.String("run_id", state.RunID),
				zap.String("message_id", id),
				zap.Int("notices", len(state.UniqueNotices)),
			)
		}
	}
	p.persist(ctx, state)
	return state, nil
}

// errorHandler finalizes a run stopped by a fatal stage. Nothing is published.
func (p *Pipeline) errorHandler(ctx context.Context, state RunState) (RunState, error) {
	finished := p.deps.Clock.Now()
	state.FinishedAt = &finished
	state.Status = tender.RunFailed
	p.logger.Error("run failed",
		zap.String("run_id", state.RunID),
		zap.String("errors", state.errorMessage()),
	)
	p.persist(ctx, state)
	return state, nil
}

func completedStatus(state RunState) tender.RunStatus {
	if len(state.Errors) > 0 {
		return tender.RunCompletedWithErrors
	}
	return tender.RunCompleted
}

func (p *Pipeline) snapshot(ctx context.Context, runID, source, url, contentType string, payload []byte, ok bool) {
	if p.deps.Snapshots == nil || !ok || len(payload) == 0 {
		return
	}
	if _, err := p.deps.Snapshots.StoreSnapshot(ctx, payload, source, url, runID, contentType); err != nil {
		p.logger.Warn("snapshot store failed",
			zap.String("run_id", runID),
			zap.String("source", source),
			zap.String("url", url),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) recordHealth(ctx context.Context, source string, at time.Time, failure string) {
	if p.deps.Health == nil || source == "" {
		return
	}
	var err error
	if failure == "" {
		err = p.deps.Health.RecordSuccess(ctx, source, at)
	} else {
		err = p.deps.Health.RecordFailure(ctx, source, at, failure)
	}
	if err != nil {
		p.logger.Warn("source health update failed", zap.String("source", source), zap.Error(err))
	}
}
