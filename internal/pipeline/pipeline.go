// Package pipeline runs one ingestion pass as a linear state machine:
//
//	loadSources → fetchListings → extractLinks → fetchItems → parseExtract → classify → dedupe → handoff
//
// A stage that sets ShouldContinue=false routes the run straight to errorHandler. Every other
// failure is recorded on the RunState and the run continues with what succeeded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/links"
	"github.com/JakeFAU/tender-ingest/internal/listing"
	"github.com/JakeFAU/tender-ingest/internal/metrics"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

const tracerName = "github.com/JakeFAU/tender-ingest/internal/pipeline"

// SourceLoader returns the registry contents; the pipeline keeps the enabled ones.
type SourceLoader func(ctx context.Context) ([]tender.Source, error)

// ListingResolver attaches bulletin documents and listing records to listing results.
type ListingResolver interface {
	Resolve(ctx context.Context, results []tender.FetchResult) ([]tender.FetchResult, []listing.Failure)
}

// LinkExtractor turns listing results into discovered links.
type LinkExtractor interface {
	ExtractAll(results []tender.FetchResult) []links.Discovered
}

// DocumentParser turns one link into drafts.
type DocumentParser interface {
	Parse(ctx context.Context, link tender.Link, item tender.FetchResult) ([]tender.NoticeDraft, error)
}

// RelevanceClassifier scores one draft.
type RelevanceClassifier interface {
	Classify(ctx context.Context, d tender.NoticeDraft) (tender.NoticeDraft, bool)
}

// Deduplicator collapses repeated drafts.
type Deduplicator interface {
	Dedupe(ctx context.Context, drafts []tender.NoticeDraft) (unique, collapsed []tender.NoticeDraft)
}

// SourceRegistrar receives the run's sources before any fetch, e.g. to apply per-host rates.
type SourceRegistrar interface {
	Register(sources []tender.Source)
}

// OracleCounter reports cumulative oracle call totals.
type OracleCounter interface {
	Counts() (calls, failures int64)
}

// Deps are the collaborators of a Pipeline. Snapshots, Ledger, Publisher, Health, Guard and
// Oracle may be nil.
type Deps struct {
	Sources    SourceLoader
	Fetcher    tender.Fetcher
	Resolver   ListingResolver
	Links      LinkExtractor
	Parser     DocumentParser
	Classifier RelevanceClassifier
	Dedup      Deduplicator

	Snapshots tender.SnapshotStore
	Ledger    tender.RunLedger
	Publisher tender.Publisher
	Topic     string
	Health    tender.SourceHealth
	Guard     SourceRegistrar
	Oracle    OracleCounter

	Clock  tender.Clock
	IDs    tender.IDGenerator
	Logger *zap.Logger
}

type stageFunc func(ctx context.Context, state RunState) (RunState, error)

type stage struct {
	name string
	run  stageFunc
}

// Pipeline executes runs. Runs must not overlap; the caller serializes them.
type Pipeline struct {
	deps   Deps
	stages []stage
	logger *zap.Logger
	tracer trace.Tracer
}

// New validates deps and builds a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Sources == nil:
		return nil, errors.New("pipeline: source loader is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Links == nil:
		return nil, errors.New("pipeline: link extractor is required")
	case deps.Parser == nil:
		return nil, errors.New("pipeline: parser is required")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case deps.Dedup == nil:
		return nil, errors.New("pipeline: deduplicator is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		deps:   deps,
		logger: logger.Named("pipeline"),
		tracer: otel.Tracer(tracerName),
	}
	p.stages = []stage{
		{StageLoadSources, p.loadSources},
		{StageFetchListings, p.fetchListings},
		{StageExtractLinks, p.extractLinks},
		{StageFetchItems, p.fetchItems},
		{StageParseExtract, p.parseExtract},
		{StageClassify, p.classify},
		{StageDedupe, p.dedupe},
		{StageHandoff, p.handoff},
	}
	return p, nil
}

// Run executes one full run and returns its final state. The returned error is non-nil only
// when the run could not start; stage failures are reported on the state.
func (p *Pipeline) Run(ctx context.Context) (RunState, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return RunState{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	state := RunState{
		RunID:          runID,
		StartedAt:      p.deps.Clock.Now(),
		Status:         tender.RunRunning,
		ShouldContinue: true,
		Stats:          RunStats{StageSeconds: make(map[string]float64)},
	}
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("run started")
	p.persist(ctx, state)

	calls0, failures0 := p.oracleCounts()
	for _, st := range p.stages {
		before := len(state.Errors)
		if st.name == StageHandoff {
			calls, failures := p.oracleCounts()
			state.Stats.OracleCalls = calls - calls0
			state.Stats.OracleFailures = failures - failures0
		}
		state = p.runStage(ctx, st, state)
		if !state.ShouldContinue {
			break
		}
		if len(state.Errors) > before && st.name != StageHandoff {
			p.persist(ctx, state)
		}
	}
	if !state.ShouldContinue {
		calls, failures := p.oracleCounts()
		state.Stats.OracleCalls = calls - calls0
		state.Stats.OracleFailures = failures - failures0
		state = p.runStage(ctx, stage{StageErrorHandler, p.errorHandler}, state)
		span.SetStatus(codes.Error, state.errorMessage())
	}

	metrics.ObserveRun(string(state.Status))
	logger.Info("run finished",
		zap.String("status", string(state.Status)),
		zap.Int("unique_notices", len(state.UniqueNotices)),
		zap.Int("collapsed_notices", len(state.CollapsedNotices)),
		zap.Int("errors", len(state.Errors)),
	)
	return state, nil
}

// runStage wraps one stage in a span, a duration observation and panic recovery. A returned
// error is recorded against the stage without stopping the run.
func (p *Pipeline) runStage(ctx context.Context, st stage, state RunState) (out RunState) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+st.name)
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		metrics.ObserveStage(st.name, elapsed)
		out.Stats.StageSeconds[st.name] = elapsed.Seconds()
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stage panicked",
				zap.String("run_id", state.RunID),
				zap.String("stage", st.name),
				zap.Any("panic", r),
			)
			out = state
			out.fail(st.name, fmt.Sprintf("panic: %v", r), p.deps.Clock.Now())
			span.SetStatus(codes.Error, "panic")
		}
	}()

	next, err := st.run(ctx, state)
	if err != nil {
		p.logger.Warn("stage failed",
			zap.String("run_id", state.RunID),
			zap.String("stage", st.name),
			zap.Error(err),
		)
		next.addError(st.name, err.Error(), p.deps.Clock.Now())
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Int("errors", len(next.Errors)))
	return next
}

func (p *Pipeline) persist(ctx context.Context, state RunState) {
	if p.deps.Ledger == nil {
		return
	}
	if err := p.deps.Ledger.UpsertRun(ctx, state.record()); err != nil {
		p.logger.Error("run ledger upsert failed",
			zap.String("run_id", state.RunID),
			zap.String("status", string(state.Status)),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) oracleCounts() (int64, int64) {
	if p.deps.Oracle == nil {
		return 0, 0
	}
	return p.deps.Oracle.Counts()
}
