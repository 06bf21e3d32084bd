// Package app builds the long-lived services of the ingestion process from configuration and
// holds them for the commands. It fails fast when a configured backend cannot be reached.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/classifier"
	"github.com/JakeFAU/tender-ingest/internal/clock/system"
	"github.com/JakeFAU/tender-ingest/internal/config"
	"github.com/JakeFAU/tender-ingest/internal/dedup"
	collyfetcher "github.com/JakeFAU/tender-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/tender-ingest/internal/hash/sha256"
	"github.com/JakeFAU/tender-ingest/internal/id/uuid"
	"github.com/JakeFAU/tender-ingest/internal/links"
	"github.com/JakeFAU/tender-ingest/internal/listing"
	"github.com/JakeFAU/tender-ingest/internal/oracle"
	"github.com/JakeFAU/tender-ingest/internal/parser"
	"github.com/JakeFAU/tender-ingest/internal/pdftext"
	"github.com/JakeFAU/tender-ingest/internal/pipeline"
	"github.com/JakeFAU/tender-ingest/internal/policy/guard"
	"github.com/JakeFAU/tender-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/tender-ingest/internal/policy/robots"
	memorypublisher "github.com/JakeFAU/tender-ingest/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/tender-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/tender-ingest/internal/registry"
	"github.com/JakeFAU/tender-ingest/internal/snapshot"
	"github.com/JakeFAU/tender-ingest/internal/storage/gcs"
	"github.com/JakeFAU/tender-ingest/internal/storage/local"
	"github.com/JakeFAU/tender-ingest/internal/storage/memory"
	"github.com/JakeFAU/tender-ingest/internal/storage/postgres"
	redisstore "github.com/JakeFAU/tender-ingest/internal/storage/redis"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// Ledger is the run ledger as seen by the commands: written by the pipeline, read by the API.
type Ledger interface {
	tender.RunLedger
	LastRun(ctx context.Context) (tender.RunRecord, error)
}

// App holds the shared services of one process.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Pipeline *pipeline.Pipeline
	Ledger   Ledger
	// Health is nil when no Redis address is configured.
	Health *redisstore.SourceHealth

	closers []func() error
}

// New wires every component named by cfg. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var robotsPolicy guard.RobotsPolicy
	if cfg.Fetch.RespectRobots {
		robotsPolicy = robots.New(robots.Config{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}, logger.Named("robots"))
	}
	rateGuard := guard.New(robotsPolicy, ratelimit.New(ratelimit.Config{DefaultRate: cfg.Fetch.DefaultRateLimit}), logger.Named("guard"))

	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		Timeout:        cfg.FetchTimeout(),
		MaxConcurrency: cfg.Fetch.MaxConcurrency,
		MaxBodyBytes:   cfg.Fetch.MaxBodyMB << 20,
	}, rateGuard, clock, logger)

	text := pdftext.Chain{
		Plain:    pdftext.Plain{},
		MaxBytes: cfg.Processing.MaxFileSizeMB << 20,
		Logger:   logger.Named("pdftext"),
	}
	if s := pdftext.NewStructural(cfg.PDF.StructuralURL, cfg.StructuralTimeout()); s != nil {
		text.Structural = s
	}

	// Only a live client goes into the interface; a typed nil would look configured.
	var (
		extraction tender.Oracle
		counter    *oracle.Counter
	)
	if cfg.Oracle.Enabled {
		counter = oracle.NewCounter(oracle.New(oracle.Config{
			APIKey:         cfg.Oracle.APIKey,
			BaseURL:        cfg.Oracle.BaseURL,
			Model:          cfg.Oracle.Model,
			MaxTokens:      cfg.Oracle.MaxTokens,
			JudgeMaxTokens: cfg.Oracle.JudgeMaxTokens,
			Temperature:    cfg.Oracle.Temperature,
			Timeout:        cfg.OracleTimeout(),
			MaxRetries:     cfg.Oracle.MaxRetries,
		}, logger))
		extraction = counter
		logger.Info("extraction oracle enabled", zap.String("model", cfg.Oracle.Model))
	}

	docParser := parser.New(parser.Config{
		RAGMode:        cfg.RAG.Mode,
		ChunkSize:      cfg.RAG.ChunkSize,
		ChunkOverlap:   cfg.RAG.ChunkOverlap,
		TopK:           cfg.RAG.TopK,
		Query:          cfg.RAG.Query,
		MaxConcurrency: cfg.RAG.MaxConcurrency,
	}, text, extraction, oracle.HashingEmbedder{}, sha256.New(), logger)

	relevance, err := classifier.New(classifier.Config{
		Mode:      classifier.Mode(cfg.Classifier.Mode),
		Threshold: cfg.Classifier.MinRelevanceScore,
		Keywords:  cfg.Classifier.Keywords,
	}, extraction, logger)
	if err != nil {
		return nil, fmt.Errorf("init classifier: %w", err)
	}

	dedupe, err := dedup.New(dedup.Config{
		Method:    dedup.Method(cfg.Dedup.Method),
		Threshold: cfg.Dedup.Threshold,
		BandFloor: cfg.Dedup.ModerateBandFloor,
	}, extraction, logger)
	if err != nil {
		return nil, fmt.Errorf("init deduplicator: %w", err)
	}

	snapshots, err := a.openSnapshots(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	if err := a.openLedger(ctx, cfg.DB); err != nil {
		return nil, err
	}

	var health tender.SourceHealth
	if cfg.Redis.Addr != "" {
		h, err := redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init source health: %w", err)
		}
		a.Health = h
		a.closers = append(a.closers, h.Close)
		health = h
		logger.Info("source health tracking enabled", zap.String("addr", cfg.Redis.Addr))
	}

	publisher, err := a.openPublisher(ctx, cfg.PubSub)
	if err != nil {
		return nil, err
	}

	registryPath := cfg.Registry.Path
	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Sources: func(context.Context) ([]tender.Source, error) {
			return registry.Load(registryPath)
		},
		Fetcher:    fetcher,
		Resolver:   listing.NewResolver(fetcher, cfg.Processing.MaxItemsPerRun, logger),
		Links:      links.New(cfg.Processing.MaxItemsPerRun, logger),
		Parser:     docParser,
		Classifier: relevance,
		Dedup:      dedupe,
		Snapshots:  snapshots,
		Ledger:     a.Ledger,
		Publisher:  publisher,
		Topic:      cfg.PubSub.TopicName,
		Health:     health,
		Guard:      rateGuard,
		Oracle:     counter,
		Clock:      clock,
		IDs:        uuid.New(),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return a, nil
}

// openSnapshots returns nil for the "none" backend.
func (a *App) openSnapshots(ctx context.Context, cfg config.StorageConfig) (tender.SnapshotStore, error) {
	var blobs tender.BlobStore
	switch cfg.Backend {
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs snapshots: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		blobs = store
		a.Logger.Info("using gcs snapshot store", zap.String("bucket", cfg.GCSBucket))
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshots: %w", err)
		}
		blobs = store
		a.Logger.Info("using local snapshot store", zap.String("dir", cfg.LocalDir))
	case "memory":
		blobs = memory.NewBlobStore()
		a.Logger.Info("using in-memory snapshot store; snapshots are discarded on exit")
	case "none":
		a.Logger.Info("snapshots disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	return snapshot.New(blobs, cfg.Prefix), nil
}

func (a *App) openLedger(ctx context.Context, cfg config.DBConfig) error {
	if cfg.DSN == "" {
		a.Logger.Info("using in-memory run ledger")
		a.Ledger = memory.NewRunLedger()
		return nil
	}
	ledger, err := postgres.NewRunLedger(ctx, postgres.RunLedgerConfig{DSN: cfg.DSN, Table: cfg.Table})
	if err != nil {
		return fmt.Errorf("init run ledger: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ledger.Close()
		return nil
	})
	a.Ledger = ledger
	a.Logger.Info("using postgres run ledger", zap.String("table", cfg.Table))
	return nil
}

func (a *App) openPublisher(ctx context.Context, cfg config.PubSubConfig) (tender.Publisher, error) {
	if cfg.ProjectID == "" {
		a.Logger.Info("using in-memory publisher; run payloads stay in process")
		return memorypublisher.New(), nil
	}
	p, err := pubsubpublisher.Open(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, p.Close)
	a.Logger.Info("publishing to pubsub", zap.String("project", cfg.ProjectID), zap.String("topic", cfg.TopicName))
	return p, nil
}

// Close releases every opened backend, newest first.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("closing services", zap.Error(err))
	}
}

// Run executes one pipeline run.
func (a *App) Run(ctx context.Context) (pipeline.RunState, error) {
	return a.Pipeline.Run(ctx)
}
