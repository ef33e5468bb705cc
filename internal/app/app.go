// Package app assembles the analysis engine from a Config: the Gemini
// client, both pipelines, retrieval, the narrative generator and the store.
// Every binary builds one App at startup and shares it across sessions.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/biomech-analyzer/internal/auth"
	"github.com/fpang/biomech-analyzer/internal/compare"
	"github.com/fpang/biomech-analyzer/internal/config"
	"github.com/fpang/biomech-analyzer/internal/gemini"
	"github.com/fpang/biomech-analyzer/internal/landmark"
	"github.com/fpang/biomech-analyzer/internal/logging"
	"github.com/fpang/biomech-analyzer/internal/measure"
	"github.com/fpang/biomech-analyzer/internal/narrative"
	"github.com/fpang/biomech-analyzer/internal/pgdb"
	"github.com/fpang/biomech-analyzer/internal/pipeline"
	"github.com/fpang/biomech-analyzer/internal/rag"
	"github.com/fpang/biomech-analyzer/internal/reference"
	"github.com/fpang/biomech-analyzer/internal/store"
)

// App is a fully wired engine.
type App struct {
	Config       *config.Config
	Gemini       *gemini.Client
	Registry     *reference.Registry
	Knowledge    *rag.KnowledgeBase
	Vector       *rag.PgvectorProvider
	Orchestrator *pipeline.Orchestrator
	Runner       *pipeline.Runner
	Store        store.AnalysisStore

	genai   *genai.Client
	aws     *aws.Config
	pool    *pgxpool.Pool
	redis   *redis.Client
	closers []func()
}

// Option adjusts Build.
type Option func(*buildOptions)

type buildOptions struct {
	aws            *aws.Config
	st             store.AnalysisStore
	fallbackReport bool
	skipProbe      bool
}

// WithAWSConfig reuses an already loaded AWS config instead of loading the
// default chain on first use.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *buildOptions) { o.aws = &cfg }
}

// WithStore overrides the store selected by Config.Store.
func WithStore(st store.AnalysisStore) Option {
	return func(o *buildOptions) { o.st = st }
}

// WithFallbackReport writes a deterministic report when the narrative model fails.
func WithFallbackReport(enabled bool) Option {
	return func(o *buildOptions) { o.fallbackReport = enabled }
}

// WithoutProbe skips the per-session Gemini availability check.
func WithoutProbe() Option {
	return func(o *buildOptions) { o.skipProbe = true }
}

// Build wires an App. The caller must Close it.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	a := &App{Config: cfg, aws: bo.aws}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	apiKey, err := auth.GetAPIKey()
	if err != nil {
		return nil, err
	}
	a.genai, err = gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	a.Gemini = gemini.New(a.genai, cfg.Model, cfg.EmbedModel)

	if a.Registry, err = reference.LoadDefault(); err != nil {
		return nil, err
	}
	if a.Knowledge, err = rag.LoadKnowledgeBase(); err != nil {
		return nil, err
	}

	if bo.st != nil {
		a.Store = bo.st
	} else if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	refs, err := a.referenceSource(ctx)
	if err != nil {
		return nil, err
	}
	retriever, err := a.retriever(ctx)
	if err != nil {
		return nil, err
	}

	engine := compare.NewEngine(a.Registry, measure.NewClient(a.Gemini))
	popts := []pipeline.Option{
		pipeline.WithReferenceFrames(refs),
		pipeline.WithRetriever(retriever),
		pipeline.WithNarrator(narrative.New(a.Gemini.WithModel(cfg.NarrativeModel), narrative.DefaultTimeout)),
		pipeline.WithFallbackReport(bo.fallbackReport),
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithSessionTimeout(cfg.SessionTimeout),
	}
	if !cfg.NoLandmarks {
		popts = append(popts, pipeline.WithQuantitative(landmark.NewClient(cfg.LandmarkURL)))
	}
	if !bo.skipProbe {
		popts = append(popts, pipeline.WithCapabilityProbe(a.probe))
	}
	a.Orchestrator = pipeline.New(engine, popts...)
	a.Runner = pipeline.NewRunner(a.Orchestrator, a.Store)

	ok = true
	return a, nil
}

// Close releases pooled connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// StartupLog describes the wiring for the startup log line.
func (a *App) StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	cfg := a.Config
	return logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		Config("model", a.Gemini.Model()).
		Config("narrativeModel", cfg.NarrativeModel).
		Config("workers", fmt.Sprint(a.Orchestrator.Workers())).
		Config("sessionTimeout", cfg.SessionTimeout.String()).
		Resource("store", cfg.Store).
		Resource("references", a.referenceLabel()).
		Resource("landmarkService", cfg.LandmarkURL).
		Feature("quantitative", !cfg.NoLandmarks).
		Feature("vectorRetrieval", a.Vector != nil).
		Feature("retrievalCache", a.redis != nil)
}

// AWS returns the AWS config, loading the default chain on first use.
func (a *App) AWS(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	a.aws = &cfg
	return cfg, nil
}

// IndexKnowledge embeds the knowledge base into pgvector. It is a no-op
// without a database.
func (a *App) IndexKnowledge(ctx context.Context) (int, error) {
	if a.Vector == nil {
		return 0, errors.New("vector retrieval is not configured (set DATABASE_URL)")
	}
	entries := a.Knowledge.Entries()
	return len(entries), a.Vector.Index(ctx, entries)
}

// probe maps a failed key check onto the measurement capability error when
// the model cannot be reached at all. Transient failures are left to the
// per-frame retries.
func (a *App) probe(ctx context.Context) error {
	err := auth.ValidateAPIKey(ctx, a.genai, a.Gemini.Model())
	if err == nil {
		return nil
	}
	var verr *auth.ValidationError
	if errors.As(err, &verr) && verr.Unavailable() {
		return fmt.Errorf("%w: %v", measure.ErrCapabilityUnavailable, err)
	}
	log.Warn().Err(err).Msg("Gemini probe failed, continuing with per-frame retries")
	return nil
}

func (a *App) openStore(ctx context.Context) (store.AnalysisStore, error) {
	cfg := a.Config
	switch strings.ToLower(cfg.Store) {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreDynamo:
		awsCfg, err := a.AWS(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable), nil
	case config.StorePostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		st := store.NewPostgresStore(pool)
		if err := st.InitSchema(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return store.NewFileStore(cfg.StoreDir)
	}
}

func (a *App) referenceSource(ctx context.Context) (reference.FrameSource, error) {
	cfg := a.Config
	if cfg.ReferenceBucket == "" {
		return reference.NewDirSource(cfg.ReferenceDir), nil
	}
	awsCfg, err := a.AWS(ctx)
	if err != nil {
		return nil, err
	}
	return reference.NewS3Source(s3.NewFromConfig(awsCfg), cfg.ReferenceBucket, cfg.ReferencePrefix), nil
}

func (a *App) referenceLabel() string {
	if a.Config.ReferenceBucket != "" {
		return "s3://" + a.Config.ReferenceBucket + "/" + a.Config.ReferencePrefix
	}
	return a.Config.ReferenceDir
}

// retriever chains semantic search ahead of the embedded knowledge base and
// caches the chain in Redis when configured.
func (a *App) retriever(ctx context.Context) (rag.Provider, error) {
	cfg := a.Config
	chain := rag.Chain{}
	if cfg.UsesVector() {
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		a.Vector = rag.NewPgvectorProvider(pool, a.Gemini)
		if err := a.Vector.InitSchema(ctx); err != nil {
			return nil, err
		}
		chain = append(chain, a.Vector)
	}
	chain = append(chain, a.Knowledge)

	var provider rag.Provider = chain
	if cfg.RedisURL != "" {
		client, err := rag.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, func() { client.Close() })
		provider = rag.NewCachedProvider(client, chain, cfg.CacheTTL())
	}
	return provider, nil
}

// postgres opens one pool shared by the store and the vector index.
func (a *App) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := pgdb.Open(ctx, a.Config.DatabaseURL, pgdb.Options{Vector: true})
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}
