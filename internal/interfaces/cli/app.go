package cli

import (
	"context"
	"fmt"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/application/precedent"
	"github.com/turtacn/Opposition-Intelligence/internal/application/prediction"
	"github.com/turtacn/Opposition-Intelligence/internal/application/similarity"
	"github.com/turtacn/Opposition-Intelligence/internal/config"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/chunking"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/neo4j"
	neorepo "github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/postgres"
	pgrepo "github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/pdftext"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/search/milvus"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/gemini"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle/fake"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// appOptions alter how the application graph is built.
type appOptions struct {
	// Memory keeps cases, vectors, objects and supersession in process.
	// Used by one-shot local ingestion.
	Memory bool
	// Oracle replaces the configured provider.
	Oracle oracle.Oracle
}

// App is the wired application graph shared by the commands.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics

	Oracle    oracle.Oracle
	Index     *indexing.Manager
	Cases     ingestion.CaseRepository
	Retriever *precedent.Retriever
	Marks     *similarity.MarkEngine
	Gs        *similarity.GsEngine
	Outcomes  *prediction.Aggregator
	FullCase  *prediction.FullCaseService

	Checks []handlers.HealthChecker

	opts         appOptions
	redis        *redis.Client
	keywords     *opensearch.ChunkIndex
	citations    *neorepo.CitationRepo
	memoryStore  *ingestion.MemoryObjectStore
	objects      *minio.ObjectStore
	orchestrator *ingestion.Orchestrator
	closers      []func() error
}

// NewApp connects the infrastructure named by cfg and builds the scoring,
// prediction and retrieval services. Object storage and the ingestion
// pipeline are built on first use by Ingester.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger, opts appOptions) (_ *App, err error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	a := &App{Config: cfg, Logger: logger, opts: opts}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// The registry always exists so instrumented components never see a
	// nil recorder. metrics.enabled only controls the scrape endpoint.
	if a.Collector, err = prometheus.NewMetricsCollector(cfg.Metrics.CollectorConfig, logger); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.Metrics = prometheus.NewAppMetrics(a.Collector)

	base, err := a.buildOracle(ctx)
	if err != nil {
		return nil, err
	}
	a.Oracle = oracle.Instrument(base, a.Metrics, logger)

	if err := a.buildIndex(ctx); err != nil {
		return nil, err
	}
	if err := a.buildCases(ctx); err != nil {
		return nil, err
	}
	if err := a.buildSearchExtras(ctx); err != nil {
		return nil, err
	}

	var ropts []precedent.Option
	if a.keywords != nil {
		ropts = append(ropts, precedent.WithKeywordSearch(a.keywords))
	}
	if a.citations != nil {
		ropts = append(ropts, precedent.WithCitationBoost(a.citations))
	}
	a.Retriever = precedent.NewRetriever(a.Index, a.Cases, cfg.Precedent, logger, ropts...)

	simCfg := similarity.Config{
		Thresholds:   cfg.Scoring.Thresholds(),
		Retry:        cfg.Retry,
		ExampleCount: cfg.Scoring.ExampleCount,
	}
	a.Marks = similarity.NewMarkEngine(a.Oracle, simCfg, logger)
	a.Gs = similarity.NewGsEngine(a.Oracle, a.Retriever, simCfg, logger)
	a.Outcomes = prediction.NewAggregator(a.Oracle, cfg.Prediction.Calibration.ToCalibration(), cfg.Retry, a.Metrics, logger)
	a.FullCase = prediction.NewFullCaseService(a.Marks, a.Gs, a.Outcomes, cfg.Prediction.FanOut, cfg.Prediction.MaxPairs, logger)
	return a, nil
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *App) check(name string, fn func(context.Context) error) {
	a.Checks = append(a.Checks, handlers.CheckFunc{Component: name, Fn: fn})
}

func (a *App) buildOracle(ctx context.Context) (oracle.Oracle, error) {
	if a.opts.Oracle != nil {
		return a.opts.Oracle, nil
	}
	switch a.Config.Oracle.Provider {
	case "fake":
		f := fake.New()
		f.Dim = a.Config.Indexing.EmbeddingDim
		a.Logger.Warn("Using the deterministic fake oracle")
		return f, nil
	default:
		p, err := gemini.New(ctx, a.Config.Oracle.Config, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		a.onClose(p.Close)
		return p, nil
	}
}

func (a *App) buildIndex(ctx context.Context) error {
	cfg := a.Config
	var vi indexing.VectorIndex
	if a.opts.Memory || cfg.Indexing.Backend == "memory" {
		vi = indexing.NewMemoryIndex()
	} else {
		mc, err := milvus.NewClient(cfg.Milvus.ClientConfig, a.Logger)
		if err != nil {
			return fmt.Errorf("milvus: %w", err)
		}
		a.onClose(mc.Close)
		a.check("milvus", mc.CheckHealth)

		coll := cfg.Milvus.CollectionConfig
		if cfg.Indexing.Collection != "" {
			coll.Name = cfg.Indexing.Collection
		}
		vi = milvus.NewVectorIndex(mc, coll, a.Logger)
	}

	iopts := []indexing.Option{indexing.WithLogger(a.Logger)}
	if !a.opts.Memory && cfg.Redis.Enabled {
		rc, err := redis.NewClient(&cfg.Redis.RedisConfig, a.Logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.redis = rc
		a.onClose(rc.Close)
		a.check("redis", rc.Ping)
		iopts = append(iopts, indexing.WithCache(&meteredCache{
			next:    redis.NewEmbeddingCache(rc, cfg.Indexing.CacheTTL),
			metrics: a.Metrics,
		}))
	}

	a.Index = indexing.NewManager(a.Oracle, vi, indexing.Config{
		Dim:   cfg.Indexing.EmbeddingDim,
		Model: cfg.Oracle.EmbeddingModel,
		Retry: cfg.Retry,
	}, iopts...)
	return nil
}

func (a *App) buildCases(ctx context.Context) error {
	if a.opts.Memory {
		a.Cases = ingestion.NewMemoryRepository()
		return nil
	}
	conn, err := postgres.NewConnection(ctx, a.Config.Postgres.PostgresConfig, a.Logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.onClose(func() error { conn.Close(); return nil })
	a.check("postgres", conn.HealthCheck)
	a.Cases = pgrepo.NewCaseRepo(conn, a.Logger)
	return nil
}

// buildSearchExtras connects the optional keyword index and citation graph.
func (a *App) buildSearchExtras(ctx context.Context) error {
	if a.opts.Memory {
		return nil
	}
	cfg := a.Config
	if cfg.OpenSearch.Enabled {
		oc, err := opensearch.NewClient(cfg.OpenSearch.ClientConfig, a.Logger)
		if err != nil {
			return fmt.Errorf("opensearch: %w", err)
		}
		a.onClose(oc.Close)
		a.check("opensearch", oc.Ping)
		ci := opensearch.NewChunkIndex(oc, cfg.OpenSearch.ChunkIndexConfig, a.Logger)
		if err := ci.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("opensearch: %w", err)
		}
		a.keywords = ci
	}
	if cfg.Neo4j.Enabled {
		d, err := neo4j.NewDriver(cfg.Neo4j.Neo4jConfig, a.Logger)
		if err != nil {
			return fmt.Errorf("neo4j: %w", err)
		}
		a.onClose(d.Close)
		a.check("neo4j", d.HealthCheck)
		cr := neorepo.NewCitationRepo(d, a.Logger)
		if err := cr.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("neo4j: %w", err)
		}
		a.citations = cr
	}
	return nil
}

// Ingester returns the ingestion orchestrator, connecting object storage on
// first call.
func (a *App) Ingester(ctx context.Context) (*ingestion.Orchestrator, error) {
	if a.orchestrator != nil {
		return a.orchestrator, nil
	}
	cfg := a.Config

	deps := ingestion.Deps{
		Text:      pdftext.NewExtractor(a.Logger),
		Extractor: a.Oracle,
		Chunker: chunking.NewChunker(
			chunking.NewFallbackClassifier(
				chunking.NewOracleClassifier(a.Oracle),
				chunking.NewHeadingClassifier(nil),
				a.Logger,
			),
			cfg.Chunking.MaxChunkSize, a.Logger),
		Vectors: a.Index,
		Repo:    a.Cases,
		Metrics: a.Metrics,
	}

	if a.opts.Memory {
		a.memoryStore = ingestion.NewMemoryObjectStore()
		deps.Store = a.memoryStore
		deps.Supersession = ingestion.NewMemorySupersession()
	} else {
		mc, err := minio.NewMinIOClient(&cfg.MinIO, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		a.onClose(mc.Close)
		a.check("minio", func(ctx context.Context) error {
			_, err := mc.HealthCheck(ctx)
			return err
		})
		a.objects = minio.NewObjectStore(mc, a.Logger)
		deps.Store = a.objects
	}
	if a.redis != nil {
		deps.Supersession = redis.NewSupersession(a.redis)
		deps.Locker = redis.NewCaseLocker(a.redis, redis.WithLockTTL(cfg.Ingestion.LockTTL), redis.WithWatchdog(true))
	}
	if a.keywords != nil {
		deps.Keywords = a.keywords
	}
	if a.citations != nil {
		deps.Citations = a.citations
	}

	a.orchestrator = ingestion.NewOrchestrator(deps, ingestion.Config{
		ExtractionPasses: cfg.Ingestion.ExtractionPasses,
		FanOut:           cfg.Ingestion.FanOut,
		ProcessedBucket:  cfg.MinIO.Buckets.Processed,
		Retry:            cfg.Retry,
	}, a.Logger)
	return a.orchestrator, nil
}

// Upload stores data where the orchestrator will read it.
func (a *App) Upload(ctx context.Context, bucket, key string, data []byte) error {
	if _, err := a.Ingester(ctx); err != nil {
		return err
	}
	if a.memoryStore != nil {
		a.memoryStore.Put(bucket, key, data)
		return nil
	}
	return a.objects.Put(ctx, bucket, key, data, "")
}

// Close releases every connection in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Close failed", logging.Err(err))
		}
	}
	a.closers = nil
}

// meteredCache records embedding cache hits and misses.
type meteredCache struct {
	next    indexing.EmbeddingCache
	metrics *prometheus.AppMetrics
}

func (c *meteredCache) Get(ctx context.Context, key string) (trademark.EmbeddingVector, bool, error) {
	vec, ok, err := c.next.Get(ctx, key)
	if err == nil {
		c.metrics.RecordCacheAccess("embedding", ok)
	}
	return vec, ok, err
}

func (c *meteredCache) Set(ctx context.Context, key string, vec trademark.EmbeddingVector) error {
	return c.next.Set(ctx, key, vec)
}
