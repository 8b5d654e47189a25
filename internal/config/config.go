// Package config defines the configuration of the opposition intelligence
// services. Infrastructure sections reuse the component config types so the
// mapstructure keys live next to the code that reads them.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/Opposition-Intelligence/internal/application/precedent"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/neo4j"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/search/milvus"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/gemini"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/middleware"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
)

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug | release | test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`

	CORS      middleware.CORSConfig      `mapstructure:"cors"`
	RateLimit middleware.RateLimitConfig `mapstructure:"rate_limit"`
}

// OracleConfig selects the language-model backend.
type OracleConfig struct {
	// Provider is "gemini" or "fake". The fake oracle is deterministic and
	// meant for local runs and tests.
	Provider      string `mapstructure:"provider"`
	gemini.Config `mapstructure:",squash"`
}

// ScoringConfig holds the degree thresholds of the 0..1 similarity scale.
type ScoringConfig struct {
	Identical float64 `mapstructure:"identical"`
	High      float64 `mapstructure:"high"`
	Medium    float64 `mapstructure:"medium"`
	Low       float64 `mapstructure:"low"`
	// ExampleCount is the number of precedent snippets given to the
	// goods/services oracle as few-shot examples.
	ExampleCount int `mapstructure:"example_count"`
}

type ChunkingConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
}

// IndexingConfig configures embeddings and the vector index.
type IndexingConfig struct {
	// Backend is "milvus" or "memory".
	Backend      string `mapstructure:"backend"`
	EmbeddingDim int    `mapstructure:"embedding_dim"`
	// Collection is the vector-index identifier. It overrides
	// milvus.collection.
	Collection string        `mapstructure:"collection"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// IngestionConfig configures the document ingestion pipeline.
type IngestionConfig struct {
	ExtractionPasses int           `mapstructure:"extraction_passes"`
	FanOut           int           `mapstructure:"fan_out"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
}

// BracketConfig is one row of a calibration bracket table.
type BracketConfig struct {
	Bound  float64 `mapstructure:"bound"`
	Adjust float64 `mapstructure:"adjust"`
}

// CalibrationConfig is the confidence rule table. Empty bracket lists keep
// the built-in table.
type CalibrationConfig struct {
	BaseSucceed          float64         `mapstructure:"base_succeed"`
	BasePartial          float64         `mapstructure:"base_partial"`
	BaseFail             float64         `mapstructure:"base_fail"`
	SpreadBrackets       []BracketConfig `mapstructure:"spread_brackets"`
	SpreadOver           float64         `mapstructure:"spread_over"`
	ContradictionPenalty float64         `mapstructure:"contradiction_penalty"`
	RateBrackets         []BracketConfig `mapstructure:"rate_brackets"`
	RateUnder            float64         `mapstructure:"rate_under"`
	PartialRateLow       float64         `mapstructure:"partial_rate_low"`
	PartialRateHigh      float64         `mapstructure:"partial_rate_high"`
	PartialInRange       float64         `mapstructure:"partial_in_range"`
	PartialOutOfRange    float64         `mapstructure:"partial_out_of_range"`
	VarianceBrackets     []BracketConfig `mapstructure:"variance_brackets"`
	VarianceOver         float64         `mapstructure:"variance_over"`
	Distinctiveness      float64         `mapstructure:"distinctiveness"`
	TypeAgreement        float64         `mapstructure:"type_agreement"`
	TypeDisagreement     float64         `mapstructure:"type_disagreement"`
}

// PredictionConfig configures the outcome aggregator and full-case fan-out.
type PredictionConfig struct {
	FanOut      int               `mapstructure:"fan_out"`
	MaxPairs    int               `mapstructure:"max_pairs"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
}

type PostgresConfig struct {
	postgres.PostgresConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	redis.RedisConfig `mapstructure:",squash"`
}

// KafkaConfig configures the ingestion trigger.
type KafkaConfig struct {
	Brokers            []string             `mapstructure:"brokers"`
	GroupID            string               `mapstructure:"group_id"`
	ObjectCreatedTopic string               `mapstructure:"object_created_topic"`
	DeadLetterTopic    string               `mapstructure:"dead_letter_topic"`
	CaseIngestedTopic  string               `mapstructure:"case_ingested_topic"`
	AutoOffsetReset    string               `mapstructure:"auto_offset_reset"`
	HandlerTimeout     time.Duration        `mapstructure:"handler_timeout"`
	AutoCreateTopics   bool                 `mapstructure:"auto_create_topics"`
	ReplicationFactor  int                  `mapstructure:"replication_factor"`
	Acks               string               `mapstructure:"acks"`
	Compression        string               `mapstructure:"compression"`
	Security           kafka.SecurityConfig `mapstructure:"security"`
}

type MilvusConfig struct {
	milvus.ClientConfig     `mapstructure:",squash"`
	milvus.CollectionConfig `mapstructure:",squash"`
}

type OpenSearchConfig struct {
	Enabled                     bool `mapstructure:"enabled"`
	opensearch.ClientConfig     `mapstructure:",squash"`
	opensearch.ChunkIndexConfig `mapstructure:",squash"`
}

type Neo4jConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	neo4j.Neo4jConfig `mapstructure:",squash"`
}

type MetricsConfig struct {
	Enabled                    bool   `mapstructure:"enabled"`
	Path                       string `mapstructure:"path"`
	prometheus.CollectorConfig `mapstructure:",squash"`
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Log        logging.LogConfig `mapstructure:"log"`
	Oracle     OracleConfig      `mapstructure:"oracle"`
	Retry      retry.Policy      `mapstructure:"retry"`
	Scoring    ScoringConfig     `mapstructure:"scoring"`
	Chunking   ChunkingConfig    `mapstructure:"chunking"`
	Indexing   IndexingConfig    `mapstructure:"indexing"`
	Ingestion  IngestionConfig   `mapstructure:"ingestion"`
	Prediction PredictionConfig  `mapstructure:"prediction"`
	Precedent  precedent.Config  `mapstructure:"precedent"`
	Postgres   PostgresConfig    `mapstructure:"postgres"`
	Redis      RedisConfig       `mapstructure:"redis"`
	MinIO      minio.MinIOConfig `mapstructure:"minio"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	Milvus     MilvusConfig      `mapstructure:"milvus"`
	OpenSearch OpenSearchConfig  `mapstructure:"opensearch"`
	Neo4j      Neo4jConfig       `mapstructure:"neo4j"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

// Validate checks the populated Config and returns the first problem found.
// Connectivity settings of optional integrations are only checked when the
// integration is enabled.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("config: server.rate_limit.requests_per_second must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	switch c.Oracle.Provider {
	case "fake":
	case "gemini":
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("config: oracle.api_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("config: oracle.provider %q is invalid; expected gemini|fake", c.Oracle.Provider)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("config: retry.max_backoff %s is below retry.initial_backoff %s", c.Retry.MaxBackoff, c.Retry.InitialBackoff)
	}

	s := c.Scoring
	if !(0 < s.Low && s.Low < s.Medium && s.Medium < s.High && s.High < s.Identical && s.Identical <= 1) {
		return fmt.Errorf("config: scoring thresholds must satisfy 0 < low < medium < high < identical <= 1")
	}

	if c.Chunking.MaxChunkSize < 100 {
		return fmt.Errorf("config: chunking.max_chunk_size must be >= 100, got %d", c.Chunking.MaxChunkSize)
	}

	switch c.Indexing.Backend {
	case "memory":
	case "milvus":
		if c.Milvus.Address == "" {
			return fmt.Errorf("config: milvus.address is required for the milvus backend")
		}
	default:
		return fmt.Errorf("config: indexing.backend %q is invalid; expected milvus|memory", c.Indexing.Backend)
	}
	if c.Indexing.EmbeddingDim < 1 {
		return fmt.Errorf("config: indexing.embedding_dim must be >= 1, got %d", c.Indexing.EmbeddingDim)
	}
	if c.Indexing.Collection == "" {
		return fmt.Errorf("config: indexing.collection is required")
	}

	if c.Ingestion.ExtractionPasses < 1 || c.Ingestion.ExtractionPasses%2 == 0 {
		return fmt.Errorf("config: ingestion.extraction_passes must be a positive odd number, got %d", c.Ingestion.ExtractionPasses)
	}
	if c.Ingestion.FanOut < 1 || c.Prediction.FanOut < 1 {
		return fmt.Errorf("config: fan_out must be >= 1")
	}
	if err := c.Prediction.Calibration.ToCalibration().Validate(); err != nil {
		return fmt.Errorf("config: prediction.calibration: %w", err)
	}

	if c.Postgres.Host == "" || c.Postgres.Database == "" {
		return fmt.Errorf("config: postgres.host and postgres.database are required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" && len(c.Redis.ClusterAddrs) == 0 && len(c.Redis.SentinelAddrs) == 0 {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	if c.MinIO.Endpoint == "" {
		return fmt.Errorf("config: minio.endpoint is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("config: kafka.group_id is required")
	}
	if c.OpenSearch.Enabled && len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("config: opensearch.addresses is required when opensearch is enabled")
	}
	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		return fmt.Errorf("config: neo4j.uri is required when neo4j is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required when metrics are enabled")
	}
	return nil
}
