package config

import (
	"time"

	"github.com/turtacn/Opposition-Intelligence/internal/application/precedent"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/chunking"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/prediction"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/scoring"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/gemini"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
)

const (
	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultOracleProvider = "gemini"

	DefaultIndexingBackend = "milvus"
	DefaultEmbeddingDim    = 768
	DefaultCollection      = "trademark_case_chunks"

	DefaultExtractionPasses = 5
	DefaultFanOut           = 4
	DefaultMaxPairs         = 400

	DefaultPostgresHost = "localhost"
	DefaultPostgresPort = 5432
	DefaultPostgresDB   = "oppo"

	DefaultRedisAddr     = "localhost:6379"
	DefaultMinIOEndpoint = "localhost:9000"
	DefaultKafkaBroker   = "localhost:9092"
	DefaultKafkaGroupID  = "oppo-ingest"
	DefaultMilvusAddress = "localhost:19530"
	DefaultNeo4jURI      = "bolt://localhost:7687"

	DefaultMetricsNamespace = "oppo"
	DefaultMetricsPath      = "/metrics"
)

// ApplyDefaults fills every zero-value field of cfg. Values set explicitly
// are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	// Full-case predictions fan out to many oracle calls.
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 1 << 20
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = DefaultOracleProvider
	}
	def := gemini.DefaultConfig()
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = def.Model
	}
	if cfg.Oracle.EmbeddingModel == "" {
		cfg.Oracle.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = def.Timeout
	}
	if cfg.Oracle.ExtractTemperature == 0 {
		cfg.Oracle.ExtractTemperature = def.ExtractTemperature
	}

	rp := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = rp.MaxAttempts
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = rp.InitialBackoff
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = rp.MaxBackoff
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = rp.BackoffMultiplier
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = rp.Jitter
	}

	if cfg.Scoring.Identical == 0 && cfg.Scoring.High == 0 && cfg.Scoring.Medium == 0 && cfg.Scoring.Low == 0 {
		t := scoring.DefaultThresholds()
		cfg.Scoring.Identical, cfg.Scoring.High, cfg.Scoring.Medium, cfg.Scoring.Low = t.Identical, t.High, t.Medium, t.Low
	}
	if cfg.Scoring.ExampleCount == 0 {
		cfg.Scoring.ExampleCount = 3
	}

	if cfg.Chunking.MaxChunkSize == 0 {
		cfg.Chunking.MaxChunkSize = chunking.DefaultMaxChunkSize
	}

	if cfg.Indexing.Backend == "" {
		cfg.Indexing.Backend = DefaultIndexingBackend
	}
	if cfg.Indexing.EmbeddingDim == 0 {
		cfg.Indexing.EmbeddingDim = DefaultEmbeddingDim
	}
	if cfg.Indexing.Collection == "" {
		cfg.Indexing.Collection = DefaultCollection
	}
	if cfg.Indexing.CacheTTL == 0 {
		cfg.Indexing.CacheTTL = 30 * 24 * time.Hour
	}

	if cfg.Ingestion.ExtractionPasses == 0 {
		cfg.Ingestion.ExtractionPasses = DefaultExtractionPasses
	}
	if cfg.Ingestion.FanOut == 0 {
		cfg.Ingestion.FanOut = DefaultFanOut
	}
	if cfg.Ingestion.LockTTL == 0 {
		cfg.Ingestion.LockTTL = 2 * time.Minute
	}

	if cfg.Prediction.FanOut == 0 {
		cfg.Prediction.FanOut = DefaultFanOut
	}
	if cfg.Prediction.MaxPairs == 0 {
		cfg.Prediction.MaxPairs = DefaultMaxPairs
	}
	c := &cfg.Prediction.Calibration
	if c.BaseSucceed == 0 && c.BasePartial == 0 && c.BaseFail == 0 {
		*c = FromCalibration(prediction.DefaultCalibration())
	}

	pd := precedent.DefaultConfig()
	if cfg.Precedent.Overfetch == 0 {
		cfg.Precedent.Overfetch = pd.Overfetch
	}
	if cfg.Precedent.RRFK == 0 {
		cfg.Precedent.RRFK = pd.RRFK
	}
	if cfg.Precedent.CitationBoost == 0 {
		cfg.Precedent.CitationBoost = pd.CitationBoost
	}
	if cfg.Precedent.MaxK == 0 {
		cfg.Precedent.MaxK = pd.MaxK
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = DefaultPostgresHost
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = DefaultPostgresPort
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = DefaultPostgresDB
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}

	if cfg.Redis.Addr == "" && cfg.Redis.Mode == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "oppo:"
	}

	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.ObjectCreatedTopic == "" {
		cfg.Kafka.ObjectCreatedTopic = kafka.TopicObjectCreated
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = kafka.TopicObjectCreatedDLQ
	}
	if cfg.Kafka.CaseIngestedTopic == "" {
		cfg.Kafka.CaseIngestedTopic = kafka.TopicCaseIngested
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.HandlerTimeout == 0 {
		cfg.Kafka.HandlerTimeout = 10 * time.Minute
	}
	if cfg.Kafka.ReplicationFactor == 0 {
		cfg.Kafka.ReplicationFactor = 1
	}

	if cfg.Milvus.Address == "" {
		cfg.Milvus.Address = DefaultMilvusAddress
	}
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = DefaultNeo4jURI
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// NewDefaultConfig returns a Config holding only defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Thresholds converts the scoring section.
func (s ScoringConfig) Thresholds() scoring.Thresholds {
	return scoring.Thresholds{Identical: s.Identical, High: s.High, Medium: s.Medium, Low: s.Low}
}

// ToCalibration converts the section, keeping the built-in bracket tables
// where none are configured.
func (c CalibrationConfig) ToCalibration() prediction.Calibration {
	def := prediction.DefaultCalibration()
	return prediction.Calibration{
		BaseSucceed:          c.BaseSucceed,
		BasePartial:          c.BasePartial,
		BaseFail:             c.BaseFail,
		SpreadBrackets:       brackets(c.SpreadBrackets, def.SpreadBrackets),
		SpreadOver:           c.SpreadOver,
		ContradictionPenalty: c.ContradictionPenalty,
		RateBrackets:         brackets(c.RateBrackets, def.RateBrackets),
		RateUnder:            c.RateUnder,
		PartialRateLow:       c.PartialRateLow,
		PartialRateHigh:      c.PartialRateHigh,
		PartialInRange:       c.PartialInRange,
		PartialOutOfRange:    c.PartialOutOfRange,
		VarianceBrackets:     brackets(c.VarianceBrackets, def.VarianceBrackets),
		VarianceOver:         c.VarianceOver,
		Distinctiveness:      c.Distinctiveness,
		TypeAgreement:        c.TypeAgreement,
		TypeDisagreement:     c.TypeDisagreement,
	}
}

// FromCalibration is the inverse of ToCalibration.
func FromCalibration(cal prediction.Calibration) CalibrationConfig {
	toCfg := func(bs []prediction.Bracket) []BracketConfig {
		out := make([]BracketConfig, len(bs))
		for i, b := range bs {
			out[i] = BracketConfig{Bound: b.Bound, Adjust: b.Adjust}
		}
		return out
	}
	return CalibrationConfig{
		BaseSucceed:          cal.BaseSucceed,
		BasePartial:          cal.BasePartial,
		BaseFail:             cal.BaseFail,
		SpreadBrackets:       toCfg(cal.SpreadBrackets),
		SpreadOver:           cal.SpreadOver,
		ContradictionPenalty: cal.ContradictionPenalty,
		RateBrackets:         toCfg(cal.RateBrackets),
		RateUnder:            cal.RateUnder,
		PartialRateLow:       cal.PartialRateLow,
		PartialRateHigh:      cal.PartialRateHigh,
		PartialInRange:       cal.PartialInRange,
		PartialOutOfRange:    cal.PartialOutOfRange,
		VarianceBrackets:     toCfg(cal.VarianceBrackets),
		VarianceOver:         cal.VarianceOver,
		Distinctiveness:      cal.Distinctiveness,
		TypeAgreement:        cal.TypeAgreement,
		TypeDisagreement:     cal.TypeDisagreement,
	}
}

func brackets(cfg []BracketConfig, fallback []prediction.Bracket) []prediction.Bracket {
	if len(cfg) == 0 {
		return fallback
	}
	out := make([]prediction.Bracket, len(cfg))
	for i, b := range cfg {
		out[i] = prediction.Bracket{Bound: b.Bound, Adjust: b.Adjust}
	}
	return out
}
