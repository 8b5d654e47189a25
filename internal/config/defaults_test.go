package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/domain/prediction"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/scoring"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/messaging/kafka"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultServerMode, cfg.Server.Mode)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultOracleProvider, cfg.Oracle.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.Oracle.Model)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, scoring.DefaultThresholds(), cfg.Scoring.Thresholds())
	assert.Equal(t, 1500, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, DefaultCollection, cfg.Indexing.Collection)
	assert.Equal(t, DefaultExtractionPasses, cfg.Ingestion.ExtractionPasses)
	assert.Equal(t, DefaultMaxPairs, cfg.Prediction.MaxPairs)
	assert.Equal(t, 60, cfg.Precedent.RRFK)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Kafka.Brokers)
	assert.Equal(t, kafka.TopicObjectCreated, cfg.Kafka.ObjectCreatedTopic)
	assert.Equal(t, kafka.TopicObjectCreatedDLQ, cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9999
	cfg.Kafka.GroupID = "custom"
	cfg.Ingestion.ExtractionPasses = 3
	cfg.Retry.InitialBackoff = 50 * time.Millisecond
	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "custom", cfg.Kafka.GroupID)
	assert.Equal(t, 3, cfg.Ingestion.ExtractionPasses)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialBackoff)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestApplyDefaults_CalibrationFilledAsAWhole(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, prediction.DefaultCalibration(), cfg.Prediction.Calibration.ToCalibration())

	// One explicit base keeps the rest of the table as configured.
	cfg = &Config{}
	cfg.Prediction.Calibration.BaseFail = 0.6
	ApplyDefaults(cfg)
	assert.Equal(t, 0.6, cfg.Prediction.Calibration.BaseFail)
	assert.Zero(t, cfg.Prediction.Calibration.BaseSucceed)
}

func TestCalibrationConfig_EmptyBracketsUseBuiltIn(t *testing.T) {
	c := CalibrationConfig{
		BaseSucceed:    0.8,
		RateBrackets:   []BracketConfig{{Bound: 0.9, Adjust: 0.1}},
		PartialRateLow: 0.2,
	}
	cal := c.ToCalibration()

	def := prediction.DefaultCalibration()
	assert.Equal(t, 0.8, cal.BaseSucceed)
	assert.Equal(t, def.SpreadBrackets, cal.SpreadBrackets)
	assert.Equal(t, def.VarianceBrackets, cal.VarianceBrackets)
	assert.Equal(t, []prediction.Bracket{{Bound: 0.9, Adjust: 0.1}}, cal.RateBrackets)
}

func TestFromCalibration_RoundTrip(t *testing.T) {
	def := prediction.DefaultCalibration()
	got := FromCalibration(def).ToCalibration()
	require.Equal(t, def, got)
}

func TestNewDefaultConfig_ValidWithAPIKey(t *testing.T) {
	cfg := NewDefaultConfig()
	require.Error(t, cfg.Validate(), "gemini needs a key")

	cfg.Oracle.APIKey = "k"
	assert.NoError(t, cfg.Validate())
}
