package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/application/prediction"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
)

// AppMetrics holds the application metrics and implements the metrics ports
// of ingestion, prediction and the oracle decorator.
type AppMetrics struct {
	collector MetricsCollector

	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	IngestionTotal    CounterVec
	IngestionDuration HistogramVec
	ChunksIndexed     CounterVec
	VectorsUpserted   CounterVec

	PredictionsTotal     CounterVec
	PredictionConfidence HistogramVec

	OracleCallsTotal   CounterVec
	OracleCallDuration HistogramVec

	CacheRequestsTotal CounterVec
	HealthCheckStatus  GaugeVec
}

var (
	_ ingestion.Metrics  = (*AppMetrics)(nil)
	_ prediction.Metrics = (*AppMetrics)(nil)
	_ oracle.Metrics     = (*AppMetrics)(nil)
)

var (
	DefaultHTTPDurationBuckets      = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultIngestionDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800}
	DefaultOracleDurationBuckets    = []float64{.25, .5, 1, 2, 5, 10, 30, 60, 120}
	ConfidenceBuckets               = []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1}
)

// NewAppMetrics registers every metric on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{collector: collector}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "In-flight HTTP requests", "method")

	m.IngestionTotal = collector.RegisterCounter("ingestion_total", "Document ingestions by outcome", "status")
	m.IngestionDuration = collector.RegisterHistogram("ingestion_duration_seconds", "Document ingestion duration", DefaultIngestionDurationBuckets, "status")
	m.ChunksIndexed = collector.RegisterCounter("chunks_indexed_total", "Chunks persisted by ingestion")
	m.VectorsUpserted = collector.RegisterCounter("vectors_upserted_total", "Chunk embeddings upserted into the vector index")

	m.PredictionsTotal = collector.RegisterCounter("predictions_total", "Opposition outcome predictions", "result")
	m.PredictionConfidence = collector.RegisterHistogram("prediction_confidence", "Confidence of outcome predictions", ConfidenceBuckets, "result")

	m.OracleCallsTotal = collector.RegisterCounter("oracle_calls_total", "Oracle calls", "operation", "status")
	m.OracleCallDuration = collector.RegisterHistogram("oracle_call_duration_seconds", "Oracle call duration", DefaultOracleDurationBuckets, "operation")

	m.CacheRequestsTotal = collector.RegisterCounter("cache_requests_total", "Cache lookups", "cache", "result")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Dependency health (1=up, 0=down)", "component")

	return m
}

func (m *AppMetrics) Collector() MetricsCollector { return m.collector }

func (m *AppMetrics) ObserveIngestion(status string, d time.Duration) {
	m.IngestionTotal.WithLabelValues(status).Inc()
	m.IngestionDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *AppMetrics) AddChunks(n int) {
	if n > 0 {
		m.ChunksIndexed.WithLabelValues().Add(float64(n))
	}
}

func (m *AppMetrics) AddVectors(n int) {
	if n > 0 {
		m.VectorsUpserted.WithLabelValues().Add(float64(n))
	}
}

func (m *AppMetrics) ObservePrediction(result string, confidence float64) {
	m.PredictionsTotal.WithLabelValues(result).Inc()
	m.PredictionConfidence.WithLabelValues(result).Observe(confidence)
}

func (m *AppMetrics) ObserveOracleCall(op, status string, d time.Duration) {
	m.OracleCallsTotal.WithLabelValues(op, status).Inc()
	m.OracleCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *AppMetrics) RecordHTTPRequest(method, path string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// InFlight counts a request as active until the returned func is called.
func (m *AppMetrics) InFlight(method string) func() {
	g := m.HTTPActiveRequests.WithLabelValues(method)
	g.Inc()
	return g.Dec
}

func (m *AppMetrics) RecordCacheAccess(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

func (m *AppMetrics) SetHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// ConsumerStatsFunc reports processed, failed, retried and dead-lettered
// message counts.
type ConsumerStatsFunc func() (processed, failed, retried, deadLettered int64)

// RegisterConsumerStats exposes a consumer's running counters as
// kafka_messages_total{outcome}.
func (m *AppMetrics) RegisterConsumerStats(group string, stats ConsumerStatsFunc) {
	pick := []func(p, f, r, d int64) int64{
		func(p, _, _, _ int64) int64 { return p },
		func(_, f, _, _ int64) int64 { return f },
		func(_, _, r, _ int64) int64 { return r },
		func(_, _, _, d int64) int64 { return d },
	}
	for i, outcome := range []string{"processed", "failed", "retried", "dead_lettered"} {
		sel := pick[i]
		m.collector.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace(),
			Name:        "kafka_messages_total",
			Help:        "Kafka messages handled by the ingestion consumer",
			ConstLabels: prometheus.Labels{"group": group, "outcome": outcome},
		}, func() float64 {
			return float64(sel(stats()))
		}))
	}
}

func (m *AppMetrics) namespace() string {
	if pc, ok := m.collector.(*prometheusCollector); ok {
		return pc.config.Namespace
	}
	return ""
}
