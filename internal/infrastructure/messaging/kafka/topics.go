package kafka

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

const (
	TopicObjectCreated    = "oppo.storage.object.created"
	TopicObjectCreatedDLQ = "oppo.storage.object.created.dlq"
	TopicCaseIngested     = "oppo.case.ingested"
)

// Event types carried in EventEnvelope.EventType.
const (
	EventObjectCreated = "storage.object.created"
	EventCaseIngested  = "case.ingested"
)

// EventEnvelope is the service's own event format.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ObjectCreatedPayload names a stored object to ingest.
type ObjectCreatedPayload struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

// CaseIngestedPayload announces a finished ingestion.
type CaseIngestedPayload struct {
	CaseReference string    `json:"case_reference"`
	Generation    int64     `json:"generation"`
	Bucket        string    `json:"bucket"`
	ObjectKey     string    `json:"object_key"`
	ChunkCount    int       `json:"chunk_count"`
	VectorCount   int       `json:"vector_count"`
	IngestedAt    time.Time `json:"ingested_at"`
}

func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "event has no payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode event payload")
	}
	return nil
}

// ToMessage encodes the envelope for topic, keyed by key.
func (e *EventEnvelope) ToMessage(topic, key string) (*ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		"event_type":     e.EventType,
		"source_service": e.Source,
		"schema_version": e.SchemaVersion,
	}
	if e.TraceID != "" {
		headers["trace_id"] = e.TraceID
	}
	return &ProducerMessage{
		Topic:     topic,
		Key:       []byte(key),
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}, nil
}

// s3Event is the subset of the S3/MinIO bucket notification we read.
type s3Event struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseObjectCreated extracts the objects named by an object-created
// message. It accepts a MinIO/S3 bucket notification or an EventEnvelope
// carrying ObjectCreatedPayload. Object keys in notifications are URL-encoded.
func ParseObjectCreated(value []byte) ([]ObjectCreatedPayload, error) {
	if len(value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(value, &shape); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "message is not a JSON object")
	}

	if _, ok := shape["Records"]; ok {
		var ev s3Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "malformed bucket notification")
		}
		out := make([]ObjectCreatedPayload, 0, len(ev.Records))
		for _, r := range ev.Records {
			if r.EventName != "" && !strings.HasPrefix(r.EventName, "s3:ObjectCreated:") {
				continue
			}
			key, err := url.QueryUnescape(r.S3.Object.Key)
			if err != nil {
				key = r.S3.Object.Key
			}
			if r.S3.Bucket.Name == "" || key == "" {
				continue
			}
			out = append(out, ObjectCreatedPayload{Bucket: r.S3.Bucket.Name, ObjectKey: key})
		}
		return out, nil
	}

	if _, ok := shape["payload"]; ok {
		var env EventEnvelope
		if err := json.Unmarshal(value, &env); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "malformed event envelope")
		}
		if env.EventType != "" && env.EventType != EventObjectCreated {
			return nil, errors.Newf(errors.ErrCodeValidation, "unexpected event type %q", env.EventType)
		}
		var p ObjectCreatedPayload
		if err := env.DecodePayload(&p); err != nil {
			return nil, err
		}
		if p.Bucket == "" || p.ObjectKey == "" {
			return nil, errors.New(errors.ErrCodeValidation, "event payload requires bucket and object_key")
		}
		return []ObjectCreatedPayload{p}, nil
	}

	return nil, errors.New(errors.ErrCodeValidation, "unrecognised object-created message")
}

// TopicConfig describes a topic to provision.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager provisions topics.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessagingError, "failed to dial kafka")
	}
	return &TopicManager{conn: conn, logger: logger}, nil
}

func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 || cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "partitions and replication factor must be > 0")
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(cfg.RetentionMs, 10),
		})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if exists, _ := m.TopicExists(ctx, cfg.Name); exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to create topic").WithDetail(cfg.Name)
	}
	m.logger.Info("Topic created", logging.String("topic", cfg.Name))
	return nil
}

func (m *TopicManager) TopicExists(ctx context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// DefaultTopics returns the topics of the ingestion pipeline for the given
// replication factor.
func DefaultTopics(replication int) []TopicConfig {
	if replication <= 0 {
		replication = 1
	}
	const day = int64(24 * 3600 * 1000)
	return []TopicConfig{
		{Name: TopicObjectCreated, NumPartitions: 6, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: TopicObjectCreatedDLQ, NumPartitions: 1, ReplicationFactor: replication, RetentionMs: 30 * day},
		{Name: TopicCaseIngested, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 7 * day},
	}
}
