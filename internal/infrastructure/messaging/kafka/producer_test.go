package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

type mockKafkaWriter struct {
	written []kafka.Message
	err     error
	closes  int
}

func (m *mockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closes++
	return nil
}

func newTestProducer(w WriterInterface) *Producer {
	return newProducerWith(w, ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 64}, nil)
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}, MaxRetries: -1}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{
		Brokers:  []string{"b"},
		Security: SecurityConfig{TLSEnabled: true},
	}))
}

func TestPublish(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &ProducerMessage{
		Topic:   TopicCaseIngested,
		Key:     []byte("O-0001-24"),
		Value:   []byte(`{"a":1}`),
		Headers: map[string]string{"event_type": EventCaseIngested},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, TopicCaseIngested, w.written[0].Topic)
	assert.Equal(t, "O-0001-24", string(w.written[0].Key))
	assert.False(t, w.written[0].Time.IsZero())
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte(EventCaseIngested)}}, w.written[0].Headers)
	assert.Equal(t, int64(1), p.Sent())
}

func TestPublish_Validation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, apperrors.IsValidation(p.Publish(ctx, &ProducerMessage{Value: []byte("x")})))
	assert.True(t, apperrors.IsValidation(p.Publish(ctx, &ProducerMessage{Topic: "t"})))
	assert.True(t, apperrors.IsValidation(p.Publish(ctx, &ProducerMessage{Topic: "t", Value: []byte(strings.Repeat("x", 65))})))
}

func TestPublish_WriteError(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{err: errors.New("leader not available")})
	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("x")})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMessagingError))
}

func TestClose_Idempotent(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closes)
	assert.Equal(t, ErrProducerClosed, p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("x")}))
}
