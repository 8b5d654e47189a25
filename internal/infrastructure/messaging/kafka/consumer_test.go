package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
)

type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockKafkaReader) Close() error { return nil }

func (m *mockKafkaReader) commits() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.committed...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg *ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newTestConsumer(r ReaderInterface, dlq Publisher) *Consumer {
	return newConsumerWith(r, ConsumerConfig{
		Brokers:         []string{"localhost:9092"},
		GroupID:         "oppo-ingest",
		Topics:          []string{TopicObjectCreated},
		DeadLetterTopic: TopicObjectCreatedDLQ,
		Retry:           fastRetry(),
	}, dlq, nil)
}

func TestValidateConsumerConfig(t *testing.T) {
	valid := ConsumerConfig{Brokers: []string{"b:9092"}, GroupID: "g", Topics: []string{"t"}}
	assert.NoError(t, ValidateConsumerConfig(valid))

	noBrokers := valid
	noBrokers.Brokers = nil
	assert.Error(t, ValidateConsumerConfig(noBrokers))

	noTopics := valid
	noTopics.Topics = nil
	assert.Error(t, ValidateConsumerConfig(noTopics))

	badReset := valid
	badReset.AutoOffsetReset = "middle"
	assert.Error(t, ValidateConsumerConfig(badReset))

	badSASL := valid
	badSASL.Security = SecurityConfig{SASLEnabled: true, SASLMechanism: "GSSAPI", SASLUsername: "u", SASLPassword: "p"}
	assert.True(t, errors.IsValidation(ValidateConsumerConfig(badSASL)))
}

func TestStart_AlreadyRunning(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{}, nil)
	c.running.Store(true)
	assert.Equal(t, ErrAlreadyRunning, c.Start(context.Background()))
}

func TestConsumeLoop_ProcessesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicObjectCreated, Offset: 7, Value: []byte("value"), Headers: []kafka.Header{{Key: "k", Value: []byte("v")}}},
	}}
	c := newTestConsumer(reader, nil)

	handled := make(chan *Message, 1)
	c.Subscribe(TopicObjectCreated, func(ctx context.Context, msg *Message) error {
		handled <- msg
		return nil
	})
	require.NoError(t, c.Start(context.Background()))

	select {
	case msg := <-handled:
		assert.Equal(t, "value", string(msg.Value))
		assert.Equal(t, "v", msg.Headers["k"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}

	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	processed, failed, _, _ := c.Stats()
	assert.Equal(t, int64(1), processed)
	assert.Zero(t, failed)
}

func TestConsumeLoop_CommitsUnroutedMessages(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: "other", Offset: 1}}}
	c := newTestConsumer(reader, nil)
	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
}

func TestProcessMessage_RetriesTransientErrors(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{}, nil)

	attempts := 0
	err := c.processMessage(context.Background(), &Message{Topic: TopicObjectCreated}, func(ctx context.Context, msg *Message) error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.ErrCodeStorageError, "minio unavailable")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	_, _, retried, _ := c.Stats()
	assert.Equal(t, int64(2), retried)
}

func TestProcessMessage_PermanentErrorGoesToDeadLetter(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newTestConsumer(&mockKafkaReader{}, dlq)

	attempts := 0
	msg := &Message{Topic: TopicObjectCreated, Partition: 2, Offset: 41, Key: []byte("k"), Value: []byte("{}"), Headers: map[string]string{"trace": "t1"}}
	err := c.processMessage(context.Background(), msg, func(ctx context.Context, msg *Message) error {
		attempts++
		return errors.New(errors.ErrCodeTextExtraction, "not a pdf")
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	require.Len(t, dlq.msgs, 1)
	dl := dlq.msgs[0]
	assert.Equal(t, TopicObjectCreatedDLQ, dl.Topic)
	assert.Equal(t, "{}", string(dl.Value))
	assert.Equal(t, TopicObjectCreated, dl.Headers[HeaderOriginalTopic])
	assert.Equal(t, "2", dl.Headers[HeaderOriginalPartition])
	assert.Equal(t, "41", dl.Headers[HeaderOriginalOffset])
	assert.Equal(t, string(errors.ErrCodeTextExtraction), dl.Headers[HeaderErrorCode])
	assert.Equal(t, "t1", dl.Headers["trace"])
	_, failed, _, dead := c.Stats()
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, int64(1), dead)
}

func TestProcessMessage_RetriesExhaustedGoesToDeadLetter(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newTestConsumer(&mockKafkaReader{}, dlq)

	attempts := 0
	err := c.processMessage(context.Background(), &Message{Topic: TopicObjectCreated}, func(ctx context.Context, msg *Message) error {
		attempts++
		return errors.New(errors.ErrCodeDatabaseError, "db down")
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, dlq.msgs, 1)
}

func TestProcessMessage_CancelledContextSkipsDeadLetter(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newTestConsumer(&mockKafkaReader{}, dlq)

	ctx, cancel := context.WithCancel(context.Background())
	err := c.processMessage(ctx, &Message{}, func(context.Context, *Message) error {
		cancel()
		return errors.New(errors.ErrCodeDatabaseError, "interrupted")
	})

	assert.Error(t, err)
	assert.Empty(t, dlq.msgs)
}
