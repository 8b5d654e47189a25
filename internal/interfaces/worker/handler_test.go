package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/Opposition-Intelligence/internal/testutil"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Ingest(ctx context.Context, req ingestion.IngestRequest) (*ingestion.IngestResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*ingestion.IngestResult)
	return res, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, msg *kafka.ProducerMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func notification(bucket string, keys ...string) *kafka.Message {
	type rec struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	}
	var body struct {
		Records []rec `json:"Records"`
	}
	for _, k := range keys {
		var r rec
		r.EventName = "s3:ObjectCreated:Put"
		r.S3.Bucket.Name = bucket
		r.S3.Object.Key = k
		body.Records = append(body.Records, r)
	}
	data, _ := json.Marshal(body)
	return &kafka.Message{Topic: kafka.TopicObjectCreated, Value: data}
}

func TestHandle_IngestsPDFsAndAnnounces(t *testing.T) {
	ctx := context.Background()
	ing := new(mockIngester)
	pub := new(mockPublisher)
	h := NewHandler(ing, pub, []string{"raw"}, nil)

	ing.On("Ingest", ctx, ingestion.IngestRequest{Bucket: "raw", ObjectKey: "O-0001-24.pdf"}).
		Return(&ingestion.IngestResult{CaseReference: "O/0001/24", Generation: 2, ChunkCount: 5, VectorCount: 5}, nil)
	pub.On("Publish", ctx, mock.MatchedBy(func(m *kafka.ProducerMessage) bool {
		return m.Topic == kafka.TopicCaseIngested && string(m.Key) == "O/0001/24"
	})).Return(nil)

	require.NoError(t, h.Handle(ctx, notification("raw", "O-0001-24.pdf", "notes.txt")))
	ing.AssertNumberOfCalls(t, "Ingest", 1)
	pub.AssertExpectations(t)
}

func TestHandle_IgnoresUnwatchedBucket(t *testing.T) {
	ing := new(mockIngester)
	h := NewHandler(ing, nil, []string{"raw"}, nil)

	require.NoError(t, h.Handle(context.Background(), notification("processed", "O-0001-24.pdf")))
	ing.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestHandle_SupersededIsNotAFailure(t *testing.T) {
	ing := new(mockIngester)
	logger := testutil.NewMockLogger()
	h := NewHandler(ing, nil, nil, logger)
	ing.On("Ingest", mock.Anything, mock.Anything).Return(nil, ingestion.ErrSuperseded)

	assert.NoError(t, h.Handle(context.Background(), notification("raw", "O-0001-24.pdf")))
	assert.True(t, logger.HasMessage("info", "Ingestion superseded"))
}

func TestHandle_PropagatesIngestionErrors(t *testing.T) {
	ing := new(mockIngester)
	h := NewHandler(ing, nil, nil, nil)
	ing.On("Ingest", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeStorageError, "minio down"))

	err := h.Handle(context.Background(), notification("raw", "O-0001-24.pdf"))
	assert.True(t, errors.IsTransient(err))
}

func TestHandle_MalformedMessageIsPermanent(t *testing.T) {
	h := NewHandler(new(mockIngester), nil, nil, nil)
	err := h.Handle(context.Background(), &kafka.Message{Value: []byte("not json")})
	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))
}

func TestHandle_PublishFailureIsLoggedOnly(t *testing.T) {
	ctx := context.Background()
	ing := new(mockIngester)
	pub := new(mockPublisher)
	logger := testutil.NewMockLogger()
	h := NewHandler(ing, pub, nil, logger)
	ing.On("Ingest", ctx, mock.Anything).Return(&ingestion.IngestResult{CaseReference: "O/0002/24"}, nil)
	pub.On("Publish", ctx, mock.Anything).Return(errors.New(errors.ErrCodeMessagingError, "broker down"))

	assert.NoError(t, h.Handle(ctx, notification("raw", "O-0002-24.pdf")))
	assert.True(t, logger.HasMessage("warn", "Failed to publish case-ingested event"))
	for _, m := range logger.GetMessages() {
		assert.Equal(t, "worker", m.Logger)
	}
}

func TestHandle_SkippedResultIsNotAnnounced(t *testing.T) {
	ing := new(mockIngester)
	pub := new(mockPublisher)
	h := NewHandler(ing, pub, nil, nil)
	ing.On("Ingest", mock.Anything, mock.Anything).Return(&ingestion.IngestResult{Skipped: true}, nil)

	assert.NoError(t, h.Handle(context.Background(), notification("raw", "x.pdf")))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
