// Package worker turns object-created messages into ingestion runs.
package worker

import (
	"context"
	"time"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// Ingester runs one ingestion.
type Ingester interface {
	Ingest(ctx context.Context, req ingestion.IngestRequest) (*ingestion.IngestResult, error)
}

// Publisher announces finished ingestions. Optional.
type Publisher interface {
	Publish(ctx context.Context, msg *kafka.ProducerMessage) error
}

// Handler ingests every object named by an object-created message.
type Handler struct {
	ingester  Ingester
	publisher Publisher
	buckets   map[string]bool
	logger    logging.Logger
}

// NewHandler returns a Handler. When buckets is non-empty, objects in other
// buckets are ignored.
func NewHandler(ingester Ingester, publisher Publisher, buckets []string, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	h := &Handler{ingester: ingester, publisher: publisher, logger: logger.Named("worker")}
	if len(buckets) > 0 {
		h.buckets = make(map[string]bool, len(buckets))
		for _, b := range buckets {
			h.buckets[b] = true
		}
	}
	return h
}

// Handle implements kafka.MessageHandler. Malformed messages fail
// permanently. A run overtaken by a newer run of the same case is not a
// failure.
func (h *Handler) Handle(ctx context.Context, msg *kafka.Message) error {
	objects, err := kafka.ParseObjectCreated(msg.Value)
	if err != nil {
		return errors.Propagate(err, errors.ErrCodeInvalidInput, "unreadable object-created message")
	}

	for _, obj := range objects {
		if h.buckets != nil && !h.buckets[obj.Bucket] {
			h.logger.Debug("Ignoring object in unwatched bucket",
				logging.String("bucket", obj.Bucket), logging.String("key", obj.ObjectKey))
			continue
		}
		if !ingestion.IsIngestible(obj.ObjectKey) {
			h.logger.Debug("Ignoring non-pdf object", logging.String("key", obj.ObjectKey))
			continue
		}
		if err := h.ingest(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) ingest(ctx context.Context, obj kafka.ObjectCreatedPayload) error {
	req := ingestion.IngestRequest{Bucket: obj.Bucket, ObjectKey: obj.ObjectKey}
	res, err := h.ingester.Ingest(ctx, req)
	if errors.IsCode(err, errors.ErrCodeSuperseded) {
		h.logger.Info("Ingestion superseded", logging.String("key", obj.ObjectKey))
		return nil
	}
	if err != nil {
		return err
	}
	if res == nil || res.Skipped {
		return nil
	}

	h.logger.Info("Case ingested",
		logging.String("case_reference", res.CaseReference),
		logging.Int64("generation", res.Generation),
		logging.Int("chunks", res.ChunkCount),
		logging.Duration("duration", res.Duration),
	)
	h.announce(ctx, obj, res)
	return nil
}

// announce publishes a case-ingested event. Failures are logged only since
// the case is already stored.
func (h *Handler) announce(ctx context.Context, obj kafka.ObjectCreatedPayload, res *ingestion.IngestResult) {
	if h.publisher == nil {
		return
	}
	env, err := kafka.NewEventEnvelope(kafka.EventCaseIngested, "oppo-worker", kafka.CaseIngestedPayload{
		CaseReference: res.CaseReference,
		Generation:    res.Generation,
		Bucket:        obj.Bucket,
		ObjectKey:     obj.ObjectKey,
		ChunkCount:    res.ChunkCount,
		VectorCount:   res.VectorCount,
		IngestedAt:    time.Now().UTC(),
	})
	if err == nil {
		var out *kafka.ProducerMessage
		if out, err = env.ToMessage(kafka.TopicCaseIngested, res.CaseReference); err == nil {
			err = h.publisher.Publish(ctx, out)
		}
	}
	if err != nil {
		h.logger.Warn("Failed to publish case-ingested event",
			logging.String("case_reference", res.CaseReference), logging.Err(err))
	}
}
