// Package ingestion turns a decided case document into a case record, a set
// of section-labelled chunks and their vectors.
package ingestion

import (
	"context"
	"time"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// ObjectStore reads raw documents and archives processed ones.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
}

// TextExtractor turns raw document bytes into page-indexed text. Pages are
// numbered from 1.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) ([]trademark.Page, error)
}

// CaseExtractor produces one structured extraction pass.
type CaseExtractor interface {
	ExtractCase(ctx context.Context, pages []trademark.Page) (*trademark.CaseExtraction, error)
}

// CaseRepository persists case records and their chunks. SaveCase must
// replace every chunk row of the case atomically.
type CaseRepository interface {
	SaveCase(ctx context.Context, rec *trademark.CaseRecord, chunks []trademark.Chunk) error
	UpdateState(ctx context.Context, caseRef string, state trademark.ProcessingState) error
	GetCase(ctx context.Context, caseRef string) (*trademark.CaseRecord, error)
	GetChunk(ctx context.Context, caseRef string, seq int) (*trademark.Chunk, error)
	ListChunks(ctx context.Context, caseRef string) ([]trademark.Chunk, error)
}

// VectorWriter is the part of the index manager ingestion needs.
type VectorWriter interface {
	Embed(ctx context.Context, chunk trademark.Chunk) (trademark.EmbeddingVector, error)
	DeleteCase(ctx context.Context, caseRef string) error
	UpsertBatch(ctx context.Context, entries []indexing.Entry) error
}

// Supersession hands out generation tokens per case. Beginning a run makes
// every earlier token of the same case stale.
type Supersession interface {
	Begin(ctx context.Context, caseRef string) (Token, error)
}

// Token is one run's claim on a case.
type Token interface {
	Generation() int64
	// Current reports whether no newer run has begun.
	Current(ctx context.Context) (bool, error)
}

// KeywordIndex is an optional full-text index of chunks.
type KeywordIndex interface {
	IndexChunks(ctx context.Context, caseRef string, chunks []trademark.Chunk) error
}

// CitationGraph is an optional store of case-to-case citations.
type CitationGraph interface {
	RecordCitations(ctx context.Context, caseRef string, cited []string) error
}

// Metrics receives ingestion telemetry.
type Metrics interface {
	ObserveIngestion(status string, d time.Duration)
	AddChunks(n int)
	AddVectors(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveIngestion(string, time.Duration) {}
func (nopMetrics) AddChunks(int)                          {}
func (nopMetrics) AddVectors(int)                         {}
