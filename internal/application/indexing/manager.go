// Package indexing converts chunks to embeddings and maintains the vector
// index of precedent chunks.
package indexing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// Entry is one vector bound to a chunk.
type Entry struct {
	CaseReference   string
	ChunkSequenceID int
	Section         string
	Vector          trademark.EmbeddingVector
}

// Neighbor is a query hit.
type Neighbor struct {
	CaseReference   string  `json:"case_reference"`
	ChunkSequenceID int     `json:"chunk_sequence_id"`
	Section         string  `json:"source_section,omitempty"`
	Distance        float64 `json:"distance"`
}

// SearchOptions narrows a query.
type SearchOptions struct {
	// Section restricts hits to chunks of one section label.
	Section string
}

// VectorIndex is the storage backend. Ensure must be compare-and-create:
// calling it when the index exists is a successful no-op. Upsert must replace
// entries with the same (case reference, sequence id).
type VectorIndex interface {
	Ensure(ctx context.Context, dim int) error
	Upsert(ctx context.Context, entries []Entry) error
	DeleteCase(ctx context.Context, caseRef string) error
	Search(ctx context.Context, vec trademark.EmbeddingVector, k int, opts SearchOptions) ([]Neighbor, error)
}

// EmbeddingCache memoises embeddings by key.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) (trademark.EmbeddingVector, bool, error)
	Set(ctx context.Context, key string, vec trademark.EmbeddingVector) error
}

// Config carries manager tunables.
type Config struct {
	// Dim is the embedding dimension every vector must have.
	Dim int
	// Model names the embedding model; it scopes cache keys.
	Model string
	Retry retry.Policy
}

// Manager embeds chunks and fronts the vector index.
type Manager struct {
	embedder oracle.Embedder
	index    VectorIndex
	cache    EmbeddingCache
	cfg      Config
	logger   logging.Logger

	group       singleflight.Group
	provisioned atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache enables embedding memoisation.
func WithCache(c EmbeddingCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a Manager.
func NewManager(embedder oracle.Embedder, index VectorIndex, cfg Config, opts ...Option) *Manager {
	m := &Manager{embedder: embedder, index: index, cfg: cfg, logger: logging.NewNopLogger()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dim returns the configured embedding dimension.
func (m *Manager) Dim() int { return m.cfg.Dim }

// Embed returns the embedding of chunk's text.
func (m *Manager) Embed(ctx context.Context, chunk trademark.Chunk) (trademark.EmbeddingVector, error) {
	return m.EmbedText(ctx, chunk.Text)
}

// EmbedText embeds arbitrary text. Dimension mismatches are contract
// violations; an exhausted retry budget is EmbeddingUnavailable.
func (m *Manager) EmbedText(ctx context.Context, text string) (trademark.EmbeddingVector, error) {
	key := m.cacheKey(text)
	if m.cache != nil {
		if v, ok, err := m.cache.Get(ctx, key); err == nil && ok && len(v) == m.cfg.Dim {
			return v, nil
		} else if err != nil {
			m.logger.Warn("embedding cache read failed", logging.Err(err))
		}
	}

	vec, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) (trademark.EmbeddingVector, error) {
		return m.embedder.Embed(ctx, text)
	})
	if err != nil {
		if apperrors.IsContractViolation(err) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeEmbeddingUnavailable, "embed text")
	}
	if len(vec) != m.cfg.Dim {
		return nil, apperrors.Newf(apperrors.ErrCodeOracleContractViolation,
			"embedding dimension %d, want %d", len(vec), m.cfg.Dim)
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, key, vec); err != nil {
			m.logger.Warn("embedding cache write failed", logging.Err(err))
		}
	}
	return vec, nil
}

func (m *Manager) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(m.cfg.Model + ":" + text))
	return hex.EncodeToString(sum[:])
}

// EnsureIndex provisions the index once. Concurrent callers share one
// provisioning attempt; a failed attempt is retried by the next caller.
func (m *Manager) EnsureIndex(ctx context.Context) error {
	if m.provisioned.Load() {
		return nil
	}
	_, err, _ := m.group.Do("ensure", func() (interface{}, error) {
		if m.provisioned.Load() {
			return nil, nil
		}
		err := m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			return m.index.Ensure(ctx, m.cfg.Dim)
		})
		if err != nil {
			return nil, err
		}
		m.provisioned.Store(true)
		m.logger.Info("vector index ready", logging.Int("dim", m.cfg.Dim))
		return nil, nil
	})
	if err != nil {
		return apperrors.Propagate(err, apperrors.ErrCodeIndexError, "provision vector index")
	}
	return nil
}

// Upsert stores vec for (caseRef, seq), replacing any previous vector.
func (m *Manager) Upsert(ctx context.Context, caseRef string, seq int, vec trademark.EmbeddingVector) error {
	return m.UpsertBatch(ctx, []Entry{{CaseReference: caseRef, ChunkSequenceID: seq, Vector: vec}})
}

// UpsertBatch stores entries in one backend call.
func (m *Manager) UpsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.CaseReference == "" {
			return apperrors.InvalidInput("entry without case reference")
		}
		if len(e.Vector) != m.cfg.Dim {
			return apperrors.Newf(apperrors.ErrCodeInvalidInput, "vector for %s#%d has dimension %d, want %d",
				e.CaseReference, e.ChunkSequenceID, len(e.Vector), m.cfg.Dim)
		}
	}
	if err := m.EnsureIndex(ctx); err != nil {
		return err
	}
	err := m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return m.index.Upsert(ctx, entries)
	})
	return apperrors.Propagate(err, apperrors.ErrCodeIndexError, "upsert vectors")
}

// DeleteCase removes every vector of caseRef.
func (m *Manager) DeleteCase(ctx context.Context, caseRef string) error {
	if err := m.EnsureIndex(ctx); err != nil {
		return err
	}
	err := m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return m.index.DeleteCase(ctx, caseRef)
	})
	return apperrors.Propagate(err, apperrors.ErrCodeIndexError, "delete case vectors")
}

// Query returns the k nearest chunks, ascending by distance with ties broken
// by case reference then sequence id.
func (m *Manager) Query(ctx context.Context, vec trademark.EmbeddingVector, k int) ([]Neighbor, error) {
	return m.Search(ctx, vec, k, SearchOptions{})
}

// Search is Query with options.
func (m *Manager) Search(ctx context.Context, vec trademark.EmbeddingVector, k int, opts SearchOptions) ([]Neighbor, error) {
	if k <= 0 {
		return nil, apperrors.InvalidInput("k must be positive")
	}
	if len(vec) != m.cfg.Dim {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "query dimension %d, want %d", len(vec), m.cfg.Dim)
	}
	if err := m.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	fetch := k + max(k, MinTieMargin)
	hits, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) ([]Neighbor, error) {
		return m.index.Search(ctx, vec, fetch, opts)
	})
	if err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeIndexError, "search vectors")
	}
	SortNeighbors(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// MinTieMargin is the least number of extra hits Search asks the backend for,
// so equal distances at the k boundary are ordered by SortNeighbors rather
// than by the backend.
const MinTieMargin = 10

// SortNeighbors orders hits deterministically.
func SortNeighbors(hits []Neighbor) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.CaseReference != b.CaseReference {
			return a.CaseReference < b.CaseReference
		}
		return a.ChunkSequenceID < b.ChunkSequenceID
	})
}
