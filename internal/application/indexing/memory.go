package indexing

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// MemoryIndex is an exact in-process VectorIndex using squared L2 distance,
// the metric the Milvus backend is configured with.
type MemoryIndex struct {
	mu      sync.RWMutex
	created bool
	dim     int
	creates int
	entries map[string]Entry
}

// NewMemoryIndex returns an empty, unprovisioned index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

// PrimaryKey is the storage key of a chunk vector.
func PrimaryKey(caseRef string, seq int) string {
	return fmt.Sprintf("%s#%d", caseRef, seq)
}

func (m *MemoryIndex) Ensure(_ context.Context, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created {
		if m.dim != dim {
			return apperrors.Newf(apperrors.ErrCodeConfigurationError, "index exists with dimension %d, want %d", m.dim, dim)
		}
		return nil
	}
	m.created, m.dim = true, dim
	m.creates++
	return nil
}

// Creates returns how many times the index was actually created.
func (m *MemoryIndex) Creates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates
}

func (m *MemoryIndex) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return apperrors.New(apperrors.ErrCodeIndexError, "index not provisioned")
	}
	for _, e := range entries {
		e.Vector = append(trademark.EmbeddingVector(nil), e.Vector...)
		m.entries[PrimaryKey(e.CaseReference, e.ChunkSequenceID)] = e
	}
	return nil
}

func (m *MemoryIndex) DeleteCase(_ context.Context, caseRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.CaseReference == caseRef {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vec trademark.EmbeddingVector, k int, opts SearchOptions) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.created {
		return nil, apperrors.New(apperrors.ErrCodeIndexError, "index not provisioned")
	}
	out := make([]Neighbor, 0, len(m.entries))
	for _, e := range m.entries {
		if opts.Section != "" && e.Section != opts.Section {
			continue
		}
		out = append(out, Neighbor{
			CaseReference:   e.CaseReference,
			ChunkSequenceID: e.ChunkSequenceID,
			Section:         e.Section,
			Distance:        squaredL2(vec, e.Vector),
		})
	}
	SortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Count returns the number of stored vectors, optionally for one case.
func (m *MemoryIndex) Count(caseRef string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if caseRef == "" {
		return len(m.entries)
	}
	n := 0
	for _, e := range m.entries {
		if e.CaseReference == caseRef {
			n++
		}
	}
	return n
}

func squaredL2(a, b trademark.EmbeddingVector) float64 {
	var d float64
	for i := range a {
		if i >= len(b) {
			break
		}
		x := float64(a[i]) - float64(b[i])
		d += x * x
	}
	return d
}
