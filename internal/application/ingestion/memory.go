package ingestion

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// MemorySupersession keeps generations in process memory.
type MemorySupersession struct {
	mu   sync.Mutex
	gens map[string]int64
}

// NewMemorySupersession returns an empty MemorySupersession.
func NewMemorySupersession() *MemorySupersession {
	return &MemorySupersession{gens: make(map[string]int64)}
}

func (s *MemorySupersession) Begin(_ context.Context, caseRef string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[caseRef]++
	return &memoryToken{s: s, caseRef: caseRef, gen: s.gens[caseRef]}, nil
}

type memoryToken struct {
	s       *MemorySupersession
	caseRef string
	gen     int64
}

func (t *memoryToken) Generation() int64 { return t.gen }

func (t *memoryToken) Current(context.Context) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.gens[t.caseRef] == t.gen, nil
}

// MemoryRepository is an in-process CaseRepository.
type MemoryRepository struct {
	mu     sync.RWMutex
	cases  map[string]trademark.CaseRecord
	chunks map[string][]trademark.Chunk
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cases:  make(map[string]trademark.CaseRecord),
		chunks: make(map[string][]trademark.Chunk),
	}
}

func (r *MemoryRepository) SaveCase(_ context.Context, rec *trademark.CaseRecord, chunks []trademark.Chunk) error {
	if rec == nil || rec.CaseReference == "" {
		return apperrors.InvalidInput("case record without reference")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.cases[rec.CaseReference]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	r.cases[rec.CaseReference] = *rec
	r.chunks[rec.CaseReference] = append([]trademark.Chunk(nil), chunks...)
	return nil
}

func (r *MemoryRepository) UpdateState(_ context.Context, caseRef string, state trademark.ProcessingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.cases[caseRef]
	if !ok {
		return apperrors.Newf(apperrors.ErrCodeCaseNotFound, "case %s not found", caseRef)
	}
	rec.State = state
	r.cases[caseRef] = rec
	return nil
}

func (r *MemoryRepository) GetCase(_ context.Context, caseRef string) (*trademark.CaseRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.cases[caseRef]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeCaseNotFound, "case %s not found", caseRef)
	}
	return &rec, nil
}

func (r *MemoryRepository) GetChunk(_ context.Context, caseRef string, seq int) (*trademark.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.chunks[caseRef] {
		if c.ChunkSequenceID == seq {
			c := c
			return &c, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "chunk %s#%d not found", caseRef, seq)
}

func (r *MemoryRepository) ListChunks(_ context.Context, caseRef string) ([]trademark.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]trademark.Chunk(nil), r.chunks[caseRef]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkSequenceID < out[j].ChunkSequenceID })
	return out, nil
}

// Cases returns the stored case references in order.
func (r *MemoryRepository) Cases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.cases))
	for k := range r.cases {
		refs = append(refs, k)
	}
	sort.Strings(refs)
	return refs
}

// MemoryObjectStore is an in-process ObjectStore.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryObjectStore returns an empty store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

// Put stores data under bucket/key.
func (s *MemoryObjectStore) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
}

// Has reports whether bucket/key exists.
func (s *MemoryObjectStore) Has(bucket, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[objectKey(bucket, key)]
	return ok
}

func (s *MemoryObjectStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "object %s/%s not found", bucket, key)
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryObjectStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	b, err := s.Get(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	s.Put(dstBucket, dstKey, b)
	return nil
}
