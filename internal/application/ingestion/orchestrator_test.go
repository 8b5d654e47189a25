package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/chunking"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/pdftext"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle/fake"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

const (
	rawBucket = "raw"
	testObjectKey = "decisions/O-0123-24.pdf"
	caseRef   = "O/0123/24"
)

type recordingKeywords struct {
	mu     sync.Mutex
	chunks map[string]int
}

func (k *recordingKeywords) IndexChunks(_ context.Context, ref string, chunks []trademark.Chunk) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.chunks[ref] = len(chunks)
	return nil
}

type recordingCitations struct {
	cited map[string][]string
}

func (c *recordingCitations) RecordCitations(_ context.Context, ref string, cited []string) error {
	c.cited[ref] = cited
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	statuses []string
	chunks   int
	vectors  int
}

func (m *countingMetrics) ObserveIngestion(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}
func (m *countingMetrics) AddChunks(n int)  { m.chunks += n }
func (m *countingMetrics) AddVectors(n int) { m.vectors += n }

type harness struct {
	oracle    *fake.Oracle
	store     *MemoryObjectStore
	repo      *MemoryRepository
	index     *indexing.MemoryIndex
	sup       *MemorySupersession
	keywords  *recordingKeywords
	citations *recordingCitations
	metrics   *countingMetrics
	orch      *Orchestrator
	afterSave func()
}

// savingRepo runs the harness afterSave hook once a case is stored.
type savingRepo struct {
	*MemoryRepository
	h *harness
}

func (r savingRepo) SaveCase(ctx context.Context, rec *trademark.CaseRecord, chunks []trademark.Chunk) error {
	if err := r.MemoryRepository.SaveCase(ctx, rec, chunks); err != nil {
		return err
	}
	if r.h.afterSave != nil {
		r.h.afterSave()
	}
	return nil
}

func decisionText() string {
	pages := []string{
		"TRADE MARKS ACT 1994\nIN THE MATTER OF APPLICATION 3456789\nBACKGROUND AND PLEADINGS\n\nAcme Ltd applied to register ACME. Zenith plc opposed the application.",
		"Comparison of goods and services\n\nThe applicant's goods are beer. The opponent's goods are mineral water. They are similar to a medium degree.",
		"Likelihood of confusion\n\nTaking all factors into account there is a likelihood of direct confusion. See O/0042/19.",
		"Conclusion\n\nThe opposition succeeds in full.",
	}
	return strings.Join(pages, "\f")
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		oracle:    fake.New(),
		store:     NewMemoryObjectStore(),
		repo:      NewMemoryRepository(),
		index:     indexing.NewMemoryIndex(),
		sup:       NewMemorySupersession(),
		keywords:  &recordingKeywords{chunks: map[string]int{}},
		citations: &recordingCitations{cited: map[string][]string{}},
		metrics:   &countingMetrics{},
	}
	yes := true
	h.oracle.ExtractFunc = func([]trademark.Page) (*trademark.CaseExtraction, error) {
		return &trademark.CaseExtraction{
			CaseReference:         caseRef,
			Jurisdiction:          "ukipo",
			ApplicantName:         "Acme Ltd",
			OpponentName:          "Zenith plc",
			LikelihoodOfConfusion: &yes,
			ConfusionType:         "direct",
			OppositionOutcome:     "successful",
			PrecedentsCited:       []trademark.CitedPrecedent{{CaseName: "Earlier", CaseReference: "O/0042/19"}},
		}, nil
	}
	h.store.Put(rawBucket, testObjectKey, []byte(decisionText()))

	pol := retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	mgr := indexing.NewManager(h.oracle, h.index, indexing.Config{Dim: fake.DefaultDim, Model: "test", Retry: pol})
	cfg := DefaultConfig()
	cfg.Retry = pol
	h.orch = NewOrchestrator(Deps{
		Store:        h.store,
		Text:         pdftext.PlainText{},
		Extractor:    h.oracle,
		Chunker:      chunking.NewChunker(chunking.NewHeadingClassifier(nil), 120, nil),
		Vectors:      mgr,
		Repo:         savingRepo{MemoryRepository: h.repo, h: h},
		Supersession: h.sup,
		Keywords:     h.keywords,
		Citations:    h.citations,
		Metrics:      h.metrics,
	}, cfg, nil)
	return h
}

func (h *harness) ingest(t *testing.T) (*IngestResult, error) {
	t.Helper()
	return h.orch.Ingest(context.Background(), IngestRequest{Bucket: rawBucket, ObjectKey: testObjectKey})
}

func TestOrchestrator_Ingest(t *testing.T) {
	h := newHarness(t)
	res, err := h.ingest(t)
	require.NoError(t, err)

	assert.Equal(t, caseRef, res.CaseReference)
	assert.Equal(t, int64(1), res.Generation)
	assert.Equal(t, 4, res.PageCount)
	assert.Greater(t, res.ChunkCount, 3)
	assert.Equal(t, res.ChunkCount, res.VectorCount)
	assert.Equal(t, res.ChunkCount, h.index.Count(caseRef))

	rec, err := h.repo.GetCase(context.Background(), caseRef)
	require.NoError(t, err)
	assert.Equal(t, trademark.StateDone, rec.State)
	assert.Equal(t, "UKIPO", rec.Field("jurisdiction"))
	assert.Equal(t, "successful", rec.Field("opposition_outcome"))
	assert.Equal(t, "O-0123-24.pdf", rec.ProcessedObject)
	assert.True(t, h.store.Has("processed", "O-0123-24.pdf"))
	assert.NotEmpty(t, rec.DocumentID)

	chunks, err := h.repo.ListChunks(context.Background(), caseRef)
	require.NoError(t, err)
	require.Len(t, chunks, res.ChunkCount)
	sections := map[string]bool{}
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkSequenceID)
		assert.Equal(t, caseRef, c.CaseReference)
		sections[c.SourceSection] = true
	}
	assert.True(t, sections["Likelihood of confusion"])

	assert.Equal(t, res.ChunkCount, h.keywords.chunks[caseRef])
	assert.Equal(t, []string{"O/0042/19"}, h.citations.cited[caseRef])
	assert.Equal(t, 5, h.oracle.Calls(fake.MethodExtract))
	assert.Equal(t, []string{StatusSucceeded}, h.metrics.statuses)
}

func TestOrchestrator_ReingestionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	first, err := h.ingest(t)
	require.NoError(t, err)
	firstRec, err := h.repo.GetCase(context.Background(), caseRef)
	require.NoError(t, err)

	second, err := h.ingest(t)
	require.NoError(t, err)

	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, int64(2), second.Generation)
	assert.Equal(t, first.ChunkCount, h.index.Count(caseRef))
	assert.Equal(t, first.ChunkCount, h.index.Count(""))
	chunks, _ := h.repo.ListChunks(context.Background(), caseRef)
	assert.Len(t, chunks, first.ChunkCount)
	assert.Equal(t, []string{caseRef}, h.repo.Cases())

	rec, _ := h.repo.GetCase(context.Background(), caseRef)
	assert.Equal(t, firstRec.CreatedAt, rec.CreatedAt)
	assert.Equal(t, int64(2), rec.Generation)
}

func TestOrchestrator_SkipsNonPDF(t *testing.T) {
	h := newHarness(t)
	res, err := h.orch.Ingest(context.Background(), IngestRequest{Bucket: rawBucket, ObjectKey: "notes/O-0123-24.docx"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, h.oracle.Calls(fake.MethodExtract))
	assert.Equal(t, []string{StatusSkipped}, h.metrics.statuses)
}

func TestOrchestrator_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Ingest(context.Background(), IngestRequest{ObjectKey: testObjectKey})
	assert.True(t, apperrors.IsValidation(err))
}

func TestOrchestrator_MissingObject(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Ingest(context.Background(), IngestRequest{Bucket: rawBucket, ObjectKey: "missing/O-1111-24.pdf"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_SupersededRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	var once sync.Once
	base := h.oracle.ExtractFunc
	h.oracle.ExtractFunc = func(p []trademark.Page) (*trademark.CaseExtraction, error) {
		once.Do(func() {
			_, _ = h.sup.Begin(context.Background(), caseRef)
		})
		return base(p)
	}

	res, err := h.ingest(t)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSuperseded))
	assert.Zero(t, h.index.Count(""))
	assert.Empty(t, h.repo.Cases())
	assert.False(t, h.store.Has("processed", "O-0123-24.pdf"))
	assert.Equal(t, []string{StatusSuperseded}, h.metrics.statuses)
}

func TestOrchestrator_SupersededAfterSaveSkipsSearchWrites(t *testing.T) {
	h := newHarness(t)
	h.afterSave = func() {
		_, _ = h.sup.Begin(context.Background(), caseRef)
	}

	res, err := h.ingest(t)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSuperseded))
	assert.Empty(t, h.keywords.chunks)
	assert.Empty(t, h.citations.cited)
}

func TestOrchestrator_MajorityVoteAcrossPasses(t *testing.T) {
	h := newHarness(t)
	var n atomic.Int32
	h.oracle.ExtractFunc = func([]trademark.Page) (*trademark.CaseExtraction, error) {
		i := n.Add(1)
		ex := &trademark.CaseExtraction{CaseReference: caseRef, OppositionOutcome: "successful"}
		if i%2 == 0 {
			ex.OppositionOutcome = "unsuccessful"
		}
		if i <= 2 {
			ex.ApplicantName = fmt.Sprintf("Applicant %d", i)
		}
		return ex, nil
	}
	res, err := h.ingest(t)
	require.NoError(t, err)

	rec, _ := h.repo.GetCase(context.Background(), caseRef)
	assert.Equal(t, "successful", rec.Field("opposition_outcome"))
	assert.Equal(t, 3, rec.Fields["opposition_outcome"].Votes)
	assert.True(t, rec.Fields["applicant_name"].Unresolved)
	assert.Contains(t, res.UnresolvedFields, "applicant_name")
	assert.Contains(t, res.UnresolvedFields, "decision_date")
}

func TestOrchestrator_FailedPassesAreTolerated(t *testing.T) {
	h := newHarness(t)
	h.oracle.FailNext(fake.MethodExtract, errors.New("malformed json"), errors.New("malformed json"))
	_, err := h.ingest(t)
	require.NoError(t, err)
	rec, _ := h.repo.GetCase(context.Background(), caseRef)
	assert.Equal(t, "successful", rec.Field("opposition_outcome"))
	assert.Equal(t, 3, rec.Fields["opposition_outcome"].Passes)
}

func TestOrchestrator_AllPassesFailing(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("malformed json")
	h.oracle.FailNext(fake.MethodExtract, boom, boom, boom, boom, boom)
	_, err := h.ingest(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeIngestionFailed))
	assert.Empty(t, h.repo.Cases())
	assert.Equal(t, []string{StatusFailed}, h.metrics.statuses)
}

func TestOrchestrator_FailureMarksExistingRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.ingest(t)
	require.NoError(t, err)

	h.oracle.EmbedFunc = func(string) (trademark.EmbeddingVector, error) {
		return nil, errors.New("embedding backend down")
	}
	_, err = h.ingest(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingUnavailable))

	rec, _ := h.repo.GetCase(context.Background(), caseRef)
	assert.Equal(t, trademark.StateFailed, rec.State)
	assert.Greater(t, h.index.Count(caseRef), 0, "vectors of the previous run are kept")
}

func TestOrchestrator_UnknownReference(t *testing.T) {
	h := newHarness(t)
	h.store.Put(rawBucket, "inbox/decision.pdf", []byte("A decision without any reference.\fDecision\n\nThe opposition fails."))
	res, err := h.orch.Ingest(context.Background(), IngestRequest{Bucket: rawBucket, ObjectKey: "inbox/decision.pdf"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.CaseReference, UnknownPrefix))
	assert.Len(t, res.CaseReference, len(UnknownPrefix)+12)
}
