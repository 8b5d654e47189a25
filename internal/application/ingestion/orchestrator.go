package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/chunking"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/consolidation"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// ErrSuperseded is returned by a run that lost its case to a newer run.
var ErrSuperseded = apperrors.New(apperrors.ErrCodeSuperseded, "ingestion superseded by a newer run")

// Run statuses reported to Metrics.
const (
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
	StatusSuperseded = "superseded"
)

// Config carries orchestrator tunables.
type Config struct {
	ExtractionPasses int          `mapstructure:"extraction_passes"`
	FanOut           int          `mapstructure:"fan_out"`
	ProcessedBucket  string       `mapstructure:"processed_bucket"`
	Retry            retry.Policy `mapstructure:"-"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		ExtractionPasses: 5,
		FanOut:           4,
		ProcessedBucket:  "processed",
		Retry:            retry.DefaultPolicy(),
	}
}

// Deps are the collaborators of an Orchestrator. Keywords, Citations, Locker
// and Metrics are optional.
type Deps struct {
	Store        ObjectStore
	Text         TextExtractor
	Extractor    CaseExtractor
	Chunker      *chunking.Chunker
	Vectors      VectorWriter
	Repo         CaseRepository
	Supersession Supersession
	Keywords     KeywordIndex
	Citations    CitationGraph
	Locker       Locker
	Metrics      Metrics
}

// Locker serialises the write steps of runs on the same case.
type Locker interface {
	Lock(ctx context.Context, caseRef string) (unlock func(), err error)
}

// IngestRequest names the stored object to ingest.
type IngestRequest struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

// Validate checks the request.
func (r IngestRequest) Validate() error {
	if strings.TrimSpace(r.Bucket) == "" || strings.TrimSpace(r.ObjectKey) == "" {
		return apperrors.InvalidInput("bucket and object_key are required")
	}
	return nil
}

// IngestResult summarises one run.
type IngestResult struct {
	CaseReference    string        `json:"case_reference,omitempty"`
	Generation       int64         `json:"generation,omitempty"`
	Skipped          bool          `json:"skipped,omitempty"`
	PageCount        int           `json:"page_count"`
	ChunkCount       int           `json:"chunk_count"`
	VectorCount      int           `json:"vector_count"`
	UnresolvedFields []string      `json:"unresolved_fields,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Orchestrator coordinates one document through extraction, chunking,
// embedding and persistence.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger logging.Logger
	now    func() time.Time
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(deps Deps, cfg Config, logger logging.Logger) *Orchestrator {
	if cfg.ExtractionPasses <= 0 {
		cfg.ExtractionPasses = DefaultConfig().ExtractionPasses
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = DefaultConfig().FanOut
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Supersession == nil {
		deps.Supersession = NewMemorySupersession()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if deps.Chunker == nil {
		deps.Chunker = chunking.NewChunker(nil, 0, logger)
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Ingest processes one stored document. Re-ingesting a case replaces its
// chunks, vectors and record. A run overtaken by a newer run of the same case
// stops with ErrSuperseded before its next write.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (res *IngestResult, err error) {
	start := o.now()
	status := StatusFailed
	defer func() {
		d := o.now().Sub(start)
		if res != nil {
			res.Duration = d
		}
		o.deps.Metrics.ObserveIngestion(status, d)
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !IsIngestible(req.ObjectKey) {
		status = StatusSkipped
		o.logger.Debug("skipping non-pdf object", logging.String("bucket", req.Bucket), logging.String("object", req.ObjectKey))
		return &IngestResult{Skipped: true}, nil
	}

	data, err := retry.Do(ctx, o.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		return o.deps.Store.Get(ctx, req.Bucket, req.ObjectKey)
	})
	if err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeStorageError, "download document")
	}
	pages, err := o.deps.Text.Extract(ctx, data)
	if err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeTextExtraction, "extract text")
	}
	if len(pages) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeTextExtraction, "document has no pages")
	}

	ref, found := DeriveCaseReference(req.ObjectKey, pages[0].Text)
	log := o.logger.With(logging.String("case_reference", ref), logging.String("object", req.ObjectKey))
	if !found {
		log.Warn("no case reference found, using derived reference")
	}

	tok, err := o.deps.Supersession.Begin(ctx, ref)
	if err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeCacheError, "begin ingestion run")
	}
	log = log.With(logging.Int64("generation", tok.Generation()))
	log.Info("ingestion started", logging.Int("pages", len(pages)))

	res, err = o.run(ctx, req, ref, pages, tok, log)
	switch {
	case err == nil:
		status = StatusSucceeded
		log.Info("ingestion finished",
			logging.Int("chunks", res.ChunkCount),
			logging.Int("unresolved_fields", len(res.UnresolvedFields)))
	case apperrors.IsCode(err, apperrors.ErrCodeSuperseded):
		status = StatusSuperseded
		log.Info("ingestion superseded")
	default:
		log.Error("ingestion failed", logging.Err(err))
		o.markFailed(ctx, ref, tok, log)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, req IngestRequest, ref string, pages []trademark.Page, tok Token, log logging.Logger) (*IngestResult, error) {
	fields, err := o.extractFields(ctx, pages, log)
	if err != nil {
		return nil, err
	}

	doc := chunking.NewDocument(ref, pages)
	chunks, err := o.deps.Chunker.Run(ctx, doc)
	if err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeIngestionFailed, "chunk document")
	}
	o.deps.Metrics.AddChunks(len(chunks))

	vectors, err := o.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if o.deps.Locker != nil {
		unlock, err := o.deps.Locker.Lock(ctx, ref)
		if err != nil {
			return nil, apperrors.Propagate(err, apperrors.ErrCodeCacheError, "lock case")
		}
		defer unlock()
	}

	if err := o.checkCurrent(ctx, tok); err != nil {
		return nil, err
	}
	if err := o.deps.Vectors.DeleteCase(ctx, ref); err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeIndexError, "delete previous vectors")
	}
	if err := o.checkCurrent(ctx, tok); err != nil {
		return nil, err
	}
	entries := make([]indexing.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = indexing.Entry{CaseReference: ref, ChunkSequenceID: c.ChunkSequenceID, Section: c.SourceSection, Vector: vectors[i]}
	}
	if err := o.deps.Vectors.UpsertBatch(ctx, entries); err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeIndexError, "upsert vectors")
	}
	o.deps.Metrics.AddVectors(len(entries))

	if err := doc.MarkDone(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "finish document")
	}
	processed := StorageID(ref) + ".pdf"
	if o.cfg.ProcessedBucket != "" {
		err := o.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			return o.deps.Store.Copy(ctx, req.Bucket, req.ObjectKey, o.cfg.ProcessedBucket, processed)
		})
		if err != nil {
			return nil, apperrors.Propagate(err, apperrors.ErrCodeStorageError, "archive processed document")
		}
	} else {
		processed = ""
	}

	now := o.now().UTC()
	rec := &trademark.CaseRecord{
		CaseReference:   ref,
		DocumentID:      uuid.NewString(),
		SourceBucket:    req.Bucket,
		SourceObject:    req.ObjectKey,
		ProcessedObject: processed,
		State:           doc.State(),
		Generation:      tok.Generation(),
		PageCount:       len(pages),
		ChunkCount:      len(chunks),
		Fields:          fields,
		UpdatedAt:       now,
	}
	if prev, err := o.deps.Repo.GetCase(ctx, ref); err == nil {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}

	if err := o.checkCurrent(ctx, tok); err != nil {
		return nil, err
	}
	err = o.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return o.deps.Repo.SaveCase(ctx, rec, chunks)
	})
	if err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeDatabaseError, "save case")
	}

	if o.deps.Keywords != nil {
		if err := o.checkCurrent(ctx, tok); err != nil {
			return nil, err
		}
		if err := o.deps.Keywords.IndexChunks(ctx, ref, chunks); err != nil {
			return nil, apperrors.Propagate(err, apperrors.ErrCodeSearchEngineError, "index chunk text")
		}
	}
	if o.deps.Citations != nil {
		if err := o.checkCurrent(ctx, tok); err != nil {
			return nil, err
		}
		cited := citedRefs(rec)
		if err := o.deps.Citations.RecordCitations(ctx, ref, cited); err != nil {
			return nil, apperrors.Propagate(err, apperrors.ErrCodeGraphError, "record citations")
		}
	}

	return &IngestResult{
		CaseReference:    ref,
		Generation:       tok.Generation(),
		PageCount:        len(pages),
		ChunkCount:       len(chunks),
		VectorCount:      len(entries),
		UnresolvedFields: rec.UnresolvedFields(),
	}, nil
}

// extractFields runs the extraction passes concurrently and consolidates them
// by majority vote. A failed pass contributes no votes; the run fails only
// when every pass fails.
func (o *Orchestrator) extractFields(ctx context.Context, pages []trademark.Page, log logging.Logger) (map[string]trademark.FieldValue, error) {
	n := o.cfg.ExtractionPasses
	passes := make([]map[string]string, n)
	errs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FanOut)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			ex, err := retry.Do(gctx, o.cfg.Retry, func(ctx context.Context) (*trademark.CaseExtraction, error) {
				return o.deps.Extractor.ExtractCase(ctx, pages)
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			if ex != nil {
				passes[i] = ex.Fields()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ok := make([]map[string]string, 0, n)
	var last error
	for i, err := range errs {
		if err != nil {
			last = err
			log.Warn("extraction pass failed", logging.Int("pass", i), logging.Err(err))
			continue
		}
		ok = append(ok, passes[i])
	}
	if len(ok) == 0 {
		return nil, apperrors.Propagate(last, apperrors.ErrCodeIngestionFailed, "all extraction passes failed")
	}
	return consolidation.MajorityVote(ok, trademark.CaseFieldNames), nil
}

// embed embeds every chunk with bounded concurrency. vectors[i] belongs to
// chunks[i].
func (o *Orchestrator) embed(ctx context.Context, chunks []trademark.Chunk) ([]trademark.EmbeddingVector, error) {
	vectors := make([]trademark.EmbeddingVector, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FanOut)
	for i := range chunks {
		i := i
		g.Go(func() error {
			v, err := o.deps.Vectors.Embed(gctx, chunks[i])
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.Propagate(err, apperrors.ErrCodeEmbeddingUnavailable, "embed chunks")
	}
	return vectors, nil
}

func (o *Orchestrator) checkCurrent(ctx context.Context, tok Token) error {
	ok, err := tok.Current(ctx)
	if err != nil {
		return apperrors.Propagate(err, apperrors.ErrCodeCacheError, "check ingestion generation")
	}
	if !ok {
		return ErrSuperseded
	}
	return nil
}

// markFailed records the failed state on an existing case record when this
// run still owns the case.
func (o *Orchestrator) markFailed(ctx context.Context, ref string, tok Token, log logging.Logger) {
	if ok, err := tok.Current(ctx); err != nil || !ok {
		return
	}
	if err := o.deps.Repo.UpdateState(ctx, ref, trademark.StateFailed); err != nil && !apperrors.IsCode(err, apperrors.ErrCodeCaseNotFound) {
		log.Warn("could not record failed state", logging.Err(err))
	}
}

func citedRefs(rec *trademark.CaseRecord) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range rec.CitedReferences() {
		r := strings.TrimSpace(p.CaseReference)
		if r == "" || r == rec.CaseReference || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
