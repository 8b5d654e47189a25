// Package precedent ranks decided cases against a query.
package precedent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// DefaultRRFK is the Reciprocal Rank Fusion constant.
const DefaultRRFK = 60

// VectorSearcher is the part of the index manager retrieval needs.
type VectorSearcher interface {
	EmbedText(ctx context.Context, text string) (trademark.EmbeddingVector, error)
	Search(ctx context.Context, vec trademark.EmbeddingVector, k int, opts indexing.SearchOptions) ([]indexing.Neighbor, error)
}

// KeywordHit is one full-text match, best first.
type KeywordHit struct {
	CaseReference   string
	ChunkSequenceID int
	Score           float64
}

// KeywordSearcher searches chunk text.
type KeywordSearcher interface {
	SearchChunks(ctx context.Context, text, section string, k int) ([]KeywordHit, error)
}

// CitationCounter reports how often each case is cited by others.
type CitationCounter interface {
	CitationCounts(ctx context.Context, refs []string) (map[string]int, error)
}

// CaseReader loads records and chunk text.
type CaseReader interface {
	GetCase(ctx context.Context, caseRef string) (*trademark.CaseRecord, error)
	GetChunk(ctx context.Context, caseRef string, seq int) (*trademark.Chunk, error)
}

// Config carries retrieval tunables.
type Config struct {
	// Overfetch multiplies K for the vector query so grouping by case still
	// leaves K cases.
	Overfetch int `mapstructure:"overfetch"`
	RRFK      int `mapstructure:"rrf_k"`
	// CitationBoost scales the log citation count added to a case's score.
	CitationBoost float64 `mapstructure:"citation_boost"`
	MaxK          int     `mapstructure:"max_k"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{Overfetch: 4, RRFK: DefaultRRFK, CitationBoost: 0.1, MaxK: 50}
}

// Query selects precedents by text or by a precomputed vector.
type Query struct {
	Text    string                    `json:"text"`
	Vector  trademark.EmbeddingVector `json:"vector,omitempty"`
	K       int                       `json:"k"`
	Section string                    `json:"section,omitempty"`
}

// Precedent is one ranked case.
type Precedent struct {
	CaseReference   string   `json:"case_reference"`
	Score           float64  `json:"score"`
	Distance        *float64 `json:"distance,omitempty"`
	ChunkSequenceID int      `json:"chunk_sequence_id"`
	Section         string   `json:"source_section,omitempty"`
	ChunkText       string   `json:"chunk_text,omitempty"`
	CitationCount   int      `json:"citation_count,omitempty"`
	Outcome         string   `json:"opposition_outcome,omitempty"`
	DecisionDate    string   `json:"decision_date,omitempty"`
	Jurisdiction    string   `json:"jurisdiction,omitempty"`
}

// Retriever ranks precedents. Keyword fusion and citation boosting are
// enabled by supplying the corresponding collaborator.
type Retriever struct {
	vectors   VectorSearcher
	keywords  KeywordSearcher
	citations CitationCounter
	cases     CaseReader
	cfg       Config
	logger    logging.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithKeywordSearch fuses vector hits with full-text hits.
func WithKeywordSearch(k KeywordSearcher) Option { return func(r *Retriever) { r.keywords = k } }

// WithCitationBoost favours frequently cited cases.
func WithCitationBoost(c CitationCounter) Option { return func(r *Retriever) { r.citations = c } }

// NewRetriever returns a Retriever.
func NewRetriever(vectors VectorSearcher, cases CaseReader, cfg Config, logger logging.Logger, opts ...Option) *Retriever {
	def := DefaultConfig()
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = def.Overfetch
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = def.RRFK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = def.MaxK
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Retriever{vectors: vectors, cases: cases, cfg: cfg, logger: logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

type chunkKey struct {
	ref string
	seq int
}

type candidate struct {
	key      chunkKey
	score    float64
	distance float64
	section  string
}

// FindPrecedents returns at most q.K cases, best first. Each case appears
// once, represented by its best-scoring chunk.
func (r *Retriever) FindPrecedents(ctx context.Context, q Query) ([]Precedent, error) {
	if q.K <= 0 || q.K > r.cfg.MaxK {
		return nil, apperrors.InvalidInput(fmt.Sprintf("k must be in 1..%d", r.cfg.MaxK))
	}
	text := strings.TrimSpace(q.Text)
	if text == "" && len(q.Vector) == 0 {
		return nil, apperrors.InvalidInput("text or vector is required")
	}

	vec := q.Vector
	if len(vec) == 0 {
		var err error
		if vec, err = r.vectors.EmbedText(ctx, text); err != nil {
			return nil, err
		}
	}
	fetch := q.K * r.cfg.Overfetch
	hits, err := r.vectors.Search(ctx, vec, fetch, indexing.SearchOptions{Section: q.Section})
	if err != nil {
		return nil, err
	}

	cands := make(map[chunkKey]*candidate, len(hits))
	for i, h := range hits {
		k := chunkKey{h.CaseReference, h.ChunkSequenceID}
		cands[k] = &candidate{key: k, score: r.rrf(i), distance: h.Distance, section: h.Section}
	}

	if r.keywords != nil && text != "" {
		kw, err := r.keywords.SearchChunks(ctx, text, q.Section, fetch)
		if err != nil {
			return nil, apperrors.Propagate(err, apperrors.ErrCodeSearchEngineError, "keyword search")
		}
		for i, h := range kw {
			k := chunkKey{h.CaseReference, h.ChunkSequenceID}
			c, ok := cands[k]
			if !ok {
				c = &candidate{key: k, distance: math.Inf(1), section: q.Section}
				cands[k] = c
			}
			c.score += r.rrf(i)
		}
	}

	best := make(map[string]*candidate)
	for _, c := range cands {
		b, ok := best[c.key.ref]
		if !ok || c.score > b.score || (c.score == b.score && c.key.seq < b.key.seq) {
			best[c.key.ref] = c
		}
	}

	refs := make([]string, 0, len(best))
	for ref := range best {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	counts := map[string]int{}
	if r.citations != nil && len(refs) > 0 {
		if counts, err = r.citations.CitationCounts(ctx, refs); err != nil {
			return nil, apperrors.Propagate(err, apperrors.ErrCodeGraphError, "citation counts")
		}
	}

	out := make([]Precedent, 0, len(refs))
	for _, ref := range refs {
		c := best[ref]
		n := counts[ref]
		p := Precedent{
			CaseReference:   ref,
			Score:           c.score * (1 + r.cfg.CitationBoost*math.Log1p(float64(n))),
			ChunkSequenceID: c.key.seq,
			Section:         c.section,
			CitationCount:   n,
		}
		if !math.IsInf(c.distance, 1) {
			d := c.distance
			p.Distance = &d
		}
		out = append(out, p)
	}
	SortPrecedents(out)
	if len(out) > q.K {
		out = out[:q.K]
	}

	for i := range out {
		r.enrich(ctx, &out[i])
	}
	return out, nil
}

func (r *Retriever) rrf(rank int) float64 {
	return 1 / float64(r.cfg.RRFK+rank+1)
}

// enrich attaches the case summary and chunk text. Missing records leave the
// precedent bare; the index may briefly lead the store during ingestion.
func (r *Retriever) enrich(ctx context.Context, p *Precedent) {
	if r.cases == nil {
		return
	}
	if rec, err := r.cases.GetCase(ctx, p.CaseReference); err == nil {
		p.Outcome = rec.Field("opposition_outcome")
		p.DecisionDate = rec.Field("decision_date")
		p.Jurisdiction = rec.Field("jurisdiction")
	} else if !apperrors.IsNotFound(err) {
		r.logger.Warn("case lookup failed", logging.String("case_reference", p.CaseReference), logging.Err(err))
	}
	if ch, err := r.cases.GetChunk(ctx, p.CaseReference, p.ChunkSequenceID); err == nil {
		p.ChunkText = ch.Text
		if p.Section == "" {
			p.Section = ch.SourceSection
		}
	} else if !apperrors.IsNotFound(err) {
		r.logger.Warn("chunk lookup failed", logging.String("case_reference", p.CaseReference), logging.Err(err))
	}
}

// SortPrecedents orders by descending score, then ascending distance, then
// case reference.
func SortPrecedents(ps []Precedent) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if da, db := distance(a), distance(b); da != db {
			return da < db
		}
		return a.CaseReference < b.CaseReference
	})
}

func distance(p Precedent) float64 {
	if p.Distance == nil {
		return math.Inf(1)
	}
	return *p.Distance
}

// Examples returns the text of the k best matching chunks in section, each
// prefixed with its case reference. It serves as the few-shot source of the
// goods and services engine.
func (r *Retriever) Examples(ctx context.Context, text, section string, k int) ([]string, error) {
	ps, err := r.FindPrecedents(ctx, Query{Text: text, K: k, Section: section})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.ChunkText == "" {
			continue
		}
		out = append(out, fmt.Sprintf("[%s] %s", p.CaseReference, p.ChunkText))
	}
	return out, nil
}
