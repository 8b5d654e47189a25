// Package fake provides a deterministic in-process Oracle for tests and
// offline runs. Every method has a rule-based default that can be replaced
// per test, and errors can be queued per method.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/turtacn/Opposition-Intelligence/internal/domain/scoring"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// Method names used by Calls and FailNext.
const (
	MethodConceptual = "JudgeConceptual"
	MethodOverall    = "JudgeOverall"
	MethodGs         = "JudgeGoodsServices"
	MethodOutcome    = "SynthesizeOutcome"
	MethodSections   = "ClassifySections"
	MethodExtract    = "ExtractCase"
	MethodEmbed      = "Embed"
)

// DefaultDim is the embedding dimension used when Dim is zero.
const DefaultDim = 16

// Oracle is a deterministic oracle.Oracle.
type Oracle struct {
	Dim int

	ConceptualFunc func(oracle.ConceptualRequest) (*oracle.ConceptualJudgement, error)
	OverallFunc    func(oracle.OverallRequest) (*oracle.OverallJudgement, error)
	GsFunc         func(oracle.GsRequest) (*oracle.GsJudgement, error)
	OutcomeFunc    func(oracle.OutcomeRequest) (*oracle.OutcomeJudgement, error)
	SectionsFunc   func([]trademark.Page) ([]trademark.Section, error)
	ExtractFunc    func([]trademark.Page) (*trademark.CaseExtraction, error)
	EmbedFunc      func(string) (trademark.EmbeddingVector, error)

	mu     sync.Mutex
	calls  map[string]int
	queued map[string][]error
	gsReqs []oracle.GsRequest
}

var _ oracle.Oracle = (*Oracle)(nil)

// New returns a fake with rule-based defaults.
func New() *Oracle {
	return &Oracle{calls: map[string]int{}, queued: map[string][]error{}}
}

// FailNext queues errs to be returned, in order, by the next calls to method.
func (o *Oracle) FailNext(method string, errs ...error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued[method] = append(o.queued[method], errs...)
}

// Calls returns how many times method was invoked.
func (o *Oracle) Calls(method string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[method]
}

// GsRequests returns the goods/services requests received so far.
func (o *Oracle) GsRequests() []oracle.GsRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]oracle.GsRequest(nil), o.gsReqs...)
}

func (o *Oracle) enter(method string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string]int{}
		o.queued = map[string][]error{}
	}
	o.calls[method]++
	if q := o.queued[method]; len(q) > 0 {
		o.queued[method] = q[1:]
		return q[0]
	}
	return nil
}

func (o *Oracle) JudgeConceptual(ctx context.Context, req oracle.ConceptualRequest) (*oracle.ConceptualJudgement, error) {
	if err := o.enter(MethodConceptual); err != nil {
		return nil, err
	}
	if o.ConceptualFunc != nil {
		return o.ConceptualFunc(req)
	}
	a, b := strings.ToLower(req.ApplicantMark), strings.ToLower(req.OpponentMark)
	return &oracle.ConceptualJudgement{
		Score:     scoring.VisualScore(a, b),
		Reasoning: "rule-based conceptual comparison",
	}, nil
}

func (o *Oracle) JudgeOverall(ctx context.Context, req oracle.OverallRequest) (*oracle.OverallJudgement, error) {
	if err := o.enter(MethodOverall); err != nil {
		return nil, err
	}
	if o.OverallFunc != nil {
		return o.OverallFunc(req)
	}
	score := (req.VisualScore + req.AuralScore + req.ConceptualScore) / 3
	return &oracle.OverallJudgement{
		Score:     score,
		Degree:    string(scoring.DefaultThresholds().Degree(score)),
		Reasoning: "mean of visual, aural and conceptual scores",
	}, nil
}

func (o *Oracle) JudgeGoodsServices(ctx context.Context, req oracle.GsRequest) (*oracle.GsJudgement, error) {
	if err := o.enter(MethodGs); err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.gsReqs = append(o.gsReqs, req)
	o.mu.Unlock()
	if o.GsFunc != nil {
		return o.GsFunc(req)
	}
	a := strings.ToLower(strings.TrimSpace(req.ApplicantTerm.Term))
	b := strings.ToLower(strings.TrimSpace(req.OpponentTerm.Term))
	score := 0.2
	switch {
	case a == b:
		score = 1.0
	case req.ApplicantTerm.NiceClass == req.OpponentTerm.NiceClass:
		score = 0.7
	}
	j := &oracle.GsJudgement{
		SimilarityScore: score,
		Similarity:      string(scoring.DefaultThresholds().Degree(score)),
		IsCompetitive:   score >= 0.7,
		Reasoning:       "rule-based goods and services comparison",
	}
	markScore := req.MarkSimilarity.OverallScore
	if score >= 0.6 && markScore >= 0.6 {
		j.LikelihoodOfConfusion = true
		ct := string(trademark.ConfusionIndirect)
		if markScore >= 0.8 {
			ct = string(trademark.ConfusionDirect)
		}
		j.ConfusionType = &ct
	}
	return j, nil
}

func (o *Oracle) SynthesizeOutcome(ctx context.Context, req oracle.OutcomeRequest) (*oracle.OutcomeJudgement, error) {
	if err := o.enter(MethodOutcome); err != nil {
		return nil, err
	}
	if o.OutcomeFunc != nil {
		return o.OutcomeFunc(req)
	}
	r := req.Statistics.ConfusionRate
	res := trademark.OutcomeLikelyFail
	switch {
	case r >= 0.75:
		res = trademark.OutcomeLikelySucceed
	case r >= 0.25:
		res = trademark.OutcomeMayPartiallySucceed
	}
	return &oracle.OutcomeJudgement{Result: string(res), Reasoning: "rule-based synthesis on confusion rate"}, nil
}

func (o *Oracle) ClassifySections(ctx context.Context, pages []trademark.Page) ([]trademark.Section, error) {
	if err := o.enter(MethodSections); err != nil {
		return nil, err
	}
	if o.SectionsFunc != nil {
		return o.SectionsFunc(pages)
	}
	return nil, nil
}

func (o *Oracle) ExtractCase(ctx context.Context, pages []trademark.Page) (*trademark.CaseExtraction, error) {
	if err := o.enter(MethodExtract); err != nil {
		return nil, err
	}
	if o.ExtractFunc != nil {
		return o.ExtractFunc(pages)
	}
	return &trademark.CaseExtraction{Jurisdiction: string(trademark.JurisdictionUKIPO)}, nil
}

// Embed hashes lower-cased words into Dim buckets and L2-normalises the
// result, so texts sharing words lie close together.
func (o *Oracle) Embed(ctx context.Context, text string) (trademark.EmbeddingVector, error) {
	if err := o.enter(MethodEmbed); err != nil {
		return nil, err
	}
	if o.EmbedFunc != nil {
		return o.EmbedFunc(text)
	}
	return HashEmbedding(text, o.dim()), nil
}

func (o *Oracle) dim() int {
	if o.Dim > 0 {
		return o.Dim
	}
	return DefaultDim
}

// HashEmbedding is the default embedding of the fake.
func HashEmbedding(text string, dim int) trademark.EmbeddingVector {
	v := make(trademark.EmbeddingVector, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(dim)
		v[idx]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
