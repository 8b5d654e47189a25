package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

type stubModel struct {
	reply   string
	err     error
	prompts []string
	parts   []genai.Part
	schemas []*genai.Schema
	temps   []float32
}

func (s *stubModel) factory(schema *genai.Schema, temperature float32) generator {
	s.schemas = append(s.schemas, schema)
	s.temps = append(s.temps, temperature)
	return s
}

func (s *stubModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	s.parts = parts
	if t, ok := parts[0].(genai.Text); ok {
		s.prompts = append(s.prompts, string(t))
	}
	if s.err != nil {
		return nil, s.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(s.reply)}},
	}}}, nil
}

type stubEmbedder struct {
	values []float32
	err    error
}

func (s stubEmbedder) EmbedContent(context.Context, ...genai.Part) (*genai.EmbedContentResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &genai.EmbedContentResponse{Embedding: &genai.ContentEmbedding{Values: s.values}}, nil
}

func newTestProvider(t *testing.T, m *stubModel, e embedder) *Provider {
	t.Helper()
	p, err := newProvider(Config{}, nil, m.factory, e)
	require.NoError(t, err)
	return p
}

func TestProvider_JudgeGoodsServices(t *testing.T) {
	m := &stubModel{reply: `{"similarity_score":0.8,"similarity":"high_degree","is_competitive":true,
		"is_complementary":false,"likelihood_of_confusion":true,"confusion_type":"direct","reasoning":"same market"}`}
	p := newTestProvider(t, m, nil)

	j, err := p.JudgeGoodsServices(context.Background(), oracle.GsRequest{
		ApplicantTerm:  trademark.GsTerm{Term: "beer", NiceClass: 32},
		OpponentTerm:   trademark.GsTerm{Term: "mineral water", NiceClass: 32},
		MarkSimilarity: trademark.MarkSimilarityAssessment{Overall: trademark.DegreeHigh, OverallScore: 0.8},
		Examples:       []string{"[O/0001/20] Beer and water are similar."},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.8, j.SimilarityScore)
	assert.Equal(t, "high_degree", j.Similarity)
	require.NotNil(t, j.ConfusionType)
	assert.Equal(t, "direct", *j.ConfusionType)

	require.Len(t, m.prompts, 1)
	assert.Contains(t, m.prompts[0], `"beer" (Class 32)`)
	assert.Contains(t, m.prompts[0], "1. [O/0001/20] Beer and water are similar.")
	assert.Same(t, goodsSchema, m.schemas[0])
}

func TestProvider_NullConfusionType(t *testing.T) {
	m := &stubModel{reply: `{"similarity_score":0.1,"similarity":"dissimilar","is_competitive":false,
		"is_complementary":false,"likelihood_of_confusion":false,"confusion_type":null,"reasoning":"unrelated"}`}
	j, err := newTestProvider(t, m, nil).JudgeGoodsServices(context.Background(), oracle.GsRequest{})
	require.NoError(t, err)
	assert.Nil(t, j.ConfusionType)
}

func TestProvider_MalformedResponse(t *testing.T) {
	for _, reply := range []string{"not json", ""} {
		m := &stubModel{reply: reply}
		_, err := newTestProvider(t, m, nil).SynthesizeOutcome(context.Background(), oracle.OutcomeRequest{})
		assert.True(t, errors.IsContractViolation(err), "reply %q: %v", reply, err)
	}
}

func TestProvider_OutcomePrompt(t *testing.T) {
	ct := trademark.ConfusionDirect
	m := &stubModel{reply: `{"result":"opposition_likely_succeed","reasoning":"r"}`}
	j, err := newTestProvider(t, m, nil).SynthesizeOutcome(context.Background(), oracle.OutcomeRequest{
		MarkSimilarity: trademark.MarkSimilarityAssessment{Overall: trademark.DegreeIdentical, OverallScore: 1},
		GsSimilarity: []trademark.GsSimilarityAssessment{
			{ApplicantTerm: "beer", OpponentTerm: "ale", Similarity: trademark.DegreeIdentical, SimilarityScore: 1, LikelihoodOfConfusion: true, ConfusionType: &ct},
		},
		Statistics:      trademark.OutcomeStatistics{TotalPairs: 1, ConfusedPairs: 1, ConfusionPercent: 100},
		Distinctiveness: trademark.DistinctivenessHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "opposition_likely_succeed", j.Result)
	assert.Contains(t, m.prompts[0], `"beer" vs "ale": identical (score 1.00), confusion: true`)
	assert.Contains(t, m.prompts[0], "1 of 1 pairs confused (100.0%)")
	assert.Contains(t, m.prompts[0], "Distinctive character of the earlier mark: high_degree")
	assert.Equal(t, outcomeNames(), m.schemas[0].Properties["result"].Enum)
}

func TestProvider_ConceptualAttachesImage(t *testing.T) {
	m := &stubModel{reply: `{"score":0.5,"degree":"neutral","reasoning":"no concept"}`}
	j, err := newTestProvider(t, m, nil).JudgeConceptual(context.Background(), oracle.ConceptualRequest{
		ApplicantMark: "XQZ", OpponentMark: "ZQX", ImageRef: "gs://marks/xqz.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "neutral", j.Degree)
	require.Len(t, m.parts, 2)
	assert.Equal(t, genai.FileData{MIMEType: "image/jpeg", URI: "gs://marks/xqz.jpg"}, m.parts[1])
}

func TestProvider_ExtractUsesExtractionTemperature(t *testing.T) {
	m := &stubModel{reply: `{"case_reference":"O/0123/24","jurisdiction":"UKIPO","opposition_outcome":"successful",
		"precedents_cited":[{"case_name":"Sabel","case_reference":"C-251/95"}]}`}
	p, err := newProvider(Config{ExtractTemperature: 0.7}, nil, m.factory, nil)
	require.NoError(t, err)

	ext, err := p.ExtractCase(context.Background(), []trademark.Page{{Number: 1, Text: "Decision O/0123/24"}})
	require.NoError(t, err)
	assert.Equal(t, "O/0123/24", ext.CaseReference)
	require.Len(t, ext.PrecedentsCited, 1)
	assert.Equal(t, float32(0.7), m.temps[0])
	assert.Contains(t, m.prompts[0], `<page number="1">`)
}

func TestProvider_ClassifySections(t *testing.T) {
	m := &stubModel{reply: `{"sections":[{"label":"Background","start_page":1,"end_page":2},{"label":"Decision","start_page":3,"end_page":3}]}`}
	secs, err := newTestProvider(t, m, nil).ClassifySections(context.Background(), []trademark.Page{{Number: 1}, {Number: 2}, {Number: 3}})
	require.NoError(t, err)
	assert.Equal(t, []trademark.Section{{Label: "Background", StartPage: 1, EndPage: 2}, {Label: "Decision", StartPage: 3, EndPage: 3}}, secs)
}

func TestProvider_Embed(t *testing.T) {
	p := newTestProvider(t, &stubModel{}, stubEmbedder{values: []float32{0.1, 0.2}})
	v, err := p.Embed(context.Background(), "beer")
	require.NoError(t, err)
	assert.Equal(t, trademark.EmbeddingVector{0.1, 0.2}, v)

	p = newTestProvider(t, &stubModel{}, stubEmbedder{})
	_, err = p.Embed(context.Background(), "beer")
	assert.True(t, errors.IsContractViolation(err))

	p = newTestProvider(t, &stubModel{}, stubEmbedder{err: status.Error(codes.Unavailable, "down")})
	_, err = p.Embed(context.Background(), "beer")
	assert.True(t, errors.IsTransient(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"server error", &googleapi.Error{Code: http.StatusBadGateway}, true},
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), true},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "x"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "x"), false},
		{"blocked", &genai.BlockedError{}, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"unknown", fmt.Errorf("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.transient, errors.IsTransient(err))
			assert.Equal(t, !tt.transient, errors.IsContractViolation(err))
		})
	}
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
	assert.False(t, errors.IsTransient(classify("op", context.Canceled)))
	assert.Nil(t, classify("op", nil))
}

func TestPrompts_Register(t *testing.T) {
	p, err := NewPrompts()
	require.NoError(t, err)
	require.NoError(t, p.Register(TmplOverall, "compare {{.ApplicantMark}}"))
	out, err := p.Render(TmplOverall, overallData{OverallRequest: oracle.OverallRequest{ApplicantMark: "ACME"}})
	require.NoError(t, err)
	assert.Equal(t, "compare ACME", out)

	assert.Error(t, p.Register("x", "{{.Broken"))
	assert.True(t, errors.IsValidation(p.Register("", "body")))
	_, err = p.Render("missing", nil)
	assert.True(t, errors.IsValidation(err))
	assert.True(t, strings.HasPrefix(templateTruncate(3, "abcdef"), "abc"))
}
