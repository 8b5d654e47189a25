package prediction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/application/similarity"
	domain "github.com/turtacn/Opposition-Intelligence/internal/domain/prediction"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle/fake"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

type recordedPrediction struct {
	result string
	conf   float64
}

type recordingMetrics struct{ got []recordedPrediction }

func (m *recordingMetrics) ObservePrediction(result string, conf float64) {
	m.got = append(m.got, recordedPrediction{result, conf})
}

func identical() trademark.MarkSimilarityAssessment {
	return trademark.MarkSimilarityAssessment{
		VisualScore: 1, AuralScore: 1, ConceptualScore: 1, OverallScore: 1,
		Visual: trademark.DegreeIdentical, Aural: trademark.DegreeIdentical,
		Conceptual: trademark.DegreeIdentical, Overall: trademark.DegreeIdentical,
	}
}

func gsPairs(total, confused int) []trademark.GsSimilarityAssessment {
	direct := trademark.ConfusionDirect
	out := make([]trademark.GsSimilarityAssessment, total)
	for i := range out {
		if i < confused {
			out[i] = trademark.GsSimilarityAssessment{
				SimilarityScore: 0.9, Similarity: trademark.DegreeHigh,
				LikelihoodOfConfusion: true, ConfusionType: &direct,
			}
			continue
		}
		out[i] = trademark.GsSimilarityAssessment{SimilarityScore: 0.3, Similarity: trademark.DegreeDissimilar}
	}
	return out
}

func TestAggregator_NineOfTenConfused(t *testing.T) {
	o := fake.New()
	m := &recordingMetrics{}
	agg := NewAggregator(o, domain.DefaultCalibration(), testPolicy(), m, nil)

	got, err := agg.Predict(context.Background(), CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: gsPairs(10, 9)})
	require.NoError(t, err)

	assert.Equal(t, trademark.OutcomeLikelySucceed, got.Result)
	assert.Greater(t, got.Confidence, 0.75)
	assert.LessOrEqual(t, got.Confidence, 1.0)
	assert.Equal(t, 10, got.Statistics.TotalPairs)
	assert.Equal(t, 9, got.Statistics.ConfusedPairs)
	assert.Equal(t, 90.0, got.Statistics.ConfusionPercent)
	assert.Equal(t, 9, got.Statistics.DirectCount)
	assert.Equal(t, 0.75, got.Breakdown.Base)
	require.Len(t, m.got, 1)
	assert.Equal(t, string(trademark.OutcomeLikelySucceed), m.got[0].result)
}

func TestAggregator_Deterministic(t *testing.T) {
	o := fake.New()
	agg := NewAggregator(o, domain.DefaultCalibration(), testPolicy(), nil, nil)
	req := CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: gsPairs(7, 3), EarlierMarkDistinctiveness: trademark.DistinctivenessLow}
	a, err := agg.Predict(context.Background(), req)
	require.NoError(t, err)
	b, err := agg.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAggregator_EmptyListIsRejectedWithoutOracleCall(t *testing.T) {
	o := fake.New()
	_, err := NewAggregator(o, domain.DefaultCalibration(), testPolicy(), nil, nil).
		Predict(context.Background(), CasePredictionRequest{MarkSimilarity: identical()})
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, o.Calls(fake.MethodOutcome))
}

func TestAggregator_InputValidation(t *testing.T) {
	direct := trademark.ConfusionDirect
	badMark := identical()
	badMark.OverallScore = 1.5
	badDegree := identical()
	badDegree.Overall = "very_high"

	tests := []struct {
		name string
		req  CasePredictionRequest
	}{
		{"mark score", CasePredictionRequest{MarkSimilarity: badMark, GsSimilarity: gsPairs(1, 1)}},
		{"mark degree", CasePredictionRequest{MarkSimilarity: badDegree, GsSimilarity: gsPairs(1, 1)}},
		{"gs score", CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: []trademark.GsSimilarityAssessment{{SimilarityScore: -1, Similarity: trademark.DegreeLow}}}},
		{"gs degree", CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: []trademark.GsSimilarityAssessment{{SimilarityScore: 0.5, Similarity: trademark.DegreeNeutral}}}},
		{"type without confusion", CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: []trademark.GsSimilarityAssessment{{SimilarityScore: 0.5, Similarity: trademark.DegreeMedium, ConfusionType: &direct}}}},
		{"distinctiveness", CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: gsPairs(1, 1), EarlierMarkDistinctiveness: "famous"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := fake.New()
			_, err := NewAggregator(o, domain.DefaultCalibration(), testPolicy(), nil, nil).Predict(context.Background(), tt.req)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.Zero(t, o.Calls(fake.MethodOutcome))
		})
	}
}

func TestAggregator_UnknownResultIsContractViolation(t *testing.T) {
	o := fake.New()
	o.OutcomeFunc = func(oracle.OutcomeRequest) (*oracle.OutcomeJudgement, error) {
		return &oracle.OutcomeJudgement{Result: "opposition_might_succeed"}, nil
	}
	_, err := NewAggregator(o, domain.DefaultCalibration(), testPolicy(), nil, nil).
		Predict(context.Background(), CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: gsPairs(2, 1)})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeOracleContractViolation))
	assert.Equal(t, 1, o.Calls(fake.MethodOutcome))
}

func TestAggregator_ExhaustedRetries(t *testing.T) {
	o := fake.New()
	tr := apperrors.New(apperrors.ErrCodeOracleTransient, "503")
	o.FailNext(fake.MethodOutcome, tr, tr, tr)
	_, err := NewAggregator(o, domain.DefaultCalibration(), testPolicy(), nil, nil).
		Predict(context.Background(), CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: gsPairs(2, 1)})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSimilarityUnavailable))
	assert.Equal(t, 3, o.Calls(fake.MethodOutcome))
}

func TestAggregator_PassesStatisticsToOracle(t *testing.T) {
	o := fake.New()
	var seen oracle.OutcomeRequest
	o.OutcomeFunc = func(r oracle.OutcomeRequest) (*oracle.OutcomeJudgement, error) {
		seen = r
		return &oracle.OutcomeJudgement{Result: string(trademark.OutcomeMayPartiallySucceed), Reasoning: "split"}, nil
	}
	got, err := NewAggregator(o, domain.DefaultCalibration(), testPolicy(), nil, nil).
		Predict(context.Background(), CasePredictionRequest{MarkSimilarity: identical(), GsSimilarity: gsPairs(4, 2)})
	require.NoError(t, err)
	assert.Equal(t, 4, seen.Statistics.TotalPairs)
	assert.Equal(t, 0.5, seen.Statistics.ConfusionRate)
	assert.Equal(t, "split", got.Reasoning)
	assert.Equal(t, 0.55, got.Breakdown.Base)
}

func newFullCase(o *fake.Oracle, maxPairs int) *FullCaseService {
	cfg := similarity.DefaultConfig()
	cfg.Retry = testPolicy()
	cfg.ExampleCount = 0
	return NewFullCaseService(
		similarity.NewMarkEngine(o, cfg, nil),
		similarity.NewGsEngine(o, nil, cfg, nil),
		NewAggregator(o, domain.DefaultCalibration(), testPolicy(), nil, nil),
		3, maxPairs, nil)
}

func TestFullCase_CartesianProduct(t *testing.T) {
	o := fake.New()
	req := FullCaseRequest{
		Applicant: Party{Mark: "COCACOLA", Terms: []trademark.GsTerm{{Term: "Beer", NiceClass: 32}, {Term: "Clothing", NiceClass: 25}}},
		Opponent: Party{Mark: "COCACOLA", Terms: []trademark.GsTerm{
			{Term: "Beer", NiceClass: 32}, {Term: "Mineral water", NiceClass: 32}, {Term: "Software", NiceClass: 9},
		}},
	}
	got, err := newFullCase(o, 0).Predict(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, got.GsSimilarity, 6)
	assert.Equal(t, 6, o.Calls(fake.MethodGs))
	for i, at := range req.Applicant.Terms {
		for j, ot := range req.Opponent.Terms {
			p := got.GsSimilarity[i*3+j]
			assert.Equal(t, at.Term, p.ApplicantTerm)
			assert.Equal(t, ot.Term, p.OpponentTerm)
		}
	}
	assert.Equal(t, 1.0, got.GsSimilarity[0].SimilarityScore)
	assert.Equal(t, trademark.DegreeIdentical, got.MarkSimilarity.Overall)
	assert.Equal(t, 6, got.Prediction.Statistics.TotalPairs)
	assert.Equal(t, 2, got.Prediction.Statistics.ConfusedPairs)
	assert.Equal(t, trademark.OutcomeMayPartiallySucceed, got.Prediction.Result)
}

func TestFullCase_Validation(t *testing.T) {
	o := fake.New()
	svc := newFullCase(o, 2)
	terms := []trademark.GsTerm{{Term: "Beer", NiceClass: 32}, {Term: "Wine", NiceClass: 33}}

	_, err := svc.Predict(context.Background(), FullCaseRequest{Applicant: Party{Mark: "A"}, Opponent: Party{Mark: "B", Terms: terms}})
	assert.True(t, apperrors.IsValidation(err))
	_, err = svc.Predict(context.Background(), FullCaseRequest{Applicant: Party{Mark: "A", Terms: terms}, Opponent: Party{Mark: "B", Terms: terms}})
	assert.True(t, apperrors.IsValidation(err), "4 pairs exceed the limit of 2")
	_, err = svc.Predict(context.Background(), FullCaseRequest{
		Applicant: Party{Mark: "A", Terms: []trademark.GsTerm{{Term: "Beer", NiceClass: 99}}},
		Opponent:  Party{Mark: "B", Terms: terms[:1]},
	})
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, o.Calls(fake.MethodConceptual))
}

func TestFullCase_PairFailureFailsRequest(t *testing.T) {
	o := fake.New()
	o.GsFunc = func(oracle.GsRequest) (*oracle.GsJudgement, error) {
		return &oracle.GsJudgement{SimilarityScore: 2}, nil
	}
	_, err := newFullCase(o, 0).Predict(context.Background(), FullCaseRequest{
		Applicant: Party{Mark: "A", Terms: []trademark.GsTerm{{Term: "Beer", NiceClass: 32}}},
		Opponent:  Party{Mark: "B", Terms: []trademark.GsTerm{{Term: "Beer", NiceClass: 32}}},
	})
	assert.True(t, apperrors.IsContractViolation(err))
	assert.Zero(t, o.Calls(fake.MethodOutcome))
}
