// Package prediction aggregates similarity assessments into a calibrated
// opposition outcome.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/turtacn/Opposition-Intelligence/internal/application/similarity"
	domain "github.com/turtacn/Opposition-Intelligence/internal/domain/prediction"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// OutcomeOracle synthesises the outcome.
type OutcomeOracle interface {
	SynthesizeOutcome(ctx context.Context, req oracle.OutcomeRequest) (*oracle.OutcomeJudgement, error)
}

// Metrics receives prediction telemetry.
type Metrics interface {
	ObservePrediction(result string, confidence float64)
}

// CasePredictionRequest is the input of Aggregator.Predict.
type CasePredictionRequest struct {
	MarkSimilarity             trademark.MarkSimilarityAssessment `json:"mark_similarity"`
	GsSimilarity               []trademark.GsSimilarityAssessment `json:"gs_similarity"`
	EarlierMarkDistinctiveness trademark.Distinctiveness          `json:"earlier_mark_distinctiveness,omitempty"`
}

// Validate checks the request without touching the network.
func (r CasePredictionRequest) Validate() error {
	if len(r.GsSimilarity) == 0 {
		return apperrors.InvalidInput("gs_similarity must not be empty")
	}
	m := r.MarkSimilarity
	for name, v := range map[string]float64{
		"visual_score": m.VisualScore, "aural_score": m.AuralScore,
		"conceptual_score": m.ConceptualScore, "overall_score": m.OverallScore,
	} {
		if !inUnit(v) {
			return apperrors.InvalidInput(fmt.Sprintf("mark_similarity.%s %v outside [0,1]", name, v))
		}
	}
	if !m.Overall.IsValid() || !m.Visual.IsValid() || !m.Aural.IsValid() || !m.Conceptual.IsValidConceptual() {
		return apperrors.InvalidInput("mark_similarity carries an unknown degree")
	}
	for i, g := range r.GsSimilarity {
		if !inUnit(g.SimilarityScore) {
			return apperrors.InvalidInput(fmt.Sprintf("gs_similarity[%d].similarity_score %v outside [0,1]", i, g.SimilarityScore))
		}
		if !g.Similarity.IsValid() {
			return apperrors.InvalidInput(fmt.Sprintf("gs_similarity[%d].similarity %q is not a degree", i, g.Similarity))
		}
		if err := similarity.CheckConfusionType(g); err != nil {
			return apperrors.InvalidInput(fmt.Sprintf("gs_similarity[%d]: %v", i, err))
		}
	}
	switch r.EarlierMarkDistinctiveness {
	case "", trademark.DistinctivenessVeryHigh, trademark.DistinctivenessHigh,
		trademark.DistinctivenessMedium, trademark.DistinctivenessLow:
	default:
		return apperrors.InvalidInput(fmt.Sprintf("earlier_mark_distinctiveness %q is not recognised", r.EarlierMarkDistinctiveness))
	}
	return nil
}

func inUnit(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }

// Aggregator turns assessments into an OutcomePrediction.
type Aggregator struct {
	oracle     OutcomeOracle
	calibrator *domain.Calibrator
	retry      retry.Policy
	metrics    Metrics
	logger     logging.Logger
}

// NewAggregator returns an Aggregator. metrics may be nil.
func NewAggregator(o OutcomeOracle, cal domain.Calibration, policy retry.Policy, metrics Metrics, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Aggregator{
		oracle:     o,
		calibrator: domain.NewCalibrator(cal),
		retry:      policy,
		metrics:    metrics,
		logger:     logger,
	}
}

// Predict computes statistics, asks the oracle for the result and calibrates
// the confidence deterministically.
func (a *Aggregator) Predict(ctx context.Context, req CasePredictionRequest) (*trademark.OutcomePrediction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	stats := domain.ComputeStatistics(req.GsSimilarity)

	j, err := retry.Do(ctx, a.retry, func(ctx context.Context) (*oracle.OutcomeJudgement, error) {
		return a.oracle.SynthesizeOutcome(ctx, oracle.OutcomeRequest{
			MarkSimilarity:  req.MarkSimilarity,
			GsSimilarity:    req.GsSimilarity,
			Statistics:      stats,
			Distinctiveness: req.EarlierMarkDistinctiveness,
		})
	})
	if err != nil {
		a.logger.Warn("outcome synthesis failed", logging.Err(err))
		return nil, synthesisError(err)
	}
	if j == nil {
		return nil, apperrors.ContractViolation("empty outcome judgement")
	}
	result := trademark.OutcomeResult(j.Result)
	if !result.IsValid() {
		return nil, apperrors.Newf(apperrors.ErrCodeOracleContractViolation, "outcome %q is not permitted", j.Result)
	}

	conf, breakdown := a.calibrator.Confidence(domain.Input{
		Result:          result,
		Mark:            req.MarkSimilarity,
		Statistics:      stats,
		Distinctiveness: req.EarlierMarkDistinctiveness,
	})
	if a.metrics != nil {
		a.metrics.ObservePrediction(string(result), conf)
	}
	a.logger.Info("outcome predicted",
		logging.String("result", string(result)),
		logging.Float64("confidence", conf),
		logging.Int("pairs", stats.TotalPairs),
		logging.Int("confused", stats.ConfusedPairs))

	return &trademark.OutcomePrediction{
		Result:     result,
		Confidence: conf,
		Reasoning:  j.Reasoning,
		Statistics: stats,
		Breakdown:  breakdown,
	}, nil
}

func synthesisError(err error) error {
	switch apperrors.KindOf(err) {
	case apperrors.KindContractViolation, apperrors.KindInputValidation, apperrors.KindUnavailable:
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeSimilarityUnavailable, "outcome synthesis unavailable")
}
