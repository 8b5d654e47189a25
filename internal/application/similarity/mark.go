// Package similarity holds the mark and goods/services similarity engines.
//
// Deterministic scores come from internal/domain/scoring; everything that
// needs judgement goes to the oracle. Oracle output is validated, never
// repaired: out-of-range scores and unknown degrees surface as contract
// violations so callers can tell a misbehaving oracle from an unavailable one.
package similarity

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/turtacn/Opposition-Intelligence/internal/domain/scoring"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// MarkSimilarityRequest is the input of MarkEngine.Assess.
type MarkSimilarityRequest struct {
	ApplicantMark string `json:"applicant_mark"`
	OpponentMark  string `json:"opponent_mark"`
	MarkImageURL  string `json:"mark_image_url,omitempty"`
}

// Validate rejects empty marks.
func (r MarkSimilarityRequest) Validate() error {
	if strings.TrimSpace(r.ApplicantMark) == "" {
		return apperrors.InvalidInput("applicant_mark is required")
	}
	if strings.TrimSpace(r.OpponentMark) == "" {
		return apperrors.InvalidInput("opponent_mark is required")
	}
	return nil
}

// Config carries engine tunables.
type Config struct {
	Thresholds scoring.Thresholds
	Retry      retry.Policy
	// ExampleCount is the number of few-shot precedents given to the
	// goods/services oracle. Zero disables retrieval.
	ExampleCount int
}

// DefaultConfig returns default thresholds, the default retry policy and
// three few-shot examples.
func DefaultConfig() Config {
	return Config{
		Thresholds:   scoring.DefaultThresholds(),
		Retry:        retry.DefaultPolicy(),
		ExampleCount: 3,
	}
}

// MarkEngine grades the similarity of two marks.
type MarkEngine struct {
	oracle oracle.Oracle
	cfg    Config
	logger logging.Logger
}

// NewMarkEngine returns a MarkEngine.
func NewMarkEngine(o oracle.Oracle, cfg Config, logger logging.Logger) *MarkEngine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MarkEngine{oracle: o, cfg: cfg, logger: logger}
}

// Assess scores visual and aural similarity locally, asks the oracle for the
// conceptual score, and asks it again for the holistic overall judgement.
func (e *MarkEngine) Assess(ctx context.Context, req MarkSimilarityRequest) (*trademark.MarkSimilarityAssessment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, b := strings.TrimSpace(req.ApplicantMark), strings.TrimSpace(req.OpponentMark)
	th := e.cfg.Thresholds

	out := &trademark.MarkSimilarityAssessment{
		VisualScore: scoring.VisualScore(a, b),
		AuralScore:  scoring.AuralScore(a, b),
	}
	out.Visual = th.Degree(out.VisualScore)
	out.Aural = th.Degree(out.AuralScore)

	concept, err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (*oracle.ConceptualJudgement, error) {
		return e.oracle.JudgeConceptual(ctx, oracle.ConceptualRequest{ApplicantMark: a, OpponentMark: b, ImageRef: req.MarkImageURL})
	})
	if err != nil {
		return nil, e.unavailable(err, "conceptual judgement")
	}
	if concept == nil {
		return nil, apperrors.ContractViolation("empty conceptual judgement")
	}
	if err := checkScore("conceptual_score", concept.Score); err != nil {
		return nil, err
	}
	out.ConceptualScore = concept.Score
	if strings.TrimSpace(concept.Degree) == "" {
		out.Conceptual = th.Degree(concept.Score)
	} else {
		d, err := trademark.ParseDegree(concept.Degree)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrCodeInvalidDegreeValue, "conceptual degree %q is not permitted", concept.Degree)
		}
		out.Conceptual = d
	}

	overall, err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (*oracle.OverallJudgement, error) {
		return e.oracle.JudgeOverall(ctx, oracle.OverallRequest{
			ApplicantMark:   a,
			OpponentMark:    b,
			VisualScore:     out.VisualScore,
			AuralScore:      out.AuralScore,
			ConceptualScore: out.ConceptualScore,
			Visual:          out.Visual,
			Aural:           out.Aural,
			Conceptual:      out.Conceptual,
			ConceptualNotes: concept.Reasoning,
		})
	})
	if err != nil {
		return nil, e.unavailable(err, "overall judgement")
	}
	if overall == nil {
		return nil, apperrors.ContractViolation("empty overall judgement")
	}
	if err := checkScore("overall_score", overall.Score); err != nil {
		return nil, err
	}
	deg, err := parseStrictDegree(overall.Degree)
	if err != nil {
		return nil, err
	}
	out.OverallScore = overall.Score
	out.Overall = deg
	out.Reasoning = overall.Reasoning

	e.logger.Debug("mark similarity assessed",
		logging.String("applicant_mark", a),
		logging.String("opponent_mark", b),
		logging.Float64("overall_score", out.OverallScore),
		logging.String("overall", string(out.Overall)))
	return out, nil
}

func (e *MarkEngine) unavailable(err error, op string) error {
	e.logger.Warn("oracle call failed", logging.String("op", op), logging.Err(err))
	return unavailable(err, apperrors.ErrCodeSimilarityUnavailable, op)
}

// HeuristicAssessment builds a visual/aural-only assessment. It is offered to
// callers that prefer a degraded answer over SimilarityUnavailable; no engine
// falls back to it on its own. The conceptual dimension is neutral and the
// overall score is the mean of the visual and aural scores.
func HeuristicAssessment(applicant, opponent string, th scoring.Thresholds) *trademark.MarkSimilarityAssessment {
	v := scoring.VisualScore(applicant, opponent)
	a := scoring.AuralScore(applicant, opponent)
	overall := (v + a) / 2
	return &trademark.MarkSimilarityAssessment{
		VisualScore:  v,
		AuralScore:   a,
		OverallScore: overall,
		Visual:       th.Degree(v),
		Aural:        th.Degree(a),
		Conceptual:   trademark.DegreeNeutral,
		Overall:      th.Degree(overall),
		Reasoning:    "heuristic assessment from visual and aural scores only",
	}
}

// unavailable maps a failed oracle call. Contract violations, validation
// errors and cancellation pass through; anything else means the retry budget
// was spent or the provider refused outright.
func unavailable(err error, code apperrors.ErrorCode, op string) error {
	switch apperrors.KindOf(err) {
	case apperrors.KindContractViolation, apperrors.KindInputValidation, apperrors.KindUnavailable:
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.Wrap(err, code, op+" unavailable")
}

func checkScore(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return apperrors.Newf(apperrors.ErrCodeOracleContractViolation, "%s %v outside [0,1]", field, v)
	}
	return nil
}

// parseStrictDegree accepts only the five graded degrees.
func parseStrictDegree(s string) (trademark.SimilarityDegree, error) {
	d, err := trademark.ParseDegree(s)
	if err != nil || !d.IsValid() {
		return "", apperrors.Newf(apperrors.ErrCodeInvalidDegreeValue, "degree %q is not permitted", s)
	}
	return d, nil
}
