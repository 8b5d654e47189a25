package similarity

import (
	"context"
	"fmt"
	"strings"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/retry"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// GoodsServicesSection is the section label few-shot examples are drawn from.
const GoodsServicesSection = "Comparison of goods and services"

// ExampleSource supplies precedent passages similar to a query.
type ExampleSource interface {
	Examples(ctx context.Context, query, section string, k int) ([]string, error)
}

// GsSimilarityRequest is the input of GsEngine.Assess.
type GsSimilarityRequest struct {
	ApplicantTerm  trademark.GsTerm                   `json:"applicant_term"`
	OpponentTerm   trademark.GsTerm                   `json:"opponent_term"`
	MarkSimilarity trademark.MarkSimilarityAssessment `json:"mark_similarity"`
}

// Validate checks both terms.
func (r GsSimilarityRequest) Validate() error {
	if err := ValidateTerm("applicant_term", r.ApplicantTerm); err != nil {
		return err
	}
	return ValidateTerm("opponent_term", r.OpponentTerm)
}

// ValidateTerm requires a term text and a NICE class in 1..45.
func ValidateTerm(field string, t trademark.GsTerm) error {
	if strings.TrimSpace(t.Term) == "" {
		return apperrors.InvalidInput(field + ".term is required")
	}
	if t.NiceClass < 1 || t.NiceClass > 45 {
		return apperrors.InvalidInput(fmt.Sprintf("%s.nice_class %d outside 1-45", field, t.NiceClass))
	}
	return nil
}

// GsEngine grades one applicant/opponent goods or services pair.
type GsEngine struct {
	oracle   oracle.Oracle
	examples ExampleSource
	cfg      Config
	logger   logging.Logger
}

// NewGsEngine returns a GsEngine. examples may be nil.
func NewGsEngine(o oracle.Oracle, examples ExampleSource, cfg Config, logger logging.Logger) *GsEngine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &GsEngine{oracle: o, examples: examples, cfg: cfg, logger: logger}
}

// Assess delegates the comparison to the oracle and validates the response.
// The mark assessment is context only.
func (e *GsEngine) Assess(ctx context.Context, req GsSimilarityRequest) (*trademark.GsSimilarityAssessment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	oreq := oracle.GsRequest{
		ApplicantTerm:  req.ApplicantTerm,
		OpponentTerm:   req.OpponentTerm,
		MarkSimilarity: req.MarkSimilarity,
		Examples:       e.fewShot(ctx, req),
	}
	j, err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (*oracle.GsJudgement, error) {
		return e.oracle.JudgeGoodsServices(ctx, oreq)
	})
	if err != nil {
		e.logger.Warn("oracle call failed", logging.String("op", "goods and services judgement"), logging.Err(err))
		return nil, unavailable(err, apperrors.ErrCodeSimilarityUnavailable, "goods and services judgement")
	}

	out, err := toAssessment(j)
	if err != nil {
		return nil, err
	}
	out.ApplicantTerm = req.ApplicantTerm.Term
	out.OpponentTerm = req.OpponentTerm.Term
	return out, nil
}

func (e *GsEngine) fewShot(ctx context.Context, req GsSimilarityRequest) []string {
	if e.examples == nil || e.cfg.ExampleCount <= 0 {
		return nil
	}
	query := fmt.Sprintf("%s (class %d) compared with %s (class %d)",
		req.ApplicantTerm.Term, req.ApplicantTerm.NiceClass, req.OpponentTerm.Term, req.OpponentTerm.NiceClass)
	ex, err := e.examples.Examples(ctx, query, GoodsServicesSection, e.cfg.ExampleCount)
	if err != nil {
		e.logger.Warn("few-shot retrieval failed, continuing without examples", logging.Err(err))
		return nil
	}
	return ex
}

func toAssessment(j *oracle.GsJudgement) (*trademark.GsSimilarityAssessment, error) {
	if j == nil {
		return nil, apperrors.ContractViolation("empty goods and services judgement")
	}
	if err := checkScore("similarity_score", j.SimilarityScore); err != nil {
		return nil, err
	}
	deg, err := parseStrictDegree(j.Similarity)
	if err != nil {
		return nil, err
	}
	out := &trademark.GsSimilarityAssessment{
		SimilarityScore:       j.SimilarityScore,
		Similarity:            deg,
		IsCompetitive:         j.IsCompetitive,
		IsComplementary:       j.IsComplementary,
		LikelihoodOfConfusion: j.LikelihoodOfConfusion,
		Reasoning:             j.Reasoning,
	}
	if j.ConfusionType != nil && strings.TrimSpace(*j.ConfusionType) != "" {
		if !j.LikelihoodOfConfusion {
			return nil, apperrors.Newf(apperrors.ErrCodeInconsistentConfusionType,
				"confusion_type %q set without likelihood of confusion", *j.ConfusionType)
		}
		ct := trademark.ConfusionType(strings.ToLower(strings.TrimSpace(*j.ConfusionType)))
		if !ct.IsValid() {
			return nil, apperrors.Newf(apperrors.ErrCodeOracleContractViolation, "unknown confusion_type %q", *j.ConfusionType)
		}
		out.ConfusionType = &ct
	}
	return out, nil
}

// CheckConfusionType enforces that confusion_type is absent when there is no
// likelihood of confusion and otherwise one of the known types.
func CheckConfusionType(a trademark.GsSimilarityAssessment) error {
	if a.ConfusionType == nil {
		return nil
	}
	if !a.LikelihoodOfConfusion {
		return apperrors.Newf(apperrors.ErrCodeInconsistentConfusionType,
			"confusion_type %q set without likelihood of confusion", *a.ConfusionType)
	}
	if !a.ConfusionType.IsValid() {
		return apperrors.Newf(apperrors.ErrCodeOracleContractViolation, "unknown confusion_type %q", *a.ConfusionType)
	}
	return nil
}
