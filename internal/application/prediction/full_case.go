package prediction

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/Opposition-Intelligence/internal/application/similarity"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// DefaultMaxPairs bounds the Cartesian product of one request.
const DefaultMaxPairs = 400

// MarkAssessor grades two marks.
type MarkAssessor interface {
	Assess(ctx context.Context, req similarity.MarkSimilarityRequest) (*trademark.MarkSimilarityAssessment, error)
}

// GsAssessor grades one goods/services pair.
type GsAssessor interface {
	Assess(ctx context.Context, req similarity.GsSimilarityRequest) (*trademark.GsSimilarityAssessment, error)
}

// Party is one side of an opposition.
type Party struct {
	Mark     string             `json:"mark"`
	ImageURL string             `json:"image_url,omitempty"`
	Terms    []trademark.GsTerm `json:"terms"`
}

// FullCaseRequest is the input of FullCaseService.Predict.
type FullCaseRequest struct {
	Applicant                  Party                     `json:"applicant"`
	Opponent                   Party                     `json:"opponent"`
	EarlierMarkDistinctiveness trademark.Distinctiveness `json:"earlier_mark_distinctiveness,omitempty"`
}

// FullCaseResult embeds every intermediate assessment.
type FullCaseResult struct {
	MarkSimilarity trademark.MarkSimilarityAssessment `json:"mark_similarity"`
	GsSimilarity   []trademark.GsSimilarityAssessment `json:"gs_similarity"`
	Prediction     trademark.OutcomePrediction        `json:"prediction"`
}

// FullCaseService runs both engines and the aggregator for a whole case.
type FullCaseService struct {
	marks    MarkAssessor
	gs       GsAssessor
	agg      *Aggregator
	fanOut   int
	maxPairs int
	logger   logging.Logger
}

// NewFullCaseService returns a FullCaseService. fanOut bounds concurrent
// goods/services assessments.
func NewFullCaseService(marks MarkAssessor, gs GsAssessor, agg *Aggregator, fanOut, maxPairs int, logger logging.Logger) *FullCaseService {
	if fanOut <= 0 {
		fanOut = 4
	}
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FullCaseService{marks: marks, gs: gs, agg: agg, fanOut: fanOut, maxPairs: maxPairs, logger: logger}
}

func (r FullCaseRequest) validate(maxPairs int) error {
	if strings.TrimSpace(r.Applicant.Mark) == "" || strings.TrimSpace(r.Opponent.Mark) == "" {
		return apperrors.InvalidInput("both marks are required")
	}
	if len(r.Applicant.Terms) == 0 || len(r.Opponent.Terms) == 0 {
		return apperrors.InvalidInput("both parties need at least one goods or services term")
	}
	if n := len(r.Applicant.Terms) * len(r.Opponent.Terms); n > maxPairs {
		return apperrors.InvalidInput(fmt.Sprintf("%d term pairs exceed the limit of %d", n, maxPairs))
	}
	for i, t := range r.Applicant.Terms {
		if err := similarity.ValidateTerm(fmt.Sprintf("applicant.terms[%d]", i), t); err != nil {
			return err
		}
	}
	for i, t := range r.Opponent.Terms {
		if err := similarity.ValidateTerm(fmt.Sprintf("opponent.terms[%d]", i), t); err != nil {
			return err
		}
	}
	return nil
}

// Predict assesses the marks, then every applicant × opponent term pair with
// bounded concurrency, then aggregates. Pair i*len(opponent)+j holds applicant
// term i against opponent term j.
func (s *FullCaseService) Predict(ctx context.Context, req FullCaseRequest) (*FullCaseResult, error) {
	if err := req.validate(s.maxPairs); err != nil {
		return nil, err
	}

	mark, err := s.marks.Assess(ctx, similarity.MarkSimilarityRequest{
		ApplicantMark: req.Applicant.Mark,
		OpponentMark:  req.Opponent.Mark,
		MarkImageURL:  req.Applicant.ImageURL,
	})
	if err != nil {
		return nil, err
	}

	nOpp := len(req.Opponent.Terms)
	pairs := make([]trademark.GsSimilarityAssessment, len(req.Applicant.Terms)*nOpp)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, at := range req.Applicant.Terms {
		for j, ot := range req.Opponent.Terms {
			idx, at, ot := i*nOpp+j, at, ot
			g.Go(func() error {
				a, err := s.gs.Assess(gctx, similarity.GsSimilarityRequest{
					ApplicantTerm:  at,
					OpponentTerm:   ot,
					MarkSimilarity: *mark,
				})
				if err != nil {
					return err
				}
				pairs[idx] = *a
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pred, err := s.agg.Predict(ctx, CasePredictionRequest{
		MarkSimilarity:             *mark,
		GsSimilarity:               pairs,
		EarlierMarkDistinctiveness: req.EarlierMarkDistinctiveness,
	})
	if err != nil {
		return nil, err
	}
	return &FullCaseResult{MarkSimilarity: *mark, GsSimilarity: pairs, Prediction: *pred}, nil
}
