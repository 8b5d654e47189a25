// Package oracle defines the semantic-judgment capability consumed by the
// similarity engines, the chunker and the ingestion pipeline.
//
// Implementations return raw judgements; callers validate them. Provider
// failures that may succeed on retry must carry errors.ErrCodeOracleTransient,
// malformed responses errors.ErrCodeOracleContractViolation.
package oracle

import (
	"context"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// ConceptualRequest asks for the conceptual similarity of two marks.
type ConceptualRequest struct {
	ApplicantMark string `json:"applicant_mark"`
	OpponentMark  string `json:"opponent_mark"`
	ImageRef      string `json:"image_ref,omitempty"`
}

// ConceptualJudgement is the oracle's conceptual comparison. Degree may be
// empty, in which case the caller derives it from Score.
type ConceptualJudgement struct {
	Score     float64 `json:"score"`
	Degree    string  `json:"degree"`
	Reasoning string  `json:"reasoning"`
}

// OverallRequest supplies the three sub-assessments for the holistic judgement.
type OverallRequest struct {
	ApplicantMark   string                     `json:"applicant_mark"`
	OpponentMark    string                     `json:"opponent_mark"`
	VisualScore     float64                    `json:"visual_score"`
	AuralScore      float64                    `json:"aural_score"`
	ConceptualScore float64                    `json:"conceptual_score"`
	Visual          trademark.SimilarityDegree `json:"visual"`
	Aural           trademark.SimilarityDegree `json:"aural"`
	Conceptual      trademark.SimilarityDegree `json:"conceptual"`
	ConceptualNotes string                     `json:"conceptual_notes,omitempty"`
}

// OverallJudgement is the oracle's holistic mark comparison.
type OverallJudgement struct {
	Score     float64 `json:"score"`
	Degree    string  `json:"degree"`
	Reasoning string  `json:"reasoning"`
}

// GsRequest asks for the comparison of one goods/services term pair.
type GsRequest struct {
	ApplicantTerm  trademark.GsTerm                   `json:"applicant_term"`
	OpponentTerm   trademark.GsTerm                   `json:"opponent_term"`
	MarkSimilarity trademark.MarkSimilarityAssessment `json:"mark_similarity"`
	Examples       []string                           `json:"examples,omitempty"`
}

// GsJudgement is the oracle's goods/services comparison.
type GsJudgement struct {
	SimilarityScore       float64 `json:"similarity_score"`
	Similarity            string  `json:"similarity"`
	IsCompetitive         bool    `json:"is_competitive"`
	IsComplementary       bool    `json:"is_complementary"`
	LikelihoodOfConfusion bool    `json:"likelihood_of_confusion"`
	ConfusionType         *string `json:"confusion_type"`
	Reasoning             string  `json:"reasoning"`
}

// OutcomeRequest supplies everything the outcome synthesis sees.
type OutcomeRequest struct {
	MarkSimilarity  trademark.MarkSimilarityAssessment `json:"mark_similarity"`
	GsSimilarity    []trademark.GsSimilarityAssessment `json:"gs_similarity"`
	Statistics      trademark.OutcomeStatistics        `json:"statistics"`
	Distinctiveness trademark.Distinctiveness          `json:"earlier_mark_distinctiveness,omitempty"`
}

// OutcomeJudgement is the oracle's predicted result.
type OutcomeJudgement struct {
	Result    string `json:"result"`
	Reasoning string `json:"reasoning"`
}

// Oracle is the full capability set.
type Oracle interface {
	JudgeConceptual(ctx context.Context, req ConceptualRequest) (*ConceptualJudgement, error)
	JudgeOverall(ctx context.Context, req OverallRequest) (*OverallJudgement, error)
	JudgeGoodsServices(ctx context.Context, req GsRequest) (*GsJudgement, error)
	SynthesizeOutcome(ctx context.Context, req OutcomeRequest) (*OutcomeJudgement, error)
	ClassifySections(ctx context.Context, pages []trademark.Page) ([]trademark.Section, error)
	ExtractCase(ctx context.Context, pages []trademark.Page) (*trademark.CaseExtraction, error)
	Embedder
}

// Embedder produces embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) (trademark.EmbeddingVector, error)
}
