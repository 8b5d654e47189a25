// Package trademark holds the data types shared by the similarity engines,
// the ingestion pipeline and the HTTP surface.
package trademark

import (
	"fmt"
	"strings"
)

// SimilarityDegree is an ordered categorical similarity value.
type SimilarityDegree string

const (
	DegreeIdentical  SimilarityDegree = "identical"
	DegreeHigh       SimilarityDegree = "high_degree"
	DegreeMedium     SimilarityDegree = "medium_degree"
	DegreeLow        SimilarityDegree = "low_degree"
	DegreeDissimilar SimilarityDegree = "dissimilar"

	// DegreeNeutral is only permitted for conceptual comparisons, where a mark
	// carries no concept at all.
	DegreeNeutral SimilarityDegree = "neutral"
)

// Degrees lists the five graded values from highest to lowest.
var Degrees = []SimilarityDegree{DegreeIdentical, DegreeHigh, DegreeMedium, DegreeLow, DegreeDissimilar}

// Rank orders degrees: identical=4 ... dissimilar=0. Neutral and unknown
// values rank -1.
func (d SimilarityDegree) Rank() int {
	switch d {
	case DegreeIdentical:
		return 4
	case DegreeHigh:
		return 3
	case DegreeMedium:
		return 2
	case DegreeLow:
		return 1
	case DegreeDissimilar:
		return 0
	default:
		return -1
	}
}

// IsValid reports whether d is one of the five graded values.
func (d SimilarityDegree) IsValid() bool { return d.Rank() >= 0 }

// IsValidConceptual additionally admits neutral.
func (d SimilarityDegree) IsValidConceptual() bool { return d.IsValid() || d == DegreeNeutral }

// ParseDegree normalises s ("High Degree", "high-degree", ...) and validates it.
func ParseDegree(s string) (SimilarityDegree, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	d := SimilarityDegree(norm)
	if !d.IsValidConceptual() {
		return "", fmt.Errorf("unknown similarity degree %q", s)
	}
	return d, nil
}

// ConfusionType classifies a likelihood of confusion.
type ConfusionType string

const (
	ConfusionDirect   ConfusionType = "direct"
	ConfusionIndirect ConfusionType = "indirect"
	ConfusionBoth     ConfusionType = "both"
)

// IsValid reports whether c is a known confusion type.
func (c ConfusionType) IsValid() bool {
	switch c {
	case ConfusionDirect, ConfusionIndirect, ConfusionBoth:
		return true
	}
	return false
}

// OutcomeResult is the predicted opposition outcome.
type OutcomeResult string

const (
	OutcomeLikelySucceed       OutcomeResult = "opposition_likely_succeed"
	OutcomeMayPartiallySucceed OutcomeResult = "opposition_may_partially_succeed"
	OutcomeLikelyFail          OutcomeResult = "opposition_likely_fail"
)

// IsValid reports whether r is one of the three outcomes.
func (r OutcomeResult) IsValid() bool {
	switch r {
	case OutcomeLikelySucceed, OutcomeMayPartiallySucceed, OutcomeLikelyFail:
		return true
	}
	return false
}

// Distinctiveness is the assessed distinctive character of the earlier mark.
type Distinctiveness string

const (
	DistinctivenessVeryHigh Distinctiveness = "very_high_degree"
	DistinctivenessHigh     Distinctiveness = "high_degree"
	DistinctivenessMedium   Distinctiveness = "medium_degree"
	DistinctivenessLow      Distinctiveness = "low_degree"
)

// Signal returns +1 for enhanced distinctiveness, -1 for weak, 0 otherwise.
func (d Distinctiveness) Signal() int {
	switch d {
	case DistinctivenessVeryHigh, DistinctivenessHigh:
		return 1
	case DistinctivenessLow:
		return -1
	}
	return 0
}

// Mark is a wordmark plus an optional image reference.
type Mark struct {
	Text     string `json:"text"`
	ImageRef string `json:"image_ref,omitempty"`
}

// MarkSimilarityAssessment is the graded comparison of two marks.
type MarkSimilarityAssessment struct {
	VisualScore     float64          `json:"visual_score"`
	AuralScore      float64          `json:"aural_score"`
	ConceptualScore float64          `json:"conceptual_score"`
	OverallScore    float64          `json:"overall_score"`
	Visual          SimilarityDegree `json:"visual"`
	Aural           SimilarityDegree `json:"aural"`
	Conceptual      SimilarityDegree `json:"conceptual"`
	Overall         SimilarityDegree `json:"overall"`
	Reasoning       string           `json:"reasoning"`
}

// GsTerm is a goods or services term with its NICE class.
type GsTerm struct {
	Term        string `json:"term"`
	NiceClass   int    `json:"nice_class"`
	Description string `json:"description,omitempty"`
}

// GsSimilarityAssessment is the graded comparison of two goods/services terms.
type GsSimilarityAssessment struct {
	ApplicantTerm         string           `json:"applicant_term,omitempty"`
	OpponentTerm          string           `json:"opponent_term,omitempty"`
	SimilarityScore       float64          `json:"similarity_score"`
	Similarity            SimilarityDegree `json:"similarity"`
	IsCompetitive         bool             `json:"is_competitive"`
	IsComplementary       bool             `json:"is_complementary"`
	LikelihoodOfConfusion bool             `json:"likelihood_of_confusion"`
	ConfusionType         *ConfusionType   `json:"confusion_type"`
	Reasoning             string           `json:"reasoning"`
}

// Chunk is a contiguous, section-labelled span of extracted document text.
type Chunk struct {
	CaseReference   string `json:"case_reference"`
	SourceSection   string `json:"source_section"`
	PageNumber      int    `json:"page_number"`
	ChunkSequenceID int    `json:"chunk_sequence_id"`
	Text            string `json:"text"`
}

// EmbeddingVector is a fixed-dimension embedding bound to one chunk.
type EmbeddingVector []float32

// OutcomeStatistics summarises a set of goods/services assessments.
type OutcomeStatistics struct {
	TotalPairs         int     `json:"total_pairs"`
	ConfusedPairs      int     `json:"confused_pairs"`
	ConfusionRate      float64 `json:"confusion_rate"`
	ConfusionPercent   float64 `json:"confusion_percent"`
	DirectCount        int     `json:"direct_count"`
	IndirectCount      int     `json:"indirect_count"`
	BothCount          int     `json:"both_count"`
	MeanSimilarity     float64 `json:"mean_similarity"`
	SimilarityVariance float64 `json:"similarity_variance"`
}

// ConfidenceBreakdown records each additive term of the calibrated confidence.
type ConfidenceBreakdown struct {
	Base                   float64 `json:"base"`
	MarkConsistency        float64 `json:"mark_consistency"`
	ConfusionRate          float64 `json:"confusion_rate"`
	Variance               float64 `json:"variance"`
	Distinctiveness        float64 `json:"distinctiveness"`
	ConfusionTypeAgreement float64 `json:"confusion_type_agreement"`
}

// OutcomePrediction is the aggregated case outcome.
type OutcomePrediction struct {
	Result     OutcomeResult       `json:"result"`
	Confidence float64             `json:"confidence"`
	Reasoning  string              `json:"reasoning"`
	Statistics OutcomeStatistics   `json:"statistics"`
	Breakdown  ConfidenceBreakdown `json:"confidence_breakdown"`
}

// Page is the extracted text of one document page. Numbers start at 1.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Section is a labelled, inclusive page range of a decision. StartLine is the
// 0-based line of StartPage where the section opens. EndLine, when positive,
// is the exclusive line bound on EndPage; zero runs to the end of the page.
type Section struct {
	Label     string `json:"label"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}
