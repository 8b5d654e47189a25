package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/Opposition-Intelligence/internal/domain/scoring"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// ScoreResult is one deterministic dimension score.
type ScoreResult struct {
	Dimension string                     `json:"dimension"`
	Applicant string                     `json:"applicant_mark"`
	Opponent  string                     `json:"opponent_mark"`
	Score     float64                    `json:"score"`
	Degree    trademark.SimilarityDegree `json:"degree"`
}

func (r ScoreResult) String() string {
	return fmt.Sprintf("%s %q vs %q: %.4f (%s)", r.Dimension, r.Applicant, r.Opponent, r.Score, r.Degree)
}

func (r ScoreResult) TableHeaders() []string {
	return []string{"DIMENSION", "APPLICANT", "OPPONENT", "SCORE", "DEGREE"}
}

func (r ScoreResult) TableRows() [][]string {
	return [][]string{{r.Dimension, r.Applicant, r.Opponent, fmt.Sprintf("%.4f", r.Score), string(r.Degree)}}
}

// NewScoreCmd prints the visual or aural score of two marks. It needs no
// infrastructure and falls back to the default thresholds without config.
func NewScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "score visual|aural <applicant-mark> <opponent-mark>",
		Short:       "Score two marks on one deterministic dimension",
		Args:        cobra.ExactArgs(3),
		ValidArgs:   []string{"visual", "aural"},
		Annotations: map[string]string{annotationConfigOptional: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			thresholds := scoring.DefaultThresholds()
			if cc, err := GetCLIContext(cmd); err == nil {
				thresholds = cc.Config.Scoring.Thresholds()
			}
			res, err := scoreMarks(args[0], args[1], args[2], thresholds)
			if err != nil {
				return err
			}
			return PrintResult(cmd, res)
		},
	}
	return cmd
}

func scoreMarks(dimension, a, b string, t scoring.Thresholds) (ScoreResult, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return ScoreResult{}, fmt.Errorf("both marks must be non-empty")
	}
	var s float64
	switch strings.ToLower(dimension) {
	case "visual":
		s = scoring.VisualScore(a, b)
	case "aural":
		s = scoring.AuralScore(a, b)
	default:
		return ScoreResult{}, fmt.Errorf("unknown dimension %q: expected visual or aural", dimension)
	}
	return ScoreResult{Dimension: strings.ToLower(dimension), Applicant: a, Opponent: b, Score: s, Degree: t.Degree(s)}, nil
}
