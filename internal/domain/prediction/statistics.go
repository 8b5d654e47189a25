// Package prediction holds the deterministic half of outcome prediction:
// statistics over goods/services assessments and the rule-based confidence
// calibration. The oracle decides the result; this package decides how sure
// the system is about it.
package prediction

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// ComputeStatistics summarises gs. Variance is the population variance of
// similarity_score. An empty slice yields zero statistics.
func ComputeStatistics(gs []trademark.GsSimilarityAssessment) trademark.OutcomeStatistics {
	st := trademark.OutcomeStatistics{TotalPairs: len(gs)}
	if len(gs) == 0 {
		return st
	}
	scores := make([]float64, len(gs))
	for i, a := range gs {
		scores[i] = a.SimilarityScore
		if !a.LikelihoodOfConfusion {
			continue
		}
		st.ConfusedPairs++
		if a.ConfusionType == nil {
			continue
		}
		switch *a.ConfusionType {
		case trademark.ConfusionDirect:
			st.DirectCount++
		case trademark.ConfusionIndirect:
			st.IndirectCount++
		case trademark.ConfusionBoth:
			st.BothCount++
		}
	}
	st.ConfusionRate = float64(st.ConfusedPairs) / float64(st.TotalPairs)
	st.ConfusionPercent = round(st.ConfusionRate*100, 2)
	st.MeanSimilarity, st.SimilarityVariance = stat.PopMeanVariance(scores, nil)
	st.MeanSimilarity = round(st.MeanSimilarity, 6)
	st.SimilarityVariance = round(st.SimilarityVariance, 6)
	return st
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
