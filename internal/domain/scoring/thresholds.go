package scoring

import (
	"fmt"
	"math"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// Default degree boundaries. A score at or above a boundary maps to that degree.
const (
	DefaultIdenticalThreshold = 0.97
	DefaultHighThreshold      = 0.80
	DefaultMediumThreshold    = 0.60
	DefaultLowThreshold       = 0.35
)

// Thresholds maps a score in [0,1] to a SimilarityDegree.
type Thresholds struct {
	Identical float64
	High      float64
	Medium    float64
	Low       float64
}

// DefaultThresholds returns the documented default boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Identical: DefaultIdenticalThreshold,
		High:      DefaultHighThreshold,
		Medium:    DefaultMediumThreshold,
		Low:       DefaultLowThreshold,
	}
}

// Validate requires 1 >= Identical > High > Medium > Low > 0.
func (t Thresholds) Validate() error {
	bounds := []struct {
		name string
		v    float64
	}{{"identical", t.Identical}, {"high", t.High}, {"medium", t.Medium}, {"low", t.Low}}
	for _, b := range bounds {
		if math.IsNaN(b.v) || b.v <= 0 || b.v > 1 {
			return fmt.Errorf("scoring: %s threshold %v must be in (0,1]", b.name, b.v)
		}
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i].v >= bounds[i-1].v {
			return fmt.Errorf("scoring: %s threshold %v must be below %s threshold %v",
				bounds[i].name, bounds[i].v, bounds[i-1].name, bounds[i-1].v)
		}
	}
	return nil
}

// Degree maps score to a degree. NaN maps to dissimilar.
func (t Thresholds) Degree(score float64) trademark.SimilarityDegree {
	switch {
	case score >= t.Identical:
		return trademark.DegreeIdentical
	case score >= t.High:
		return trademark.DegreeHigh
	case score >= t.Medium:
		return trademark.DegreeMedium
	case score >= t.Low:
		return trademark.DegreeLow
	default:
		return trademark.DegreeDissimilar
	}
}
