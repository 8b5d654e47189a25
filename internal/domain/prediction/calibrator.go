package prediction

import (
	"fmt"
	"math"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// Adjustment caps. Configured adjustments are clamped to these magnitudes.
const (
	MaxMarkConsistencyAdjust = 0.15
	MaxConfusionRateAdjust   = 0.20
	MaxVarianceAdjust        = 0.10
	MaxDistinctivenessAdjust = 0.10
	MaxConfusionTypeAdjust   = 0.05
)

// Bracket pairs a bound with the adjustment applied when a value falls on the
// bracket's side of it.
type Bracket struct {
	Bound  float64
	Adjust float64
}

// Calibration is the full confidence rule table.
type Calibration struct {
	BaseSucceed float64
	BasePartial float64
	BaseFail    float64

	// SpreadBrackets apply to max-min of the visual, aural and conceptual
	// scores, first bracket with spread <= Bound wins, else SpreadOver.
	SpreadBrackets       []Bracket
	SpreadOver           float64
	ContradictionPenalty float64

	// RateBrackets apply to the confusion rate aligned with the result,
	// first bracket with alignment >= Bound wins, else RateUnder.
	RateBrackets []Bracket
	RateUnder    float64

	PartialRateLow    float64
	PartialRateHigh   float64
	PartialInRange    float64
	PartialOutOfRange float64

	// VarianceBrackets: first bracket with variance <= Bound wins, else VarianceOver.
	VarianceBrackets []Bracket
	VarianceOver     float64

	Distinctiveness float64

	TypeAgreement    float64
	TypeDisagreement float64
}

// DefaultCalibration returns the documented rule table.
func DefaultCalibration() Calibration {
	return Calibration{
		BaseSucceed: 0.75,
		BasePartial: 0.55,
		BaseFail:    0.70,

		SpreadBrackets:       []Bracket{{0.10, 0.15}, {0.25, 0.05}, {0.50, 0}},
		SpreadOver:           -0.15,
		ContradictionPenalty: -0.15,

		RateBrackets: []Bracket{{0.95, 0.20}, {0.75, 0.15}, {0.50, 0.05}, {0.25, -0.10}},
		RateUnder:    -0.20,

		PartialRateLow:    0.25,
		PartialRateHigh:   0.75,
		PartialInRange:    0.10,
		PartialOutOfRange: -0.10,

		VarianceBrackets: []Bracket{{0.01, 0.10}, {0.04, 0.05}, {0.09, 0}},
		VarianceOver:     -0.10,

		Distinctiveness: 0.10,

		TypeAgreement:    0.05,
		TypeDisagreement: -0.05,
	}
}

// Validate checks bases lie in [0,1] and partial rate bounds are ordered.
func (c Calibration) Validate() error {
	for name, v := range map[string]float64{
		"base_succeed": c.BaseSucceed, "base_partial": c.BasePartial, "base_fail": c.BaseFail,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("prediction: %s %v must be in [0,1]", name, v)
		}
	}
	if c.PartialRateLow > c.PartialRateHigh {
		return fmt.Errorf("prediction: partial rate range [%v,%v] is inverted", c.PartialRateLow, c.PartialRateHigh)
	}
	return nil
}

// Calibrator computes confidence deterministically from statistics.
type Calibrator struct {
	cal Calibration
}

// NewCalibrator returns a Calibrator over cal.
func NewCalibrator(cal Calibration) *Calibrator {
	return &Calibrator{cal: cal}
}

// Input is everything the confidence depends on.
type Input struct {
	Result          trademark.OutcomeResult
	Mark            trademark.MarkSimilarityAssessment
	Statistics      trademark.OutcomeStatistics
	Distinctiveness trademark.Distinctiveness
}

// Confidence returns the clamped, rounded confidence and its breakdown.
func (c *Calibrator) Confidence(in Input) (float64, trademark.ConfidenceBreakdown) {
	b := trademark.ConfidenceBreakdown{
		Base:                   c.base(in.Result),
		MarkConsistency:        capped(c.markConsistency(in), MaxMarkConsistencyAdjust),
		ConfusionRate:          capped(c.confusionRate(in), MaxConfusionRateAdjust),
		Variance:               capped(c.variance(in.Statistics.SimilarityVariance), MaxVarianceAdjust),
		Distinctiveness:        capped(c.distinctiveness(in), MaxDistinctivenessAdjust),
		ConfusionTypeAgreement: capped(c.confusionType(in.Statistics), MaxConfusionTypeAdjust),
	}
	sum := b.Base + b.MarkConsistency + b.ConfusionRate + b.Variance + b.Distinctiveness + b.ConfusionTypeAgreement
	return round(clamp(sum, 0, 1), 4), b
}

func (c *Calibrator) base(r trademark.OutcomeResult) float64 {
	switch r {
	case trademark.OutcomeLikelySucceed:
		return c.cal.BaseSucceed
	case trademark.OutcomeMayPartiallySucceed:
		return c.cal.BasePartial
	default:
		return c.cal.BaseFail
	}
}

func (c *Calibrator) markConsistency(in Input) float64 {
	rank := in.Mark.Overall.Rank()
	if rank >= 0 {
		switch in.Result {
		case trademark.OutcomeLikelySucceed:
			if rank <= trademark.DegreeLow.Rank() {
				return c.cal.ContradictionPenalty
			}
		case trademark.OutcomeLikelyFail:
			if rank >= trademark.DegreeHigh.Rank() {
				return c.cal.ContradictionPenalty
			}
		}
	}
	m := in.Mark
	hi := math.Max(m.VisualScore, math.Max(m.AuralScore, m.ConceptualScore))
	lo := math.Min(m.VisualScore, math.Min(m.AuralScore, m.ConceptualScore))
	return atMost(hi-lo, c.cal.SpreadBrackets, c.cal.SpreadOver)
}

func (c *Calibrator) confusionRate(in Input) float64 {
	r := in.Statistics.ConfusionRate
	switch in.Result {
	case trademark.OutcomeMayPartiallySucceed:
		if r >= c.cal.PartialRateLow && r <= c.cal.PartialRateHigh {
			return c.cal.PartialInRange
		}
		return c.cal.PartialOutOfRange
	case trademark.OutcomeLikelyFail:
		r = 1 - r
	}
	for _, br := range c.cal.RateBrackets {
		if r >= br.Bound {
			return br.Adjust
		}
	}
	return c.cal.RateUnder
}

func (c *Calibrator) variance(v float64) float64 {
	return atMost(v, c.cal.VarianceBrackets, c.cal.VarianceOver)
}

func (c *Calibrator) distinctiveness(in Input) float64 {
	s := float64(in.Distinctiveness.Signal())
	switch in.Result {
	case trademark.OutcomeLikelySucceed:
		return s * c.cal.Distinctiveness
	case trademark.OutcomeLikelyFail:
		return -s * c.cal.Distinctiveness
	}
	return 0
}

func (c *Calibrator) confusionType(st trademark.OutcomeStatistics) float64 {
	if st.ConfusedPairs == 0 {
		return 0
	}
	for _, n := range []int{st.DirectCount, st.IndirectCount, st.BothCount} {
		if n == st.ConfusedPairs {
			return c.cal.TypeAgreement
		}
	}
	return c.cal.TypeDisagreement
}

func atMost(v float64, brackets []Bracket, over float64) float64 {
	for _, br := range brackets {
		if v <= br.Bound {
			return br.Adjust
		}
	}
	return over
}

func capped(v, limit float64) float64 {
	return clamp(v, -limit, limit)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
