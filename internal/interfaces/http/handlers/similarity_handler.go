package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/Opposition-Intelligence/internal/application/similarity"
	"github.com/turtacn/Opposition-Intelligence/internal/domain/scoring"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// MarkAssessor grades two marks.
type MarkAssessor interface {
	Assess(ctx context.Context, req similarity.MarkSimilarityRequest) (*trademark.MarkSimilarityAssessment, error)
}

// GsAssessor grades one goods/services pair.
type GsAssessor interface {
	Assess(ctx context.Context, req similarity.GsSimilarityRequest) (*trademark.GsSimilarityAssessment, error)
}

// SimilarityHandler serves the mark and goods/services engines and the
// deterministic per-dimension scores.
type SimilarityHandler struct {
	marks      MarkAssessor
	gs         GsAssessor
	thresholds scoring.Thresholds
	logger     logging.Logger
}

func NewSimilarityHandler(marks MarkAssessor, gs GsAssessor, thresholds scoring.Thresholds, logger logging.Logger) *SimilarityHandler {
	return &SimilarityHandler{marks: marks, gs: gs, thresholds: thresholds, logger: orNop(logger)}
}

// MarkSimilarity handles POST /api/v1/mark_similarity.
func (h *SimilarityHandler) MarkSimilarity(c *gin.Context) {
	var req similarity.MarkSimilarityRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	res, err := h.marks.Assess(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GsSimilarity handles POST /api/v1/gs_similarity.
func (h *SimilarityHandler) GsSimilarity(c *gin.Context) {
	var req similarity.GsSimilarityRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	res, err := h.gs.Assess(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DimensionScore is the result of a single deterministic dimension.
type DimensionScore struct {
	Score  float64                    `json:"score"`
	Degree trademark.SimilarityDegree `json:"degree"`
}

// VisualSimilarity handles POST /api/v1/visual_similarity.
func (h *SimilarityHandler) VisualSimilarity(c *gin.Context) {
	h.dimension(c, scoring.VisualScore)
}

// AuralSimilarity handles POST /api/v1/aural_similarity.
func (h *SimilarityHandler) AuralSimilarity(c *gin.Context) {
	h.dimension(c, scoring.AuralScore)
}

func (h *SimilarityHandler) dimension(c *gin.Context, score func(a, b string) float64) {
	var req similarity.MarkSimilarityRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, h.logger, err)
		return
	}
	s := score(strings.TrimSpace(req.ApplicantMark), strings.TrimSpace(req.OpponentMark))
	c.JSON(http.StatusOK, DimensionScore{Score: s, Degree: h.thresholds.Degree(s)})
}
