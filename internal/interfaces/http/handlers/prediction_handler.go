package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/Opposition-Intelligence/internal/application/prediction"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

type CasePredictor interface {
	Predict(ctx context.Context, req prediction.CasePredictionRequest) (*trademark.OutcomePrediction, error)
}

type FullCasePredictor interface {
	Predict(ctx context.Context, req prediction.FullCaseRequest) (*prediction.FullCaseResult, error)
}

// PredictionHandler serves outcome predictions.
type PredictionHandler struct {
	cases    CasePredictor
	fullCase FullCasePredictor
	logger   logging.Logger
}

func NewPredictionHandler(cases CasePredictor, fullCase FullCasePredictor, logger logging.Logger) *PredictionHandler {
	return &PredictionHandler{cases: cases, fullCase: fullCase, logger: orNop(logger)}
}

// CasePrediction handles POST /api/v1/case_prediction.
func (h *PredictionHandler) CasePrediction(c *gin.Context) {
	var req prediction.CasePredictionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	res, err := h.cases.Predict(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// FullCasePrediction handles POST /api/v1/full_case_prediction.
func (h *PredictionHandler) FullCasePrediction(c *gin.Context) {
	var req prediction.FullCaseRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	res, err := h.fullCase.Predict(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
