package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/Opposition-Intelligence/internal/application/precedent"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
)

type PrecedentFinder interface {
	FindPrecedents(ctx context.Context, q precedent.Query) ([]precedent.Precedent, error)
}

// PrecedentHandler serves precedent retrieval.
type PrecedentHandler struct {
	finder PrecedentFinder
	logger logging.Logger
}

func NewPrecedentHandler(finder PrecedentFinder, logger logging.Logger) *PrecedentHandler {
	return &PrecedentHandler{finder: finder, logger: orNop(logger)}
}

// PrecedentsResponse wraps the ranked list.
type PrecedentsResponse struct {
	Precedents []precedent.Precedent `json:"precedents"`
}

// Precedents handles POST /api/v1/precedents.
func (h *PrecedentHandler) Precedents(c *gin.Context) {
	var q precedent.Query
	if !bindJSON(c, h.logger, &q) {
		return
	}
	if q.K == 0 {
		q.K = 10
	}
	ps, err := h.finder.FindPrecedents(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if ps == nil {
		ps = []precedent.Precedent{}
	}
	c.JSON(http.StatusOK, PrecedentsResponse{Precedents: ps})
}
