package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusForKind maps an error kind to its HTTP status. Transient failures
// that exhausted their retries are reported as 500 like any other failure.
func statusForKind(k errors.Kind) int {
	switch k {
	case errors.KindInputValidation:
		return http.StatusBadRequest
	case errors.KindContractViolation:
		return http.StatusBadGateway
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	case errors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as an ErrorResponse. Internal failures are masked.
func respondError(c *gin.Context, logger logging.Logger, err error) {
	kind := errors.KindOf(err)
	status := statusForKind(kind)

	msg := err.Error()
	var ae *errors.AppError
	if stderrors.As(err, &ae) {
		msg = ae.Message
		if ae.Detail != "" {
			msg += ": " + ae.Detail
		}
	}
	if status == http.StatusInternalServerError {
		kind = errors.KindInternal
		msg = "internal server error"
	}

	_ = c.Error(err)
	if status >= 500 {
		logger.Error("Request failed", logging.String("path", c.FullPath()), logging.Int("status", status), logging.Err(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Code: string(kind), Message: msg})
}

// bindJSON decodes the body into dst. Decoding failures are input errors.
func bindJSON(c *gin.Context, logger logging.Logger, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Code: string(errors.KindInputValidation), Message: "request body too large",
			})
			return false
		}
		respondError(c, logger, errors.InvalidInput("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func orNop(l logging.Logger) logging.Logger {
	if l == nil {
		return logging.NewNopLogger()
	}
	return l
}
