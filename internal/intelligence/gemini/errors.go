package gemini

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// classify maps a provider failure onto the oracle error codes. Rate limits,
// server errors and deadlines are transient; blocked or refused prompts are
// contract violations since retrying the same prompt cannot help.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	var blocked *genai.BlockedError
	if stderrors.As(err, &blocked) {
		return errors.Wrap(err, errors.ErrCodeOracleContractViolation, op+": response blocked")
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeOracleTransient, op+": deadline exceeded")
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return errors.Wrap(err, errors.ErrCodeOracleTransient, op)
		}
		return errors.Wrap(err, errors.ErrCodeOracleContractViolation, op)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return errors.Wrap(err, errors.ErrCodeOracleTransient, op)
		case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound:
			return errors.Wrap(err, errors.ErrCodeOracleContractViolation, op)
		}
	}
	// Unknown transport failures are worth another attempt.
	return errors.Wrap(err, errors.ErrCodeOracleTransient, op)
}
