package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Unknown
// errors are logged with a reference id and answered with a generic 500.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Invalid Credentials", shared.ErrInvalidCredentials.Error())
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "insufficient authority")
	case errors.Is(err, shared.ErrDuplicateUsername):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrUnresolvedBinding):
		Problem(w, http.StatusUnprocessableEntity, "Unresolved Binding", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusServiceUnavailable, "Unavailable", "request timed out")
	default:
		ref := "urn:uuid:" + uuid.NewString()
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("unhandled error",
			slog.String("ref", ref),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		JSON(w, http.StatusInternalServerError, ProblemDetail{
			Title:    "Internal Error",
			Status:   http.StatusInternalServerError,
			Detail:   "internal error",
			Instance: ref,
		})
	}
}
