// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/asgl-platform/docchat/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrInvalidInput):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInsufficientCredit):
		Problem(w, http.StatusPaymentRequired, "Insufficient Credit", err.Error())
	case errors.Is(err, shared.ErrStoreTimeout), errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Store Timeout", "")
	case errors.Is(err, shared.ErrStoreUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
