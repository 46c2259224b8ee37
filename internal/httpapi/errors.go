package httpapi

import (
	"errors"
	"net/http"

	"github.com/xraph/rental"
)

// errorStatus maps registry errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, rental.ErrNoCaller):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, rental.ErrUnauthorized):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, rental.ErrIndexOutOfRange), errors.Is(err, rental.ErrAssetNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, rental.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, rental.ErrInvalidInput):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, rental.ErrNotInitialized):
		return http.StatusConflict, "NOT_INITIALIZED"
	case errors.Is(err, rental.ErrNotAvailable),
		errors.Is(err, rental.ErrAlreadyAvailable),
		errors.Is(err, rental.ErrInvalidTransition),
		errors.Is(err, rental.ErrAlreadyInitialized):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, rental.ErrConcurrentModification):
		return http.StatusConflict, "RETRY"
	case errors.Is(err, rental.ErrStoreClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, err.Error())
}
