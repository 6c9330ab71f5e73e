package errors

import (
	"errors"
	"net/http"
)

// MapToHTTPStatus converts a domain error to the HTTP status code served by
// the REST surface. Unknown errors are reported as internal failures.
func MapToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrAccountDisabled):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrUnsupportedAttachment):
		return http.StatusBadRequest
	case errors.Is(err, ErrConversationClosed):
		return http.StatusConflict
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
