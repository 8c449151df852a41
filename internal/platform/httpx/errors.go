// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Error kinds exposed to callers as the problem "type".
const (
	KindUnauthorized = "unauthorized"
	KindForbidden    = "forbidden"
	KindValidation   = "validation_error"
	KindNotFound     = "not_found"
	KindServer       = "server_error"
)

// Kind classifies err into the stable error taxonomy.
func Kind(err error) string {
	switch {
	case errors.Is(err, shared.ErrServer):
		return KindServer
	case errors.Is(err, shared.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return KindForbidden
	case errors.Is(err, shared.ErrValidation):
		return KindValidation
	case errors.Is(err, shared.ErrNotFound):
		return KindNotFound
	default:
		return KindServer
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Server errors never carry their cause to the client.
func RespondError(w http.ResponseWriter, err error) {
	switch Kind(err) {
	case KindUnauthorized:
		Problem(w, http.StatusUnauthorized, KindUnauthorized, "Unauthorized", publicDetail(err))
	case KindForbidden:
		Problem(w, http.StatusForbidden, KindForbidden, "Forbidden", publicDetail(err))
	case KindValidation:
		Problem(w, http.StatusBadRequest, KindValidation, "Validation Failed", publicDetail(err))
	case KindNotFound:
		Problem(w, http.StatusNotFound, KindNotFound, "Not Found", publicDetail(err))
	default:
		Problem(w, http.StatusInternalServerError, KindServer, "Internal Error", "")
	}
}

// publicDetail strips the kind prefix so "forbidden: target identity is protected"
// is rendered as "target identity is protected".
func publicDetail(err error) string {
	msg := err.Error()
	for _, kind := range []error{shared.ErrUnauthorized, shared.ErrForbidden, shared.ErrValidation, shared.ErrNotFound} {
		prefix := kind.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
