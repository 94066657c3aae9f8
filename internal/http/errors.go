package http

import (
	"errors"
	"net/http"

	"dompet/internal/core"
	"dompet/internal/log"
)

const kindUnauthenticated = "unauthenticated"

var errMissingUser = errors.New("missing " + HeaderUserID + " header")

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrReferentialIntegrity):
		return http.StatusConflict
	case errors.Is(err, core.ErrConcurrencyTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error","kind"}. Storage and unknown errors
// are logged and their detail is not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: string(core.KindOf(err))}

	switch status {
	case http.StatusUnauthorized:
		body.Kind = kindUnauthenticated
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case http.StatusInternalServerError:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path, log.FieldError, err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
