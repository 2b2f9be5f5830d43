package devbackend

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
)

const (
	contentTypeJSON = "application/json"
	maxJSONBody     = 1 << 20
	maxAvatarBytes  = 2 << 20
)

// dataEnvelope wraps payloads the way the production backend does for the
// token and wallet endpoints.
type dataEnvelope struct {
	Data any `json:"data"`
}

type errorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// writeAppError maps err onto the status the backend would answer with.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	switch appErr.Kind {
	case apperrors.KindValidation:
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Message: appErr.Message, Errors: appErr.Fields})
	case apperrors.KindAuth:
		writeError(w, http.StatusUnauthorized, appErr.Message)
	case apperrors.KindForbidden:
		writeError(w, http.StatusForbidden, appErr.Message)
	case apperrors.KindNotFound:
		writeError(w, http.StatusNotFound, appErr.Message)
	case apperrors.KindConflict:
		writeError(w, http.StatusConflict, appErr.Message)
	case apperrors.KindBadRequest:
		writeError(w, http.StatusBadRequest, appErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
