package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "greenwallet/pkg/domain-errors"
)

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func statusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a coded domain error to its HTTP response. Uncoded errors
// collapse to a generic 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if errors.As(err, &de) {
		status := statusForCode(de.Code)
		message := de.Message
		if status == http.StatusInternalServerError {
			message = ""
		}
		writeJSON(w, status, errorEnvelope{Error: string(de.Code), Message: message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: string(dErrors.CodeInternal)})
}
