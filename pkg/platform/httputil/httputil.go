package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "kanon/pkg/domain-errors"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded domain error to an HTTP status and a JSON error body.
// Internal errors never expose their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body.ErrorDescription = de.Message
		}
	}
	WriteJSON(w, StatusFor(code), body)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeSchema:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConfig:
		return http.StatusConflict
	case dErrors.CodeCompliance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
