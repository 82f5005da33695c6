package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   any
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON renders v as the response body with status 200.
func JSON(v any) Response {
	return &jsonResponse{status: http.StatusOK, body: v}
}

// Error returns a Response that renders err as an ErrorEnvelope. Errors that
// are neither HTTPError nor ValidationError become an opaque 500.
func Error(err error) Response {
	status, detail := errorDetail(err)
	return &jsonResponse{status: status, body: ErrorEnvelope{Error: detail}}
}

func errorDetail(err error) (int, ErrorDetail) {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return http.StatusUnprocessableEntity, ErrorDetail{
			Code:    "validation_error",
			Message: "Validation failed",
			Details: maps.Clone(map[string][]string(valErr)),
		}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, ErrorDetail{Code: httpErr.Key, Message: httpErr.Error()}
	}

	return http.StatusInternalServerError, ErrorDetail{
		Code:    ErrInternalServerError.Key,
		Message: http.StatusText(http.StatusInternalServerError),
	}
}
