package faults

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorResponse is the JSON error body returned by the HTTP surface.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type is the error kind (see Kind).
	Type string `json:"type"`

	// Param names the offending field for validation errors.
	Param string `json:"param,omitempty"`

	// Rejected maps model ids to the reason each was rejected, for
	// selection failures.
	Rejected map[string]string `json:"rejected,omitempty"`
}

// HTTPStatus maps err to a status code.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "none":
		return http.StatusOK
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "selection_failure":
		return http.StatusUnprocessableEntity
	case "budget_blocked":
		return http.StatusForbidden
	case "external_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the error body for err. Internal errors carry a
// generic message so that details stay in the logs.
func NewErrorResponse(err error) ErrorResponse {
	kind := Kind(err)
	detail := ErrorDetail{Message: err.Error(), Type: kind}

	var ve *ValidationError
	if errors.As(err, &ve) {
		detail.Param = ve.Field
	}
	var sf *SelectionFailureError
	if errors.As(err, &sf) {
		detail.Rejected = sf.Rejected
	}
	if kind == "internal" {
		detail.Message = "An internal error occurred. Please try again later."
	}
	return ErrorResponse{Error: detail}
}

// WriteHTTP writes err as a JSON error response.
func WriteHTTP(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(NewErrorResponse(err))
}
