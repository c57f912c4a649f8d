package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"mercator-hq/tollgate/pkg/faults"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return faults.Invalid("body", "exceeds %d bytes", maxRequestBytes)
		case errors.Is(err, io.EOF):
			return faults.Invalid("body", "must not be empty")
		default:
			return faults.Invalid("body", "invalid JSON: %v", err)
		}
	}
	return nil
}

// parseTime reads an optional RFC 3339 query parameter.
func parseTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, faults.Invalid(name, "must be an RFC 3339 timestamp, got %q", raw)
	}
	return t, nil
}
