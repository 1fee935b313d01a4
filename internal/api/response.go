package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/containerd/errdefs/pkg/errhttp"

	"github.com/ashureev/askbar/internal/sentinel"
)

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorFrom writes err with the HTTP status of its errdefs class. Sentinel
// errors carry their user-facing message.
func ErrorFrom(w http.ResponseWriter, err error) {
	status := errhttp.ToHTTP(err)
	msg := err.Error()
	var se *sentinel.Error
	if errors.As(err, &se) {
		msg = sentinel.Message(se.Code)
	}
	Error(w, status, msg)
}

// DecodeJSON reads a size-limited JSON body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}

// IsBodyTooLarge reports whether err came from an exceeded body limit.
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
