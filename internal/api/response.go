// Package api exposes the agent's HTTP surface: POST /jobs to dispatch a
// generation job, POST /jobs/{jobId}/cancel to request cancellation, and
// GET /healthz plus GET / to describe current activity.
package api

import (
	"encoding/json"
	"io"
	"net/http"
)

// envelope is the standard JSON response wrapper. Successful responses
// wrap the payload under "data"; errors use "error".
type envelope map[string]any

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the payload wrapped in {"data": payload}.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{"data": payload})
}

// Accepted writes a 202 Accepted response.
func Accepted(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusAccepted, envelope{"data": payload})
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func errJSON(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, envelope{"error": errorResponse{Message: message, Code: code}})
}

// ErrBadRequest writes a 400 Bad Request error response.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, "bad_request")
}

// ErrNotFound writes a 404 Not Found error response.
func ErrNotFound(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusNotFound, message, "not_found")
}

// ErrConflict writes a 409 Conflict error response — used when the
// admission gate is already held by another job.
func ErrConflict(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusConflict, message, "conflict")
}

// ErrUnprocessable writes a 422 Unprocessable Entity error response — the
// request is well-formed JSON but fails envelope validation.
func ErrUnprocessable(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusUnprocessableEntity, message, "validation_error")
}

// ErrInternal writes a 500 Internal Server Error response. The underlying
// error is logged server-side and never exposed in the body.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "an internal error occurred", "internal_error")
}

// decodeJSON reads the full body into raw for schema validation, then
// unmarshals it into dst. Returns false and writes a 400 if the body is
// not valid JSON at all.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) (raw []byte, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 5<<20) // 5 MB limit — workflow graphs can be sizeable
	data, err := io.ReadAll(r.Body)
	if err != nil {
		ErrBadRequest(w, "failed to read request body: "+err.Error())
		return nil, false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return nil, false
	}
	return data, true
}
