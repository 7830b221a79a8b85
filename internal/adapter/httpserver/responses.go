// Package httpserver exposes the evaluation API: job intake and status,
// latest-run and verdict reads, the agent manifest, and baseline
// promotion. Handlers stay thin; semantics live in the usecase layer.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trustbench/trustbench/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, details any) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		code = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMITED"
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusServiceUnavailable
		code = "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
		code = "MODEL_UNAVAILABLE"
	case errors.Is(err, domain.ErrConfig):
		status = http.StatusInternalServerError
		code = "CONFIG"
	case errors.Is(err, domain.ErrStorage):
		status = http.StatusInternalServerError
		code = "STORAGE"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error(), Details: details}})
}
