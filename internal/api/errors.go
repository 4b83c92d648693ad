package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/yieldforecast/forecaster/internal/forecast"
	"github.com/yieldforecast/forecaster/internal/model"
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeAlreadyRunning   = "ALREADY_RUNNING"
	CodeRateLimited      = "RATE_LIMITED"
	CodeJobTimeout       = "JOB_TIMEOUT"
	CodeJobFailed        = "JOB_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeUnavailable      = "UNAVAILABLE"
	CodeInternal         = "INTERNAL"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps err to a status code and a message safe to show to callers.
func classify(err error) (int, ErrorDetail) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, ErrorDetail{CodeValidationFailed, err.Error()}
	case errors.Is(err, model.ErrAdmissionRejected):
		return http.StatusTooManyRequests, ErrorDetail{CodeAlreadyRunning, "Another forecast is already running, retry later"}
	case errors.Is(err, model.ErrJobTimeout):
		return http.StatusGatewayTimeout, ErrorDetail{CodeJobTimeout, "job timed out"}
	case errors.Is(err, model.ErrJobFailure):
		return http.StatusBadGateway, ErrorDetail{CodeJobFailed, err.Error()}
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, ErrorDetail{CodeNotFound, "resource not found"}
	case errors.Is(err, forecast.ErrClosed):
		return http.StatusServiceUnavailable, ErrorDetail{CodeUnavailable, "shutting down"}
	default:
		return http.StatusInternalServerError, ErrorDetail{CodeInternal, "internal error"}
	}
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "status", status, "error", err)
	} else {
		slog.DebugContext(r.Context(), "request rejected", "status", status, "error", err)
	}
	respond(w, r, status, ErrorResponse{Error: detail})
}

func respondWithCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	respond(w, r, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: msg}})
}

func respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.WarnContext(r.Context(), "can't write response", "error", err)
	}
}
