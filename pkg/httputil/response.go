package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/logger"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/validator"
)

// Response is the standard JSON envelope returned by every endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorData is the data payload of a failed response.
type ErrorData struct {
	Code      string   `json:"code"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// If encoding fails, the error is logged but headers are already sent so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes a successful envelope.
func WriteSuccess(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// WriteFailure writes a failed envelope with an explicit code and detail list.
func WriteFailure(w http.ResponseWriter, r *http.Request, status int, code, message string, details []string) {
	WriteJSON(w, status, Response{
		Message: message,
		Data: ErrorData{
			Code:      code,
			Errors:    details,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}

// WriteError writes a standardized error response based on the error type.
// AppError values keep their code, message and details; bare sentinels are
// mapped through apperrors.HTTPStatus. Internal errors are logged with the
// request-scoped logger when the RequestLogger middleware is mounted and never
// leak their text to the caller.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status < http.StatusInternalServerError {
		WriteFailure(w, r, appErr.Status, appErr.Code, appErr.Message, appErr.Details)
		return
	}

	status := apperrors.HTTPStatus(err)
	code, message := "INTERNAL_ERROR", "an internal error occurred"

	switch {
	case status >= http.StatusInternalServerError:
		if status == http.StatusServiceUnavailable {
			code, message = "SERVICE_UNAVAILABLE", "service temporarily unavailable"
		}
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	case errors.Is(err, apperrors.ErrNotFound):
		code, message = "NOT_FOUND", "resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		code, message = "ALREADY_EXISTS", "resource already exists"
	case errors.Is(err, apperrors.ErrInvalidInput):
		code, message = "INVALID_INPUT", err.Error()
	default:
		code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		message = err.Error()
	}

	WriteFailure(w, r, status, code, message, nil)
}

// WriteValidationError writes a 400 response for a request body that failed
// decoding or struct validation. Field-level messages go into data.errors.
func WriteValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteFailure(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", valErr.Messages())
		return
	}
	WriteFailure(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", []string{err.Error()})
}
