// Package errorhandler writes error responses and logs them against the request logger.
package errorhandler

import (
	"context"
	"net/http"

	"github.com/starline/starline-api/internal/pkg/logger"
	"github.com/starline/starline-api/internal/pkg/response"
)

// HandleError logs err and writes the error envelope. 5xx responses log at error level.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	HandleErrorWithDetails(ctx, w, status, code, message, nil, err)
}

// HandleErrorWithDetails is HandleError with response details.
func HandleErrorWithDetails(ctx context.Context, w http.ResponseWriter, status int, code, message string, details map[string]string, err error) {
	l := logger.FromContext(ctx)
	event := l.Warn()
	if status >= http.StatusInternalServerError {
		event = l.Error()
	}
	if err != nil {
		event = event.Err(err)
	}
	if len(details) > 0 {
		event = event.Interface("error_details", details)
	}
	event.Str("error_code", code).Int("status_code", status).Msg("request failed")

	response.ErrorWithDetails(w, status, code, message, details)
}

// LogValidationError records rejected input.
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	logger.FromContext(ctx).Debug().Interface("validation_errors", fieldErrors).Msg("validation failed")
}

// LogExternalServiceError records a failed call to a third-party API.
func LogExternalServiceError(ctx context.Context, service, endpoint string, statusCode int, err error, body string) {
	logger.FromContext(ctx).Error().
		Str("external_service", service).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Err(err).
		Str("response_body", truncate(body, 1000)).
		Msg("external service error")
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "...<truncated>"
	}
	return s
}
