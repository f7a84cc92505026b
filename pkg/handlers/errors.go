package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
)

// statusForError maps service errors to an HTTP status and error code.
// Anything unrecognised is an internal error.
func statusForError(err error) (int, string) {
	var filenameErr *apperrors.FilenameError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrNotAvailableForUpload):
		return http.StatusConflict, "not_available_for_upload"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrExportDisabled):
		return http.StatusServiceUnavailable, "export_disabled"
	case errors.Is(err, apperrors.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	case errors.As(err, &filenameErr),
		errors.Is(err, apperrors.ErrNotCSV),
		errors.Is(err, apperrors.ErrUnrecognizedFileType),
		errors.Is(err, apperrors.ErrInvalidFilenameFormat):
		return http.StatusBadRequest, "invalid_file"
	case errors.Is(err, apperrors.ErrMissingColumns):
		return http.StatusBadRequest, "missing_columns"
	case errors.Is(err, apperrors.ErrMissingRequiredField),
		errors.Is(err, apperrors.ErrInvalidFieldFormat):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError logs err and writes the mapped response. Internal errors
// are reported with a generic message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	status, code := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(msg, append(fields, zap.Error(err))...)
		message = "An unexpected error occurred"
	} else {
		logger.Debug(msg, append(fields, zap.Error(err))...)
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func writeBadRequest(w http.ResponseWriter, logger *zap.Logger, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func writeOK(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}
