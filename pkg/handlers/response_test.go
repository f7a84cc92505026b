package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		message    string
	}{
		{"bad request", http.StatusBadRequest, "invalid_file", "The filename is not valid"},
		{"not found", http.StatusNotFound, "not_found", "not found"},
		{"conflict", http.StatusConflict, "not_available_for_upload", "Supplementary data can not be uploaded yet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			if err := ErrorResponse(w, tt.statusCode, tt.errorCode, tt.message); err != nil {
				t.Fatalf("ErrorResponse returned error: %v", err)
			}

			if w.Code != tt.statusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.statusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body["error"] != tt.errorCode || body["message"] != tt.message {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestWriteJSON_Status(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteJSON(w, http.StatusOK, map[string]string{"key": "value"}); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	if err := WriteJSON(w, http.StatusAccepted, map[string]int{"count": 5}); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}
	if w.Code != http.StatusAccepted {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestWriteJSON_UnencodableData(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteJSON(w, http.StatusOK, make(chan int)); err == nil {
		t.Error("expected error for unencodable data, got nil")
	}
}

func TestWriteCSV(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteCSV(w, "Occupancy Report 2020 03 - Errors.csv", []byte("a,b\n")); err != nil {
		t.Fatalf("WriteCSV returned error: %v", err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `attachment; filename="Occupancy Report 2020 03 - Errors.csv"`
	if cd := w.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("Content-Disposition = %q, want %q", cd, want)
	}
	if w.Body.String() != "a,b\n" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("import 7: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{apperrors.ErrExportDisabled, http.StatusServiceUnavailable, "export_disabled"},
		{fmt.Errorf("%w: OPS returned status 400", apperrors.ErrUpstream), http.StatusBadGateway, "upstream_error"},
		{apperrors.WithMessage(apperrors.ErrNotAvailableForUpload, "later"), http.StatusConflict, "not_available_for_upload"},
		{&apperrors.FilenameError{FileName: "x.csv", Reason: "bad", Err: apperrors.ErrInvalidFilenameFormat}, http.StatusBadRequest, "invalid_file"},
		{apperrors.ErrNotCSV, http.StatusBadRequest, "invalid_file"},
		{&apperrors.MissingColumnsError{Missing: []string{"UKPRN"}}, http.StatusBadRequest, "missing_columns"},
		{apperrors.NewInvalidFieldError("year", "x"), http.StatusBadRequest, "invalid_request"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		status, code := statusForError(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("statusForError(%v) = %d %q, want %d %q", tt.err, status, code, tt.status, tt.code)
		}
	}
}
