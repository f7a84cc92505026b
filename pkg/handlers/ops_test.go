package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/services"
)

func exportRequest(svc *mockOpsExportService, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	NewOpsHandler(svc, zap.NewNop()).RegisterRoutes(mux, passthroughScope)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
	return rec
}

func TestOpsHandler_Export(t *testing.T) {
	at := time.Date(2021, 3, 15, 10, 0, 0, 0, time.UTC)
	svc := &mockOpsExportService{result: &services.OpsExportResult{ImportID: 7, RecordsSent: 12, ExportedAt: &at}}

	rec := exportRequest(svc, "/api/imports/7/ops-export")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), svc.gotID)
	var got services.OpsExportResult
	decodeData(t, rec, &got)
	assert.Equal(t, 12, got.RecordsSent)
	require.NotNil(t, got.ExportedAt)
	assert.True(t, at.Equal(*got.ExportedAt))
}

func TestOpsHandler_ExportErrors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		err      error
		wantCode int
		wantErr  string
	}{
		{"bad id", "/api/imports/abc/ops-export", nil, http.StatusBadRequest, "invalid_id"},
		{"not latest", "/api/imports/7/ops-export", fmt.Errorf("%w: only the latest", apperrors.ErrConflict), http.StatusConflict, "conflict"},
		{"disabled", "/api/imports/7/ops-export", apperrors.ErrExportDisabled, http.StatusServiceUnavailable, "export_disabled"},
		{"upstream", "/api/imports/7/ops-export", fmt.Errorf("%w: Period 3 is locked", apperrors.ErrUpstream), http.StatusBadGateway, "upstream_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := exportRequest(&mockOpsExportService{err: tt.err}, tt.target)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec)["error"])
		})
	}
}
