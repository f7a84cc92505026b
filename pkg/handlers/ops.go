package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/services"
)

// OpsHandler re-exports imported funding summaries to OPS.
type OpsHandler struct {
	exports services.OpsExportService
	logger  *zap.Logger
}

// NewOpsHandler creates a new OPS export handler.
func NewOpsHandler(exports services.OpsExportService, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{exports: exports, logger: logger}
}

// RegisterRoutes registers the OPS handler's routes on the given mux.
func (h *OpsHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/imports/{id}/ops-export", scope(h.Export))
}

// Export handles POST /api/imports/{id}/ops-export
// Only imports flagged can_re_export are accepted.
func (h *OpsHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.exports.Export(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to export to OPS", err, zap.Int64("import_id", id))
		return
	}
	writeOK(w, h.logger, http.StatusOK, result)
}
