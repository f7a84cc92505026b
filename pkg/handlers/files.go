package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/services"
)

// FileHandler serves generated files: error reports and per-provider splits.
type FileHandler struct {
	imports services.DataImportService
	logger  *zap.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(imports services.DataImportService, logger *zap.Logger) *FileHandler {
	return &FileHandler{imports: imports, logger: logger}
}

// RegisterRoutes registers the file handler's routes on the given mux.
func (h *FileHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/files", scope(h.List))
	mux.HandleFunc("GET /api/files/{id}/content", scope(h.Content))
}

// List handles GET /api/files?file_type=&suffix=&ukprn=
// Content is not included; fetch it per file.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.FileFilter{
		FileType:   strings.TrimSpace(q.Get("file_type")),
		FileSuffix: strings.TrimSpace(q.Get("suffix")),
	}
	ukprns, err := parseUKPRNs(r)
	if err != nil || len(ukprns) > 1 {
		writeBadRequest(w, h.logger, "ukprn must be a single integer")
		return
	}
	if len(ukprns) == 1 {
		filter.UKPRN = &ukprns[0]
	}

	files, err := h.imports.ListFiles(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list files", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, files)
}

// Content handles GET /api/files/{id}/content
func (h *FileHandler) Content(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	file, err := h.imports.GetFile(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to get file", err, zap.Int64("file_id", id))
		return
	}
	if err := WriteCSV(w, file.FileName, file.Content); err != nil {
		h.logger.Error("Failed to write file content", zap.Int64("file_id", id), zap.Error(err))
	}
}
