package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/logging"
	"github.com/gla-ilr/ilr-engine/pkg/middleware"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/services"
	"github.com/gla-ilr/ilr-engine/pkg/services/workqueue"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temporary file.
const multipartMemory = 32 << 20

// PurgeImportsRequest for POST /api/imports/purge
type PurgeImportsRequest struct {
	ImportType string `json:"import_type"`
	Year       int    `json:"year"`
	Period     int    `json:"period"`
}

// ImportTypeResponse describes one accepted upload type.
type ImportTypeResponse struct {
	Type        models.ImportType `json:"type"`
	Description string            `json:"description"`
	Yearly      bool              `json:"yearly"`
	Monthly     bool              `json:"monthly"`
	Deletable   bool              `json:"deletable"`
}

// TaskLister exposes the background upload queue. *workqueue.Queue satisfies it.
type TaskLister interface {
	GetTasks() []workqueue.TaskSnapshot
	GetTask(id string) (workqueue.TaskSnapshot, bool)
	Progress() workqueue.Progress
}

// TasksResponse for GET /api/imports/tasks
type TasksResponse struct {
	Tasks    []workqueue.TaskSnapshot `json:"tasks"`
	Progress workqueue.Progress       `json:"progress"`
}

// ImportHandler handles uploads and import history.
type ImportHandler struct {
	uploads        services.UploadHandler
	imports        services.DataImportService
	tasks          TaskLister
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewImportHandler creates a new import handler. tasks may be nil when no
// background queue runs.
func NewImportHandler(
	uploads services.UploadHandler,
	imports services.DataImportService,
	tasks TaskLister,
	maxUploadBytes int64,
	logger *zap.Logger,
) *ImportHandler {
	return &ImportHandler{
		uploads:        uploads,
		imports:        imports,
		tasks:          tasks,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the import handler's routes on the given mux.
// scope wraps handlers that need a database connection.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	base := "/api/imports"

	mux.HandleFunc("POST "+base, scope(h.Upload))
	mux.HandleFunc("GET "+base, scope(h.List))
	mux.HandleFunc("GET "+base+"/types", h.Types)
	mux.HandleFunc("GET "+base+"/tasks", h.Tasks)
	mux.HandleFunc("GET "+base+"/tasks/{taskId}", h.Task)
	mux.HandleFunc("GET "+base+"/latest", scope(h.Latest))
	mux.HandleFunc("GET "+base+"/error-file", scope(h.ErrorFile))
	mux.HandleFunc("POST "+base+"/purge", scope(h.Purge))
	mux.HandleFunc("GET "+base+"/{id}", scope(h.Get))
	mux.HandleFunc("DELETE "+base+"/{id}", scope(h.Delete))
}

// Upload handles POST /api/imports
// Expects a multipart form with a "file" part and an optional "import_type".
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			if err := ErrorResponse(w, http.StatusRequestEntityTooLarge, "file_too_large", "The uploaded file is too large"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		writeBadRequest(w, h.logger, "Expected a multipart form upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, h.logger, "A file must be supplied")
		return
	}
	defer file.Close()

	importType, ok := ParseImportTypeParam(w, r, "import_type", h.logger)
	if !ok {
		return
	}

	req := services.UploadRequest{
		FileName:   header.Filename,
		Content:    file,
		Size:       header.Size,
		ImportType: importType,
		User:       middleware.UserFrom(r.Context()),
	}

	result, err := h.uploads.UploadAsync(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "Upload rejected", err,
			zap.String("file_name", logging.SanitizeFileName(header.Filename)))
		return
	}

	status := http.StatusOK
	if result.Async {
		status = http.StatusAccepted
	}
	writeOK(w, h.logger, status, result)
}

// List handles GET /api/imports
func (h *ImportHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, h.logger, "limit and offset must be integers")
		return
	}

	imports, err := h.imports.List(r.Context(), page)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list imports", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, imports)
}

// Get handles GET /api/imports/{id}
func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	rec, err := h.imports.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to get import", err, zap.Int64("import_id", id))
		return
	}
	writeOK(w, h.logger, http.StatusOK, rec)
}

// Delete handles DELETE /api/imports/{id}
// Removes the import record only; use purge to remove the facts it loaded.
func (h *ImportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.imports.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, "Failed to delete import", err, zap.Int64("import_id", id))
		return
	}

	h.logger.Info("Import deleted",
		zap.Int64("import_id", id),
		zap.String("user", middleware.UserFrom(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// Purge handles POST /api/imports/purge
func (h *ImportHandler) Purge(w http.ResponseWriter, r *http.Request) {
	var req PurgeImportsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	importType, ok := models.ParseImportType(req.ImportType)
	if !ok {
		writeBadRequest(w, h.logger, "Unknown import type: "+req.ImportType)
		return
	}
	if req.Year <= 0 {
		writeBadRequest(w, h.logger, "year must be supplied")
		return
	}

	result, err := h.imports.Purge(r.Context(), importType, req.Year, req.Period)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to purge imports", err,
			zap.String("import_type", string(importType)),
			zap.Int("year", req.Year),
			zap.Int("period", req.Period))
		return
	}

	h.logger.Info("Imports purged",
		zap.String("import_type", string(importType)),
		zap.Int("year", req.Year),
		zap.Int("period", req.Period),
		zap.Int64("imports_deleted", result.ImportsDeleted),
		zap.String("user", middleware.UserFrom(r.Context())))
	writeOK(w, h.logger, http.StatusOK, result)
}

// Latest handles GET /api/imports/latest?import_type=
// Data is omitted when the caller has never uploaded the type.
func (h *ImportHandler) Latest(w http.ResponseWriter, r *http.Request) {
	importType, ok := h.requiredType(w, r)
	if !ok {
		return
	}

	rec, err := h.imports.LatestForUser(r.Context(), middleware.UserFrom(r.Context()), importType)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to get latest import", err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rec}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ErrorFile handles GET /api/imports/error-file?import_type=
// Sends the caller's most recent error report for the type as CSV.
func (h *ImportHandler) ErrorFile(w http.ResponseWriter, r *http.Request) {
	importType, ok := h.requiredType(w, r)
	if !ok {
		return
	}

	file, err := h.imports.LatestErrorFile(r.Context(), middleware.UserFrom(r.Context()), importType)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to get error file", err)
		return
	}
	if err := WriteCSV(w, file.FileName, file.Content); err != nil {
		h.logger.Error("Failed to write error file", zap.Int64("file_id", file.ID), zap.Error(err))
	}
}

// Types handles GET /api/imports/types
func (h *ImportHandler) Types(w http.ResponseWriter, r *http.Request) {
	all := models.AllImportTypes()
	types := make([]ImportTypeResponse, 0, len(all))
	for _, t := range all {
		info := t.Info()
		types = append(types, ImportTypeResponse{
			Type:        t,
			Description: info.Description,
			Yearly:      info.Yearly,
			Monthly:     info.Monthly,
			Deletable:   info.Deletable,
		})
	}
	writeOK(w, h.logger, http.StatusOK, types)
}

// Tasks handles GET /api/imports/tasks
// Lists queued, running and recently finished background uploads.
func (h *ImportHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	response := TasksResponse{Tasks: []workqueue.TaskSnapshot{}}
	if h.tasks != nil {
		if tasks := h.tasks.GetTasks(); tasks != nil {
			response.Tasks = tasks
		}
		response.Progress = h.tasks.Progress()
	}
	writeOK(w, h.logger, http.StatusOK, response)
}

// Task handles GET /api/imports/tasks/{taskId}
// Reports a single background upload by the task_id returned from the upload.
func (h *ImportHandler) Task(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	var (
		task workqueue.TaskSnapshot
		ok   bool
	)
	if h.tasks != nil {
		task, ok = h.tasks.GetTask(taskID)
	}
	if !ok {
		writeServiceError(w, h.logger, "Task not found", apperrors.ErrNotFound, zap.String("task_id", taskID))
		return
	}
	writeOK(w, h.logger, http.StatusOK, task)
}

func (h *ImportHandler) requiredType(w http.ResponseWriter, r *http.Request) (models.ImportType, bool) {
	importType, ok := ParseImportTypeParam(w, r, "import_type", h.logger)
	if !ok {
		return "", false
	}
	if importType == "" {
		writeBadRequest(w, h.logger, "import_type must be supplied")
		return "", false
	}
	return importType, true
}
