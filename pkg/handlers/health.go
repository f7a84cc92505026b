package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/config"
)

// Pinger checks database reachability. *database.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TaskCounter reports background import activity.
type TaskCounter interface {
	TaskCount() int
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	ImportTasks int    `json:"import_tasks"`
}

const healthCheckTimeout = 2 * time.Second

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     Pinger
	tasks  TaskCounter
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and tasks may be nil.
func NewHealthHandler(cfg *config.Config, db Pinger, tasks TaskCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, tasks: tasks, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// Responds 503 when the database cannot be reached.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if h.db == nil {
		response.Database = "unconfigured"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Health check database ping failed", zap.Error(err))
			response.Status = "unavailable"
			response.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.tasks != nil {
		response.ImportTasks = h.tasks.TaskCount()
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ilr-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
