package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/services"
)

// RecordsExistResponse for GET /api/reports/records-exist
type RecordsExistResponse struct {
	Year   int  `json:"year"`
	Period int  `json:"period"`
	Exists bool `json:"exists"`
}

// ReportHandler exposes read-only queries over imported facts.
type ReportHandler struct {
	reports services.ReportingService
	logger  *zap.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(reports services.ReportingService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// RegisterRoutes registers the report handler's routes on the given mux.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	base := "/api/reports"

	mux.HandleFunc("GET "+base+"/learners", scope(h.Learners))
	mux.HandleFunc("GET "+base+"/deliveries", scope(h.Deliveries))
	mux.HandleFunc("GET "+base+"/funding-summary", scope(h.FundingSummary))
	mux.HandleFunc("GET "+base+"/supplementary-data", scope(h.SupplementaryData))
	mux.HandleFunc("GET "+base+"/provider-allocations", scope(h.ProviderAllocations))
	mux.HandleFunc("GET "+base+"/ref-data", scope(h.RefData))
	mux.HandleFunc("GET "+base+"/health-categories", scope(h.HealthCategories))
	mux.HandleFunc("GET "+base+"/years/{table}", scope(h.Years))
	mux.HandleFunc("GET "+base+"/periods/{table}", scope(h.Periods))
	mux.HandleFunc("GET "+base+"/records-exist", scope(h.RecordsExist))
}

// Learners handles GET /api/reports/learners
func (h *ReportHandler) Learners(w http.ResponseWriter, r *http.Request) {
	serveLearnerPage(h, w, r, h.reports.Learners)
}

// Deliveries handles GET /api/reports/deliveries
func (h *ReportHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	serveLearnerPage(h, w, r, h.reports.Deliveries)
}

// FundingSummary handles GET /api/reports/funding-summary
func (h *ReportHandler) FundingSummary(w http.ResponseWriter, r *http.Request) {
	serveFactPage(h, w, r, h.reports.FundingSummary)
}

// SupplementaryData handles GET /api/reports/supplementary-data
func (h *ReportHandler) SupplementaryData(w http.ResponseWriter, r *http.Request) {
	serveFactPage(h, w, r, h.reports.SupplementaryData)
}

// ProviderAllocations handles GET /api/reports/provider-allocations
func (h *ReportHandler) ProviderAllocations(w http.ResponseWriter, r *http.Request) {
	serveFactPage(h, w, r, h.reports.ProviderAllocations)
}

// RefData handles GET /api/reports/ref-data?year=&attribute=
func (h *ReportHandler) RefData(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFactFilter(r)
	if err != nil {
		writeBadRequest(w, h.logger, "year must be an integer")
		return
	}

	mappings, err := h.reports.RefDataMappings(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list reference data mappings", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, mappings)
}

// HealthCategories handles GET /api/reports/health-categories
func (h *ReportHandler) HealthCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.reports.HealthProblemCategories(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list health problem categories", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, categories)
}

// Years handles GET /api/reports/years/{table}
func (h *ReportHandler) Years(w http.ResponseWriter, r *http.Request) {
	table := services.FactTable(r.PathValue("table"))

	years, err := h.reports.Years(r.Context(), table)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list years", err, zap.String("table", string(table)))
		return
	}
	writeOK(w, h.logger, http.StatusOK, years)
}

// Periods handles GET /api/reports/periods/{table}?year=
func (h *ReportHandler) Periods(w http.ResponseWriter, r *http.Request) {
	table := services.FactTable(r.PathValue("table"))
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeBadRequest(w, h.logger, "year must be supplied as an integer")
		return
	}

	periods, err := h.reports.Periods(r.Context(), table, year)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list periods", err,
			zap.String("table", string(table)),
			zap.Int("year", year))
		return
	}
	writeOK(w, h.logger, http.StatusOK, periods)
}

// RecordsExist handles GET /api/reports/records-exist?year=&period=
func (h *ReportHandler) RecordsExist(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, yearErr := strconv.Atoi(q.Get("year"))
	period, periodErr := strconv.Atoi(q.Get("period"))
	if yearErr != nil || periodErr != nil {
		writeBadRequest(w, h.logger, "year and period must be supplied as integers")
		return
	}

	exists, err := h.reports.RecordsExistForYearAndPeriod(r.Context(), year, period)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to check records", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, RecordsExistResponse{Year: year, Period: period, Exists: exists})
}

func serveLearnerPage[T any](
	h *ReportHandler,
	w http.ResponseWriter,
	r *http.Request,
	query func(context.Context, models.LearnerFilter, models.PageRequest) (*models.Page[T], error),
) {
	filter, err := parseLearnerFilter(r)
	if err != nil {
		writeBadRequest(w, h.logger, "ukprn, year and period must be integers")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, h.logger, "limit and offset must be integers")
		return
	}

	result, err := query(r.Context(), filter, page)
	if err != nil {
		writeServiceError(w, h.logger, "Report query failed", err, zap.String("path", r.URL.Path))
		return
	}
	writeOK(w, h.logger, http.StatusOK, result)
}

func serveFactPage[T any](
	h *ReportHandler,
	w http.ResponseWriter,
	r *http.Request,
	query func(context.Context, models.FactFilter, models.PageRequest) (*models.Page[T], error),
) {
	filter, err := parseFactFilter(r)
	if err != nil {
		writeBadRequest(w, h.logger, "ukprn, year and period must be integers")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, h.logger, "limit and offset must be integers")
		return
	}

	result, err := query(r.Context(), filter, page)
	if err != nil {
		writeServiceError(w, h.logger, "Report query failed", err, zap.String("path", r.URL.Path))
		return
	}
	writeOK(w, h.logger, http.StatusOK, result)
}
