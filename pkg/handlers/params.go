package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/models"
)

var errInvalidQuery = errors.New("invalid query parameter")

// ParseID extracts and validates the numeric id path parameter.
// Returns the id and true on success, or 0 and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid ID format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

// ParseImportTypeParam reads the named query or form value as an import type.
// A missing value is allowed and returns "" and true.
func ParseImportTypeParam(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (models.ImportType, bool) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return "", true
	}
	t, ok := models.ParseImportType(raw)
	if !ok {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_import_type", "Unknown import type: "+raw); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return t, true
}

// parsePage reads limit and offset. Bounds are applied by the services.
func parsePage(r *http.Request) (models.PageRequest, error) {
	var page models.PageRequest
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, errInvalidQuery
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, errInvalidQuery
		}
		page.Offset = n
	}
	return page, nil
}

func parseOptionalInt(r *http.Request, name string) (*int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, errInvalidQuery
	}
	return &n, nil
}

// parseUKPRNs accepts repeated ukprn parameters, comma separated lists, or both.
func parseUKPRNs(r *http.Request) ([]int, error) {
	var ukprns []int
	for _, raw := range r.URL.Query()["ukprn"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, errInvalidQuery
			}
			ukprns = append(ukprns, n)
		}
	}
	return ukprns, nil
}

func parseFactFilter(r *http.Request) (models.FactFilter, error) {
	var filter models.FactFilter
	var err error
	if filter.UKPRNs, err = parseUKPRNs(r); err != nil {
		return filter, err
	}
	if filter.AcademicYear, err = parseOptionalInt(r, "year"); err != nil {
		return filter, err
	}
	if filter.Period, err = parseOptionalInt(r, "period"); err != nil {
		return filter, err
	}
	filter.Attribute = strings.TrimSpace(r.URL.Query().Get("attribute"))
	return filter, nil
}

func parseLearnerFilter(r *http.Request) (models.LearnerFilter, error) {
	facts, err := parseFactFilter(r)
	if err != nil {
		return models.LearnerFilter{}, err
	}
	return models.LearnerFilter{
		UKPRNs:                 facts.UKPRNs,
		AcademicYear:           facts.AcademicYear,
		Period:                 facts.Period,
		LearnerReferenceNumber: strings.TrimSpace(r.URL.Query().Get("lrn")),
	}, nil
}
