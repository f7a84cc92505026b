package services

import (
	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/config"
	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// ColumnValidator checks that an upload carries every header its type
// requires. The occupancy report grows columns over time, so its expected
// set depends on the academic year.
type ColumnValidator struct {
	occupancyThresholds []config.ColumnThreshold
}

// NewColumnValidator builds a validator from an explicit occupancy threshold table.
func NewColumnValidator(thresholds []config.ColumnThreshold) *ColumnValidator {
	return &ColumnValidator{occupancyThresholds: thresholds}
}

// DefaultOccupancyThresholds pairs each configured format change year with
// the built-in column group added in that change, oldest first. Years beyond
// the known groups are ignored.
func DefaultOccupancyThresholds(years []int) []config.ColumnThreshold {
	var thresholds []config.ColumnThreshold
	for i, year := range years {
		if i >= len(occupancyColumnGroups) {
			break
		}
		thresholds = append(thresholds, config.ColumnThreshold{Year: year, Columns: occupancyColumnGroups[i]})
	}
	return thresholds
}

// ExpectedColumns returns the headers required for an import type in the
// given academic year and period.
func (v *ColumnValidator) ExpectedColumns(importType models.ImportType, year, period int) []string {
	switch importType {
	case models.ImportTypeOccupancyReport:
		cols := append([]string{}, occupancyBaseColumns...)
		for _, th := range v.occupancyThresholds {
			if year >= th.Year {
				cols = append(cols, th.Columns...)
			}
		}
		return cols
	case models.ImportTypeFundingSummary:
		cols := append([]string{}, fundingSummaryColumns...)
		if month := fundingMonthColumn(year, period); month != "" {
			cols = append(cols, month)
		}
		return cols
	case models.ImportTypeSupplementaryData:
		return supplementaryDataColumns
	case models.ImportTypeProviderAllocation:
		return providerAllocationColumns
	case models.ImportTypeILRCodeValues:
		return ilrCodeValueColumns
	case models.ImportTypeRefDataMapping:
		return refDataMappingColumns
	case models.ImportTypeHealthProblemCategory:
		return healthProblemCategoryColumns
	case models.ImportTypeDataValidationIssues, models.ImportTypeGLAFSR, models.ImportTypeGLAOCC:
		return []string{ColUKPRN}
	}
	return nil
}

// Validate returns a *apperrors.MissingColumnsError naming every expected
// header absent from headers. Matching ignores case and whitespace.
func (v *ColumnValidator) Validate(importType models.ImportType, year, period int, headers []string) error {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		n := csvfile.Normalize(h)
		if n == csvfile.Normalize(ColErrorColumn) {
			continue
		}
		present[n] = true
	}

	expected := v.ExpectedColumns(importType, year, period)
	var missing []string
	for _, col := range expected {
		if !present[csvfile.Normalize(col)] {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return &apperrors.MissingColumnsError{
		Missing:      missing,
		Expected:     expected,
		ListExpected: importType != models.ImportTypeOccupancyReport,
	}
}
