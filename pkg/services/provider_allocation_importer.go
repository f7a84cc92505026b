package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

const allocationRequiredMessage = "one or more cells in 'Academic year', 'UKPRN', 'OPS Project type', 'Allocation type' " +
	"column contain(s) no information. Fill in all the required content and try again."

// providerAllocationImporter loads funding allocations. The file carries its
// academic year per row, so each year seen replaces that year's allocations.
type providerAllocationImporter struct {
	repo repositories.ProviderAllocationRepository
}

// NewProviderAllocationImporter creates the importer for PROVIDER_ALLOCATION files.
func NewProviderAllocationImporter(repo repositories.ProviderAllocationRepository) Importer {
	return &providerAllocationImporter{repo: repo}
}

var _ Importer = (*providerAllocationImporter)(nil)

type providerAllocationState struct {
	years []int
}

func (i *providerAllocationImporter) Type() models.ImportType {
	return models.ImportTypeProviderAllocation
}

func (i *providerAllocationImporter) Begin(ctx context.Context, s *ImportSession) error {
	return nil
}

func (i *providerAllocationImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	errs := &RowErrors{}
	for _, col := range []string{colAcademicYear, ColUKPRN, colOPSProjectType, colAllocationType} {
		if row.String(col) == "" {
			errs.Add(col, allocationRequiredMessage)
		}
	}
	if !errs.Empty() {
		return rejectRow(errs), nil
	}

	year, ok := ParseAcademicYear(row.String(colAcademicYear))
	if !ok {
		errs.Add(colAcademicYear, fmt.Sprintf("%s has an invalid value %q", colAcademicYear, row.String(colAcademicYear)))
	}
	ukprn, err := row.RequiredInt(ColUKPRN)
	if err != nil {
		errs.AddError(err)
	}
	if !errs.Empty() {
		return rejectRow(errs), nil
	}

	st := sessionState[providerAllocationState](s)
	if !containsInt(st.years, year) {
		if _, err := i.repo.DeleteYear(ctx, year); err != nil {
			return RowOutcome{}, fmt.Errorf("failed to clear provider allocations for %d: %w", year, err)
		}
		st.years = append(st.years, year)
	}

	a := &models.ProviderAllocation{
		Year:               year,
		UKPRN:              ukprn,
		OPSProjectType:     row.String(colOPSProjectType),
		AllocationType:     row.String(colAllocationType),
		FullTermAllocation: row.Currency(colFullTermAllocation),
		YearlyAllocation:   row.Currency(colYearlyAllocation),
	}
	for r := range a.YTDAllocations {
		a.YTDAllocations[r] = row.Currency(ytdAllocationColumn(r + 1))
	}

	if err := i.repo.Upsert(ctx, a); err != nil {
		return RowOutcome{}, err
	}
	return acceptRow(), nil
}

func (i *providerAllocationImporter) Finish(ctx context.Context, s *ImportSession) error {
	return nil
}

func (i *providerAllocationImporter) Compensate(ctx context.Context, s *ImportSession) error {
	for _, year := range sessionState[providerAllocationState](s).years {
		if _, err := i.repo.DeleteYear(ctx, year); err != nil {
			return err
		}
	}
	return nil
}

// ParseAcademicYear reads the starting year of a "YYYY/YY" academic year
// such as "2018/19". A bare "YYYY" is accepted too.
func ParseAcademicYear(s string) (int, bool) {
	if len(s) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil || year < minFilenameYear || year > maxFilenameYear {
		return 0, false
	}
	return year, true
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
