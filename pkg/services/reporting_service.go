package services

import (
	"context"
	"fmt"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// FactTable names a fact set exposed for year and period lookups.
type FactTable string

const (
	FactLearners            FactTable = "learners"
	FactFundingSummary      FactTable = "funding-summary"
	FactSupplementaryData   FactTable = "supplementary-data"
	FactProviderAllocations FactTable = "provider-allocations"
)

// ReportingService is the read side over imported facts.
type ReportingService interface {
	Learners(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.Learner], error)
	Deliveries(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.LearningDelivery], error)
	FundingSummary(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.FundingSummaryRecord], error)
	SupplementaryData(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.SupplementaryData], error)
	ProviderAllocations(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.ProviderAllocation], error)
	RefDataMappings(ctx context.Context, filter models.FactFilter) ([]*models.RefDataMapping, error)
	HealthProblemCategories(ctx context.Context) ([]*models.HealthProblemCategory, error)

	Years(ctx context.Context, table FactTable) ([]int, error)
	Periods(ctx context.Context, table FactTable, year int) ([]int, error)
	// RecordsExistForYearAndPeriod reports whether occupancy learners were
	// imported for the period, which gates supplementary data uploads.
	RecordsExistForYearAndPeriod(ctx context.Context, year, period int) (bool, error)
}

type reportingService struct {
	occupancy          repositories.OccupancyRepository
	fundingSummary     repositories.FundingSummaryRepository
	supplementaryData  repositories.SupplementaryDataRepository
	providerAllocation repositories.ProviderAllocationRepository
	referenceData      repositories.ReferenceDataRepository
}

// NewReportingService creates a ReportingService over the importer repositories.
func NewReportingService(deps ImporterDeps) ReportingService {
	return &reportingService{
		occupancy:          deps.Occupancy,
		fundingSummary:     deps.FundingSummary,
		supplementaryData:  deps.SupplementaryData,
		providerAllocation: deps.ProviderAllocation,
		referenceData:      deps.ReferenceData,
	}
}

var _ ReportingService = (*reportingService)(nil)

func (s *reportingService) Learners(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.Learner], error) {
	return s.occupancy.ListLearners(ctx, filter, page.Normalize())
}

func (s *reportingService) Deliveries(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.LearningDelivery], error) {
	return s.occupancy.ListDeliveries(ctx, filter, page.Normalize())
}

func (s *reportingService) FundingSummary(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.FundingSummaryRecord], error) {
	return s.fundingSummary.List(ctx, filter, page.Normalize())
}

func (s *reportingService) SupplementaryData(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.SupplementaryData], error) {
	return s.supplementaryData.List(ctx, filter, page.Normalize())
}

func (s *reportingService) ProviderAllocations(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.ProviderAllocation], error) {
	return s.providerAllocation.List(ctx, filter, page.Normalize())
}

func (s *reportingService) RefDataMappings(ctx context.Context, filter models.FactFilter) ([]*models.RefDataMapping, error) {
	return s.referenceData.ListMappings(ctx, filter)
}

func (s *reportingService) HealthProblemCategories(ctx context.Context) ([]*models.HealthProblemCategory, error) {
	return s.referenceData.ListHealthProblemCategories(ctx)
}

func (s *reportingService) Years(ctx context.Context, table FactTable) ([]int, error) {
	switch table {
	case FactLearners:
		return s.occupancy.DistinctYears(ctx)
	case FactFundingSummary:
		return s.fundingSummary.DistinctYears(ctx)
	case FactSupplementaryData:
		return s.supplementaryData.DistinctYears(ctx)
	case FactProviderAllocations:
		return s.providerAllocation.DistinctYears(ctx)
	}
	return nil, fmt.Errorf("%w: unknown fact table %q", apperrors.ErrNotFound, table)
}

func (s *reportingService) Periods(ctx context.Context, table FactTable, year int) ([]int, error) {
	switch table {
	case FactLearners:
		return s.occupancy.DistinctPeriods(ctx, year)
	case FactFundingSummary:
		return s.fundingSummary.DistinctPeriods(ctx, year)
	}
	return nil, fmt.Errorf("%w: %q has no periods", apperrors.ErrNotFound, table)
}

func (s *reportingService) RecordsExistForYearAndPeriod(ctx context.Context, year, period int) (bool, error) {
	return s.occupancy.LearnersExistForYearAndPeriod(ctx, year, period)
}
