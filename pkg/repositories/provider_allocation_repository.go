package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// ProviderAllocationRepository provides data access for provider allocations.
type ProviderAllocationRepository interface {
	DeleteYear(ctx context.Context, year int) (int64, error)
	Upsert(ctx context.Context, a *models.ProviderAllocation) error
	List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.ProviderAllocation], error)
	DistinctYears(ctx context.Context) ([]int, error)
}

type providerAllocationRepository struct{}

func NewProviderAllocationRepository() ProviderAllocationRepository {
	return &providerAllocationRepository{}
}

var _ ProviderAllocationRepository = (*providerAllocationRepository)(nil)

var providerAllocationColumns = func() string {
	cols := []string{"year", "ukprn", "ops_project_type", "allocation_type", "full_term_allocation", "yearly_allocation"}
	for i := 1; i <= models.AllocationPeriods; i++ {
		cols = append(cols, fmt.Sprintf("ytd_allocation_r%02d", i))
	}
	return strings.Join(cols, ", ")
}()

func (r *providerAllocationRepository) DeleteYear(ctx context.Context, year int) (int64, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `DELETE FROM ilr_provider_allocation WHERE year = $1`, year)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider allocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *providerAllocationRepository) Upsert(ctx context.Context, a *models.ProviderAllocation) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	args := []any{a.Year, a.UKPRN, a.OPSProjectType, a.AllocationType,
		numericArg(a.FullTermAllocation), numericArg(a.YearlyAllocation)}
	updates := []string{
		"full_term_allocation = EXCLUDED.full_term_allocation",
		"yearly_allocation = EXCLUDED.yearly_allocation",
	}
	for i, v := range a.YTDAllocations {
		args = append(args, numericArg(v))
		col := fmt.Sprintf("ytd_allocation_r%02d", i+1)
		updates = append(updates, col+" = EXCLUDED."+col)
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ilr_provider_allocation (`+providerAllocationColumns+`)
		VALUES (`+strings.Join(placeholders, ", ")+`)
		ON CONFLICT (year, ukprn, ops_project_type, allocation_type) DO UPDATE SET `+
		strings.Join(updates, ", "), args...)
	if err != nil {
		return fmt.Errorf("failed to upsert provider allocation: %w", err)
	}
	return nil
}

func (r *providerAllocationRepository) List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.ProviderAllocation], error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	limit, offset := normalizePageParams(page.Limit, page.Offset)
	var w whereBuilder
	w.factScope(filter.UKPRNs, filter.AcademicYear, nil, "year", "")

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ilr_provider_allocation WHERE `+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count provider allocations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM ilr_provider_allocation
		WHERE %s
		ORDER BY year DESC, ukprn, ops_project_type, allocation_type
		LIMIT $%d OFFSET $%d`, providerAllocationColumns, w.sql(), w.next(), w.next()+1)
	rows, err := q.Query(ctx, query, append(w.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider allocations: %w", err)
	}
	defer rows.Close()

	items := []*models.ProviderAllocation{}
	for rows.Next() {
		a := &models.ProviderAllocation{}
		targets := []any{&a.Year, &a.UKPRN, &a.OPSProjectType, &a.AllocationType,
			scanDecimal(&a.FullTermAllocation), scanDecimal(&a.YearlyAllocation)}
		for i := range a.YTDAllocations {
			targets = append(targets, scanDecimal(&a.YTDAllocations[i]))
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan provider allocation: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider allocations: %w", err)
	}

	return &models.Page[*models.ProviderAllocation]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (r *providerAllocationRepository) DistinctYears(ctx context.Context) ([]int, error) {
	return collectInts(ctx, `SELECT DISTINCT year FROM ilr_provider_allocation ORDER BY year`)
}
