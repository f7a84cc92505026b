package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// FundingSummaryRepository provides data access for funding summary records.
type FundingSummaryRepository interface {
	DeleteScope(ctx context.Context, year, period int) (int64, error)
	// CopyRecords bulk-loads records with COPY.
	CopyRecords(ctx context.Context, records []*models.FundingSummaryRecord) (int64, error)
	List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.FundingSummaryRecord], error)
	// ListScope returns every record of one (year, period), unpaged.
	ListScope(ctx context.Context, year, period int) ([]*models.FundingSummaryRecord, error)
	DistinctYears(ctx context.Context) ([]int, error)
	DistinctPeriods(ctx context.Context, year int) ([]int, error)
}

type fundingSummaryRepository struct{}

func NewFundingSummaryRepository() FundingSummaryRepository {
	return &fundingSummaryRepository{}
}

var _ FundingSummaryRepository = (*fundingSummaryRepository)(nil)

var fundingSummaryCopyColumns = []string{
	"academic_year", "period", "actual_year", "actual_month", "ukprn",
	"funding_line", "source", "category", "grant_type", "month_total", "total_payment",
}

func (r *fundingSummaryRepository) DeleteScope(ctx context.Context, year, period int) (int64, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `DELETE FROM ilr_funding_summary_record WHERE academic_year = $1 AND period = $2`, year, period)
	if err != nil {
		return 0, fmt.Errorf("failed to delete funding summary records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *fundingSummaryRepository) CopyRecords(ctx context.Context, records []*models.FundingSummaryRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	n, err := q.CopyFrom(ctx,
		pgx.Identifier{"ilr_funding_summary_record"},
		fundingSummaryCopyColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{
				rec.AcademicYear, rec.Period, rec.ActualYear, rec.ActualMonth, rec.UKPRN,
				rec.FundingLine, rec.Source, rec.Category, rec.GrantType, numericArg(rec.MonthTotal), numericArg(rec.TotalPayment),
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to copy funding summary records: %w", err)
	}
	return n, nil
}

func (r *fundingSummaryRepository) List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.FundingSummaryRecord], error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	limit, offset := normalizePageParams(page.Limit, page.Offset)
	var w whereBuilder
	w.factScope(filter.UKPRNs, filter.AcademicYear, filter.Period, "academic_year", "period")

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ilr_funding_summary_record WHERE `+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count funding summary records: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, academic_year, period, actual_year, actual_month, ukprn,
		       funding_line, source, category, grant_type, month_total, total_payment
		FROM ilr_funding_summary_record
		WHERE %s
		ORDER BY academic_year DESC, period DESC, ukprn, id
		LIMIT $%d OFFSET $%d`, w.sql(), w.next(), w.next()+1)
	rows, err := q.Query(ctx, query, append(w.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list funding summary records: %w", err)
	}
	defer rows.Close()

	items, err := scanFundingSummaryRecords(rows)
	if err != nil {
		return nil, err
	}

	return &models.Page[*models.FundingSummaryRecord]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (r *fundingSummaryRepository) ListScope(ctx context.Context, year, period int) ([]*models.FundingSummaryRecord, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, academic_year, period, actual_year, actual_month, ukprn,
		       funding_line, source, category, grant_type, month_total, total_payment
		FROM ilr_funding_summary_record
		WHERE academic_year = $1 AND period = $2
		ORDER BY ukprn, actual_year, actual_month, id`, year, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list funding summary scope: %w", err)
	}
	defer rows.Close()

	return scanFundingSummaryRecords(rows)
}

func scanFundingSummaryRecords(rows pgx.Rows) ([]*models.FundingSummaryRecord, error) {
	items := []*models.FundingSummaryRecord{}
	for rows.Next() {
		rec := &models.FundingSummaryRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.AcademicYear, &rec.Period, &rec.ActualYear, &rec.ActualMonth, &rec.UKPRN,
			&rec.FundingLine, &rec.Source, &rec.Category, &rec.GrantType, scanDecimal(&rec.MonthTotal), scanDecimal(&rec.TotalPayment),
		); err != nil {
			return nil, fmt.Errorf("failed to scan funding summary record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funding summary records: %w", err)
	}
	return items, nil
}

func (r *fundingSummaryRepository) DistinctYears(ctx context.Context) ([]int, error) {
	return collectInts(ctx, `SELECT DISTINCT academic_year FROM ilr_funding_summary_record ORDER BY academic_year`)
}

func (r *fundingSummaryRepository) DistinctPeriods(ctx context.Context, year int) ([]int, error) {
	return collectInts(ctx, `SELECT DISTINCT period FROM ilr_funding_summary_record WHERE academic_year = $1 ORDER BY period`, year)
}
