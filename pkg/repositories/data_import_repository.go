package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// DataImportRepository provides data access for import records.
type DataImportRepository interface {
	Create(ctx context.Context, rec *models.ImportRecord) error
	GetByID(ctx context.Context, id int64) (*models.ImportRecord, error)
	UpdateStatus(ctx context.Context, id int64, status models.ImportStatus) error
	UpdateProgress(ctx context.Context, id int64, rowsProcessed, rowsRejected int) error
	Finalize(ctx context.Context, rec *models.ImportRecord) error
	List(ctx context.Context, filter models.ImportFilter) ([]*models.ImportRecord, int, error)
	LatestForUser(ctx context.Context, user string, importType models.ImportType) (*models.ImportRecord, error)
	// LatestCompletedIDs returns the newest COMPLETE import per (type, year, period).
	LatestCompletedIDs(ctx context.Context, types []models.ImportType) (map[int64]bool, error)
	// DeleteByScope removes every import of the type for the year and period
	// except keepID. Stored files go with them.
	DeleteByScope(ctx context.Context, importType models.ImportType, year, period int, keepID int64) (int64, error)
	Delete(ctx context.Context, id int64) error
	// MarkExported stamps the time the import was last pushed to OPS.
	MarkExported(ctx context.Context, id int64, at time.Time) error
}

type dataImportRepository struct{}

func NewDataImportRepository() DataImportRepository {
	return &dataImportRepository{}
}

var _ DataImportRepository = (*dataImportRepository)(nil)

const dataImportColumns = `id, file_name, import_type, status, academic_year, period,
	created_by, created_at, updated_at, rows_processed, rows_rejected, error_messages,
	last_export_date`

func (r *dataImportRepository) Create(ctx context.Context, rec *models.ImportRecord) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	if rec.ErrorMessages == nil {
		rec.ErrorMessages = []string{}
	}

	err = q.QueryRow(ctx, `
		INSERT INTO ilr_data_import (
			file_name, import_type, status, academic_year, period, created_by,
			rows_processed, rows_rejected, error_messages
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		rec.FileName, rec.ImportType, rec.Status, rec.AcademicYear, rec.Period, rec.CreatedBy,
		rec.RowsProcessed, rec.RowsRejected, rec.ErrorMessages,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create data import: %w", err)
	}
	return nil
}

func (r *dataImportRepository) GetByID(ctx context.Context, id int64) (*models.ImportRecord, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `SELECT `+dataImportColumns+` FROM ilr_data_import WHERE id = $1`, id)
	rec, err := scanDataImport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data import: %w", err)
	}
	return rec, nil
}

func (r *dataImportRepository) UpdateStatus(ctx context.Context, id int64, status models.ImportStatus) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE ilr_data_import SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update data import status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataImportRepository) UpdateProgress(ctx context.Context, id int64, rowsProcessed, rowsRejected int) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		UPDATE ilr_data_import
		SET rows_processed = $2, rows_rejected = $3, updated_at = NOW()
		WHERE id = $1`, id, rowsProcessed, rowsRejected)
	if err != nil {
		return fmt.Errorf("failed to update data import progress: %w", err)
	}
	return nil
}

func (r *dataImportRepository) Finalize(ctx context.Context, rec *models.ImportRecord) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	msgs := rec.ErrorMessages
	if msgs == nil {
		msgs = []string{}
	}

	err = q.QueryRow(ctx, `
		UPDATE ilr_data_import
		SET status = $2, rows_processed = $3, rows_rejected = $4, error_messages = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.Status, rec.RowsProcessed, rec.RowsRejected, msgs,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to finalize data import: %w", err)
	}
	return nil
}

func (r *dataImportRepository) List(ctx context.Context, filter models.ImportFilter) ([]*models.ImportRecord, int, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, 0, err
	}

	limit, offset := normalizePageParams(filter.Limit, filter.Offset)

	conditions := []string{"1 = 1"}
	var args []any
	argIdx := 1

	if filter.ImportType != nil {
		conditions = append(conditions, fmt.Sprintf("import_type = $%d", argIdx))
		args = append(args, *filter.ImportType)
		argIdx++
	}
	if len(filter.ExcludeTypes) > 0 {
		conditions = append(conditions, fmt.Sprintf("import_type <> ALL($%d)", argIdx))
		args = append(args, importTypeStrings(filter.ExcludeTypes))
		argIdx++
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", argIdx))
		args = append(args, filter.CreatedBy)
		argIdx++
	}
	if filter.AcademicYear != nil {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", argIdx))
		args = append(args, *filter.AcademicYear)
		argIdx++
	}
	if filter.Period != nil {
		conditions = append(conditions, fmt.Sprintf("period = $%d", argIdx))
		args = append(args, *filter.Period)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ilr_data_import WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count data imports: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM ilr_data_import
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, dataImportColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list data imports: %w", err)
	}
	defer rows.Close()

	var records []*models.ImportRecord
	for rows.Next() {
		rec, err := scanDataImport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan data import: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating data imports: %w", err)
	}

	return records, total, nil
}

func (r *dataImportRepository) LatestForUser(ctx context.Context, user string, importType models.ImportType) (*models.ImportRecord, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `
		SELECT `+dataImportColumns+` FROM ilr_data_import
		WHERE created_by = $1 AND import_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, user, importType)
	rec, err := scanDataImport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest data import: %w", err)
	}
	return rec, nil
}

func (r *dataImportRepository) LatestCompletedIDs(ctx context.Context, types []models.ImportType) (map[int64]bool, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT DISTINCT ON (import_type, academic_year, period) id
		FROM ilr_data_import
		WHERE status = 'COMPLETE' AND import_type = ANY($1)
		ORDER BY import_type, academic_year, period, created_at DESC, id DESC`,
		importTypeStrings(types))
	if err != nil {
		return nil, fmt.Errorf("failed to find latest data imports: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to collect latest data imports: %w", err)
	}

	latest := make(map[int64]bool, len(ids))
	for _, id := range ids {
		latest[id] = true
	}
	return latest, nil
}

func (r *dataImportRepository) DeleteByScope(ctx context.Context, importType models.ImportType, year, period int, keepID int64) (int64, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		DELETE FROM ilr_data_import
		WHERE import_type = $1 AND academic_year = $2 AND period = $3 AND id <> $4`,
		importType, year, period, keepID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete data imports for scope: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *dataImportRepository) Delete(ctx context.Context, id int64) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `DELETE FROM ilr_data_import WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete data import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataImportRepository) MarkExported(ctx context.Context, id int64, at time.Time) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE ilr_data_import SET last_export_date = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark data import exported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanDataImport(row pgx.Row) (*models.ImportRecord, error) {
	rec := &models.ImportRecord{}
	err := row.Scan(
		&rec.ID, &rec.FileName, &rec.ImportType, &rec.Status, &rec.AcademicYear, &rec.Period,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.RowsProcessed, &rec.RowsRejected,
		&rec.ErrorMessages, &rec.LastExportDate,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func importTypeStrings(types []models.ImportType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
