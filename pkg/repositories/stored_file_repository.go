package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// StoredFileRepository provides data access for generated files.
type StoredFileRepository interface {
	Create(ctx context.Context, f *models.StoredFile) error
	// GetByID loads the file including its content.
	GetByID(ctx context.Context, id int64) (*models.StoredFile, error)
	// List returns metadata only, newest first.
	List(ctx context.Context, filter models.FileFilter) ([]*models.StoredFile, error)
	// ErrorFileForImport returns the import's error file with content, or nil
	// when the import rejected no rows.
	ErrorFileForImport(ctx context.Context, importID int64) (*models.StoredFile, error)
	DeleteByTypeAndSuffix(ctx context.Context, fileType, suffix string) (int64, error)
}

type storedFileRepository struct{}

func NewStoredFileRepository() StoredFileRepository {
	return &storedFileRepository{}
}

var _ StoredFileRepository = (*storedFileRepository)(nil)

const storedFileColumns = `f.id, f.data_import_id, f.file_type, f.file_name, f.file_suffix, f.ukprn, f.created_by, f.created_at`

func (r *storedFileRepository) Create(ctx context.Context, f *models.StoredFile) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO ilr_stored_file (data_import_id, file_type, file_name, file_suffix, ukprn, created_by, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		f.DataImportID, f.FileType, f.FileName, f.FileSuffix, f.UKPRN, f.CreatedBy, f.Content,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create stored file: %w", err)
	}
	return nil
}

func (r *storedFileRepository) GetByID(ctx context.Context, id int64) (*models.StoredFile, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	f := &models.StoredFile{}
	err = q.QueryRow(ctx, `
		SELECT `+storedFileColumns+`, f.content
		FROM ilr_stored_file f
		WHERE f.id = $1`, id,
	).Scan(&f.ID, &f.DataImportID, &f.FileType, &f.FileName, &f.FileSuffix, &f.UKPRN, &f.CreatedBy, &f.CreatedAt, &f.Content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stored file: %w", err)
	}
	return f, nil
}

func (r *storedFileRepository) List(ctx context.Context, filter models.FileFilter) ([]*models.StoredFile, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	var w whereBuilder
	if filter.FileType != "" {
		w.add("f.file_type = $%d", filter.FileType)
	}
	if filter.FileSuffix != "" {
		w.add("f.file_suffix = $%d", filter.FileSuffix)
	}
	if filter.UKPRN != nil {
		w.add("f.ukprn = $%d", *filter.UKPRN)
	}
	if filter.CreatedBy != "" {
		w.add("f.created_by = $%d", filter.CreatedBy)
	}

	rows, err := q.Query(ctx, `
		SELECT `+storedFileColumns+`
		FROM ilr_stored_file f
		WHERE `+w.sql()+`
		ORDER BY f.created_at DESC, f.id DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored files: %w", err)
	}
	defer rows.Close()

	var files []*models.StoredFile
	for rows.Next() {
		f := &models.StoredFile{}
		if err := rows.Scan(&f.ID, &f.DataImportID, &f.FileType, &f.FileName, &f.FileSuffix, &f.UKPRN, &f.CreatedBy, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stored file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stored files: %w", err)
	}
	return files, nil
}

func (r *storedFileRepository) ErrorFileForImport(ctx context.Context, importID int64) (*models.StoredFile, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	f := &models.StoredFile{}
	err = q.QueryRow(ctx, `
		SELECT `+storedFileColumns+`, f.content
		FROM ilr_stored_file f
		WHERE f.data_import_id = $1 AND f.file_type = $2
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT 1`, importID, models.ErrorFileType,
	).Scan(&f.ID, &f.DataImportID, &f.FileType, &f.FileName, &f.FileSuffix, &f.UKPRN, &f.CreatedBy, &f.CreatedAt, &f.Content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get error file: %w", err)
	}
	return f, nil
}

func (r *storedFileRepository) DeleteByTypeAndSuffix(ctx context.Context, fileType, suffix string) (int64, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `DELETE FROM ilr_stored_file WHERE file_type = $1 AND file_suffix = $2`, fileType, suffix)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stored files: %w", err)
	}
	return tag.RowsAffected(), nil
}
