package repositories

import (
	"context"
	"fmt"

	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// ReferenceDataRepository provides data access for ILR code mappings and
// health problem categories.
type ReferenceDataRepository interface {
	DeleteMappingsForYear(ctx context.Context, year int) (int64, error)
	UpsertMapping(ctx context.Context, m *models.RefDataMapping) error
	ListMappings(ctx context.Context, filter models.FactFilter) ([]*models.RefDataMapping, error)
	UpsertHealthProblemCategory(ctx context.Context, c *models.HealthProblemCategory) error
	ListHealthProblemCategories(ctx context.Context) ([]*models.HealthProblemCategory, error)
}

type referenceDataRepository struct{}

func NewReferenceDataRepository() ReferenceDataRepository {
	return &referenceDataRepository{}
}

var _ ReferenceDataRepository = (*referenceDataRepository)(nil)

func (r *referenceDataRepository) DeleteMappingsForYear(ctx context.Context, year int) (int64, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `DELETE FROM ilr_ref_data_mapping WHERE year = $1`, year)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ref data mappings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *referenceDataRepository) UpsertMapping(ctx context.Context, m *models.RefDataMapping) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO ilr_ref_data_mapping (year, attribute, code, headline_value, detailed_value, added_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (year, attribute, code) DO UPDATE SET
			headline_value = EXCLUDED.headline_value,
			detailed_value = EXCLUDED.detailed_value,
			added_by = EXCLUDED.added_by,
			added_on = NOW()
		RETURNING added_on`,
		m.Year, m.Attribute, m.Code, m.HeadlineValue, m.DetailedValue, m.AddedBy,
	).Scan(&m.AddedOn)
	if err != nil {
		return fmt.Errorf("failed to upsert ref data mapping: %w", err)
	}
	return nil
}

func (r *referenceDataRepository) ListMappings(ctx context.Context, filter models.FactFilter) ([]*models.RefDataMapping, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	var w whereBuilder
	if filter.AcademicYear != nil {
		w.add("year = $%d", *filter.AcademicYear)
	}
	if filter.Attribute != "" {
		w.add("attribute = $%d", filter.Attribute)
	}

	rows, err := q.Query(ctx, `
		SELECT year, attribute, code, headline_value, detailed_value, added_on, added_by
		FROM ilr_ref_data_mapping
		WHERE `+w.sql()+`
		ORDER BY year DESC, attribute, code`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ref data mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.RefDataMapping
	for rows.Next() {
		m := &models.RefDataMapping{}
		if err := rows.Scan(&m.Year, &m.Attribute, &m.Code, &m.HeadlineValue, &m.DetailedValue, &m.AddedOn, &m.AddedBy); err != nil {
			return nil, fmt.Errorf("failed to scan ref data mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ref data mappings: %w", err)
	}
	return mappings, nil
}

func (r *referenceDataRepository) UpsertHealthProblemCategory(ctx context.Context, c *models.HealthProblemCategory) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ilr_health_problem_category (code, description)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description`,
		c.Code, c.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert health problem category: %w", err)
	}
	return nil
}

func (r *referenceDataRepository) ListHealthProblemCategories(ctx context.Context) ([]*models.HealthProblemCategory, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT code, description FROM ilr_health_problem_category ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list health problem categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.HealthProblemCategory
	for rows.Next() {
		c := &models.HealthProblemCategory{}
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan health problem category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health problem categories: %w", err)
	}
	return categories, nil
}
