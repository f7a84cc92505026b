package repositories

import (
	"context"
	"fmt"

	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// SupplementaryDataRepository provides data access for supplementary learner data.
type SupplementaryDataRepository interface {
	DeleteForProviders(ctx context.Context, year int, ukprns []int) (int64, error)
	DeleteScope(ctx context.Context, year, period int) (int64, error)
	Upsert(ctx context.Context, sd *models.SupplementaryData) error
	List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.SupplementaryData], error)
	DistinctYears(ctx context.Context) ([]int, error)
}

type supplementaryDataRepository struct{}

func NewSupplementaryDataRepository() SupplementaryDataRepository {
	return &supplementaryDataRepository{}
}

var _ SupplementaryDataRepository = (*supplementaryDataRepository)(nil)

const supplementaryDataColumns = `ukprn, year, learner_reference_number, period,
	investment_priority_claimed_under, is_homeless, highest_educational_attainment,
	highest_literacy_attainment, highest_numeracy_attainment,
	progressing_into_education_or_training, start_date_for_education_or_training,
	has_left_esf_programme, esf_returner, esf_leave_date, last_supplementary_data_upload`

func (r *supplementaryDataRepository) DeleteForProviders(ctx context.Context, year int, ukprns []int) (int64, error) {
	if len(ukprns) == 0 {
		return 0, nil
	}
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `DELETE FROM ilr_supplementary_data WHERE year = $1 AND ukprn = ANY($2)`, year, ukprns)
	if err != nil {
		return 0, fmt.Errorf("failed to delete supplementary data: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *supplementaryDataRepository) DeleteScope(ctx context.Context, year, period int) (int64, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `DELETE FROM ilr_supplementary_data WHERE year = $1 AND period = $2`, year, period)
	if err != nil {
		return 0, fmt.Errorf("failed to delete supplementary data scope: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *supplementaryDataRepository) Upsert(ctx context.Context, sd *models.SupplementaryData) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ilr_supplementary_data (`+supplementaryDataColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (ukprn, year, learner_reference_number) DO UPDATE SET
			period = EXCLUDED.period,
			investment_priority_claimed_under = EXCLUDED.investment_priority_claimed_under,
			is_homeless = EXCLUDED.is_homeless,
			highest_educational_attainment = EXCLUDED.highest_educational_attainment,
			highest_literacy_attainment = EXCLUDED.highest_literacy_attainment,
			highest_numeracy_attainment = EXCLUDED.highest_numeracy_attainment,
			progressing_into_education_or_training = EXCLUDED.progressing_into_education_or_training,
			start_date_for_education_or_training = EXCLUDED.start_date_for_education_or_training,
			has_left_esf_programme = EXCLUDED.has_left_esf_programme,
			esf_returner = EXCLUDED.esf_returner,
			esf_leave_date = EXCLUDED.esf_leave_date,
			last_supplementary_data_upload = EXCLUDED.last_supplementary_data_upload`,
		sd.UKPRN, sd.Year, sd.LearnerReferenceNumber, sd.Period,
		sd.InvestmentPriorityClaimedUnder, sd.IsHomeless, sd.HighestEducationalAttainment,
		sd.HighestLiteracyAttainment, sd.HighestNumeracyAttainment,
		sd.ProgressingIntoEducationOrTraining, sd.StartDateForEducationOrTraining,
		sd.HasLeftESFProgramme, sd.ESFReturner, sd.ESFLeaveDate, sd.LastSupplementaryDataUpload)
	if err != nil {
		return fmt.Errorf("failed to upsert supplementary data: %w", err)
	}
	return nil
}

func (r *supplementaryDataRepository) List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.SupplementaryData], error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	limit, offset := normalizePageParams(page.Limit, page.Offset)
	var w whereBuilder
	w.factScope(filter.UKPRNs, filter.AcademicYear, filter.Period, "year", "period")

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ilr_supplementary_data WHERE `+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count supplementary data: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM ilr_supplementary_data
		WHERE %s
		ORDER BY year DESC, ukprn, learner_reference_number
		LIMIT $%d OFFSET $%d`, supplementaryDataColumns, w.sql(), w.next(), w.next()+1)
	rows, err := q.Query(ctx, query, append(w.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list supplementary data: %w", err)
	}
	defer rows.Close()

	items := []*models.SupplementaryData{}
	for rows.Next() {
		sd := &models.SupplementaryData{}
		if err := rows.Scan(
			&sd.UKPRN, &sd.Year, &sd.LearnerReferenceNumber, &sd.Period,
			&sd.InvestmentPriorityClaimedUnder, &sd.IsHomeless, &sd.HighestEducationalAttainment,
			&sd.HighestLiteracyAttainment, &sd.HighestNumeracyAttainment,
			&sd.ProgressingIntoEducationOrTraining, &sd.StartDateForEducationOrTraining,
			&sd.HasLeftESFProgramme, &sd.ESFReturner, &sd.ESFLeaveDate, &sd.LastSupplementaryDataUpload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan supplementary data: %w", err)
		}
		items = append(items, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating supplementary data: %w", err)
	}

	return &models.Page[*models.SupplementaryData]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// DistinctYears only counts years that join to an imported learner.
func (r *supplementaryDataRepository) DistinctYears(ctx context.Context) ([]int, error) {
	return collectInts(ctx, `
		SELECT DISTINCT sd.year
		FROM ilr_supplementary_data sd
		JOIN ilr_learner l
		  ON l.learner_reference_number = sd.learner_reference_number
		 AND l.ukprn = sd.ukprn
		 AND l.year = sd.year
		ORDER BY sd.year`)
}
