package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// OccupancyRepository provides data access for the occupancy report tables:
// providers, learning aims, learners, learning deliveries and earning periods.
type OccupancyRepository interface {
	// DeleteYear removes earning periods, deliveries, learners and providers for the year.
	DeleteYear(ctx context.Context, year int) error
	// EnsureProvider and EnsureLearningAim never overwrite an existing row.
	EnsureProvider(ctx context.Context, p *models.Provider) error
	EnsureLearningAim(ctx context.Context, a *models.LearningAim) error
	// EnsureLearner inserts the learner unless one exists for the key.
	EnsureLearner(ctx context.Context, l *models.Learner) error
	UpsertDelivery(ctx context.Context, d *models.LearningDelivery) error
	// SaveEarningPeriods upserts the periods in slice order within one batch.
	SaveEarningPeriods(ctx context.Context, periods []*models.EarningPeriod) error

	LearnersExistForYearAndPeriod(ctx context.Context, year, period int) (bool, error)
	// LearnerExists reports whether the learner was returned in year or earlier.
	LearnerExists(ctx context.Context, ukprn int, lrn string, year int) (bool, error)
	DeliveryExists(ctx context.Context, ukprn int, lrn string) (bool, error)

	ListLearners(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.Learner], error)
	// ListDeliveries loads each delivery with its aim and earning periods.
	ListDeliveries(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.LearningDelivery], error)
	DistinctYears(ctx context.Context) ([]int, error)
	DistinctPeriods(ctx context.Context, year int) ([]int, error)
}

type occupancyRepository struct{}

func NewOccupancyRepository() OccupancyRepository {
	return &occupancyRepository{}
}

var _ OccupancyRepository = (*occupancyRepository)(nil)

func (r *occupancyRepository) DeleteYear(ctx context.Context, year int) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	// Children first.
	for _, table := range []string{"ilr_earning_period", "ilr_learning_delivery", "ilr_learner", "ilr_provider"} {
		if _, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE year = $1`, year); err != nil {
			return fmt.Errorf("failed to delete %s for year %d: %w", table, year, err)
		}
	}
	return nil
}

func (r *occupancyRepository) EnsureProvider(ctx context.Context, p *models.Provider) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ilr_provider (year, ukprn, provider_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (year, ukprn) DO NOTHING`, p.Year, p.UKPRN, p.ProviderName)
	if err != nil {
		return fmt.Errorf("failed to ensure provider: %w", err)
	}
	return nil
}

func (r *occupancyRepository) EnsureLearningAim(ctx context.Context, a *models.LearningAim) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ilr_learning_aim (aim_reference, year, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (aim_reference, year) DO NOTHING`, a.AimReference, a.Year, a.Title)
	if err != nil {
		return fmt.Errorf("failed to ensure learning aim: %w", err)
	}
	return nil
}

const learnerColumns = `ukprn, learner_reference_number, year, unique_learner_number, date_of_birth,
	lldd_health_problem, ethnicity, gender, prior_attainment, postcode_prior_to_enrolment,
	return_period, monitoring_a, monitoring_b, family_name, given_names`

func (r *occupancyRepository) EnsureLearner(ctx context.Context, l *models.Learner) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ilr_learner (`+learnerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (ukprn, learner_reference_number, year) DO NOTHING`,
		l.UKPRN, l.LearnerReferenceNumber, l.Year, l.UniqueLearnerNumber, l.DateOfBirth,
		l.LLDDHealthProblem, l.Ethnicity, l.Gender, l.PriorAttainment, l.PostcodePriorToEnrolment,
		l.ReturnPeriod, l.MonitoringA, l.MonitoringB, l.FamilyName, l.GivenNames)
	if err != nil {
		return fmt.Errorf("failed to ensure learner: %w", err)
	}
	return nil
}

const deliveryColumns = `ukprn, learner_reference_number, aim_sequence_number, year, aim_reference, return_period,
	start_date, planned_end_date, actual_end_date, outcome, notional_nvq_level,
	tier_two_sector_subject_area, tier_two_sector_subject_area_name, funding_model, completion_status,
	learner_employment_status, esm_type_benefit_status, funding_line_type, esfa_funding_line_type,
	partner_ukprn, partner_ukprn_name, ldfam_funding_indicator,
	ldfam_ldm_a, ldfam_ldm_b, ldfam_ldm_c, ldfam_ldm_d, ldfam_ldm_e, ldfam_ldm_f,
	ldfam_dam_a, ldfam_dam_b, ldfam_dam_c, ldfam_dam_d, ldfam_dam_e, ldfam_dam_f,
	community_learning_provision_type, household_situation_a, household_situation_b,
	local_authority_code, esm_employment_intensity, start_for_funding_purposes, policy_uplift_rate,
	age_at_start, basic_skills_type, policy_uplift_category, esm_length_of_unemployment`

const deliveryColumnCount = 45

func deliveryArgs(d *models.LearningDelivery) []any {
	return []any{
		d.UKPRN, d.LearnerReferenceNumber, d.AimSequenceNumber, d.Year, d.AimReference, d.ReturnPeriod,
		d.StartDate, d.PlannedEndDate, d.ActualEndDate, d.Outcome, d.NotionalNVQ,
		d.Tier2Sector, d.Tier2SectorName, d.FundingModel, d.CompletionStatus,
		d.EmploymentStatus, d.ESMBenefitStatus, d.FundingLineType, d.ESFAFundingLineType,
		d.PartnerUKPRN, d.PartnerUKPRNName, d.LDFAMFundingIndicator,
		d.LDFAMLDM[0], d.LDFAMLDM[1], d.LDFAMLDM[2], d.LDFAMLDM[3], d.LDFAMLDM[4], d.LDFAMLDM[5],
		d.LDFAMDAM[0], d.LDFAMDAM[1], d.LDFAMDAM[2], d.LDFAMDAM[3], d.LDFAMDAME, d.LDFAMDAMF,
		d.CommunityLearningProvisionType, d.HouseholdSituationA, d.HouseholdSituationB,
		d.LocalAuthorityCode, d.ESMEmploymentIntensity, d.StartForFundingPurposes, d.PolicyUpliftRate,
		d.AgeAtStart, d.BasicSkillsType, d.PolicyUpliftCategory, d.ESMLengthOfUnemployment,
	}
}

func deliveryScanTargets(d *models.LearningDelivery) []any {
	return []any{
		&d.UKPRN, &d.LearnerReferenceNumber, &d.AimSequenceNumber, &d.Year, &d.AimReference, &d.ReturnPeriod,
		&d.StartDate, &d.PlannedEndDate, &d.ActualEndDate, &d.Outcome, &d.NotionalNVQ,
		&d.Tier2Sector, &d.Tier2SectorName, &d.FundingModel, &d.CompletionStatus,
		&d.EmploymentStatus, &d.ESMBenefitStatus, &d.FundingLineType, &d.ESFAFundingLineType,
		&d.PartnerUKPRN, &d.PartnerUKPRNName, &d.LDFAMFundingIndicator,
		&d.LDFAMLDM[0], &d.LDFAMLDM[1], &d.LDFAMLDM[2], &d.LDFAMLDM[3], &d.LDFAMLDM[4], &d.LDFAMLDM[5],
		&d.LDFAMDAM[0], &d.LDFAMDAM[1], &d.LDFAMDAM[2], &d.LDFAMDAM[3], &d.LDFAMDAME, &d.LDFAMDAMF,
		&d.CommunityLearningProvisionType, &d.HouseholdSituationA, &d.HouseholdSituationB,
		&d.LocalAuthorityCode, &d.ESMEmploymentIntensity, &d.StartForFundingPurposes, &d.PolicyUpliftRate,
		&d.AgeAtStart, &d.BasicSkillsType, &d.PolicyUpliftCategory, &d.ESMLengthOfUnemployment,
	}
}

var upsertDeliverySQL = func() string {
	placeholders := ""
	for i := 1; i <= deliveryColumnCount; i++ {
		if i > 1 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i)
	}
	return `
		INSERT INTO ilr_learning_delivery (` + deliveryColumns + `)
		VALUES (` + placeholders + `)
		ON CONFLICT (ukprn, learner_reference_number, aim_sequence_number, year) DO UPDATE SET
			aim_reference = EXCLUDED.aim_reference,
			return_period = EXCLUDED.return_period,
			start_date = EXCLUDED.start_date,
			planned_end_date = EXCLUDED.planned_end_date,
			actual_end_date = EXCLUDED.actual_end_date,
			outcome = EXCLUDED.outcome,
			notional_nvq_level = EXCLUDED.notional_nvq_level,
			tier_two_sector_subject_area = EXCLUDED.tier_two_sector_subject_area,
			tier_two_sector_subject_area_name = EXCLUDED.tier_two_sector_subject_area_name,
			funding_model = EXCLUDED.funding_model,
			completion_status = EXCLUDED.completion_status,
			learner_employment_status = EXCLUDED.learner_employment_status,
			esm_type_benefit_status = EXCLUDED.esm_type_benefit_status,
			funding_line_type = EXCLUDED.funding_line_type,
			esfa_funding_line_type = EXCLUDED.esfa_funding_line_type,
			partner_ukprn = EXCLUDED.partner_ukprn,
			partner_ukprn_name = EXCLUDED.partner_ukprn_name,
			ldfam_funding_indicator = EXCLUDED.ldfam_funding_indicator,
			ldfam_ldm_a = EXCLUDED.ldfam_ldm_a,
			ldfam_ldm_b = EXCLUDED.ldfam_ldm_b,
			ldfam_ldm_c = EXCLUDED.ldfam_ldm_c,
			ldfam_ldm_d = EXCLUDED.ldfam_ldm_d,
			ldfam_ldm_e = EXCLUDED.ldfam_ldm_e,
			ldfam_ldm_f = EXCLUDED.ldfam_ldm_f,
			ldfam_dam_a = EXCLUDED.ldfam_dam_a,
			ldfam_dam_b = EXCLUDED.ldfam_dam_b,
			ldfam_dam_c = EXCLUDED.ldfam_dam_c,
			ldfam_dam_d = EXCLUDED.ldfam_dam_d,
			ldfam_dam_e = EXCLUDED.ldfam_dam_e,
			ldfam_dam_f = EXCLUDED.ldfam_dam_f,
			community_learning_provision_type = EXCLUDED.community_learning_provision_type,
			household_situation_a = EXCLUDED.household_situation_a,
			household_situation_b = EXCLUDED.household_situation_b,
			local_authority_code = EXCLUDED.local_authority_code,
			esm_employment_intensity = EXCLUDED.esm_employment_intensity,
			start_for_funding_purposes = EXCLUDED.start_for_funding_purposes,
			policy_uplift_rate = EXCLUDED.policy_uplift_rate,
			age_at_start = EXCLUDED.age_at_start,
			basic_skills_type = EXCLUDED.basic_skills_type,
			policy_uplift_category = EXCLUDED.policy_uplift_category,
			esm_length_of_unemployment = EXCLUDED.esm_length_of_unemployment`
}()

func (r *occupancyRepository) UpsertDelivery(ctx context.Context, d *models.LearningDelivery) error {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, upsertDeliverySQL, deliveryArgs(d)...); err != nil {
		return fmt.Errorf("failed to upsert learning delivery: %w", err)
	}
	return nil
}

const earningPeriodColumns = `ukprn, learner_reference_number, aim_sequence_number, year, period,
	calendar_year, calendar_month, return_period,
	on_programme_earned_cash, balancing_payment_earned_cash, aim_achievement_earned_cash,
	job_outcome_earned_cash, learning_support_earned_cash`

func (r *occupancyRepository) SaveEarningPeriods(ctx context.Context, periods []*models.EarningPeriod) error {
	if len(periods) == 0 {
		return nil
	}
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range periods {
		batch.Queue(`
			INSERT INTO ilr_earning_period (`+earningPeriodColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (ukprn, learner_reference_number, aim_sequence_number, year, period) DO UPDATE SET
				calendar_year = EXCLUDED.calendar_year,
				calendar_month = EXCLUDED.calendar_month,
				return_period = EXCLUDED.return_period,
				on_programme_earned_cash = EXCLUDED.on_programme_earned_cash,
				balancing_payment_earned_cash = EXCLUDED.balancing_payment_earned_cash,
				aim_achievement_earned_cash = EXCLUDED.aim_achievement_earned_cash,
				job_outcome_earned_cash = EXCLUDED.job_outcome_earned_cash,
				learning_support_earned_cash = EXCLUDED.learning_support_earned_cash`,
			p.UKPRN, p.LearnerReferenceNumber, p.AimSequenceNumber, p.Year, p.Period,
			p.CalendarYear, p.CalendarMonth, p.ReturnPeriod,
			numericArg(p.OnProgrammeEarnedCash), numericArg(p.BalancingPaymentEarnedCash),
			numericArg(p.AimAchievementEarnedCash), numericArg(p.JobOutcomeEarnedCash),
			numericArg(p.LearningSupportEarnedCash))
	}

	br := q.SendBatch(ctx, batch)
	for range periods {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to save earning period: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close earning period batch: %w", err)
	}
	return nil
}

func (r *occupancyRepository) LearnersExistForYearAndPeriod(ctx context.Context, year, period int) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM ilr_learner WHERE year = $1 AND return_period = $2)`, year, period)
}

func (r *occupancyRepository) LearnerExists(ctx context.Context, ukprn int, lrn string, year int) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ilr_learner
			WHERE ukprn = $1 AND learner_reference_number = $2 AND year <= $3
		)`, ukprn, lrn, year)
}

func (r *occupancyRepository) DeliveryExists(ctx context.Context, ukprn int, lrn string) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ilr_learning_delivery WHERE ukprn = $1 AND learner_reference_number = $2
		)`, ukprn, lrn)
}

func (r *occupancyRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return false, err
	}

	var found bool
	if err := q.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return found, nil
}

func learnerWhere(filter models.LearnerFilter) *whereBuilder {
	w := &whereBuilder{}
	w.factScope(filter.UKPRNs, filter.AcademicYear, filter.Period, "year", "return_period")
	if filter.LearnerReferenceNumber != "" {
		w.add("learner_reference_number = $%d", filter.LearnerReferenceNumber)
	}
	return w
}

func (r *occupancyRepository) ListLearners(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.Learner], error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	limit, offset := normalizePageParams(page.Limit, page.Offset)
	w := learnerWhere(filter)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ilr_learner WHERE `+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count learners: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM ilr_learner
		WHERE %s
		ORDER BY year DESC, ukprn, learner_reference_number
		LIMIT $%d OFFSET $%d`, learnerColumns, w.sql(), w.next(), w.next()+1)
	rows, err := q.Query(ctx, query, append(w.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list learners: %w", err)
	}
	defer rows.Close()

	items := []*models.Learner{}
	for rows.Next() {
		l := &models.Learner{}
		if err := rows.Scan(
			&l.UKPRN, &l.LearnerReferenceNumber, &l.Year, &l.UniqueLearnerNumber, &l.DateOfBirth,
			&l.LLDDHealthProblem, &l.Ethnicity, &l.Gender, &l.PriorAttainment, &l.PostcodePriorToEnrolment,
			&l.ReturnPeriod, &l.MonitoringA, &l.MonitoringB, &l.FamilyName, &l.GivenNames,
		); err != nil {
			return nil, fmt.Errorf("failed to scan learner: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating learners: %w", err)
	}

	return &models.Page[*models.Learner]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (r *occupancyRepository) ListDeliveries(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.LearningDelivery], error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	limit, offset := normalizePageParams(page.Limit, page.Offset)
	w := learnerWhere(filter)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ilr_learning_delivery WHERE `+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count learning deliveries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM ilr_learning_delivery
		WHERE %s
		ORDER BY year DESC, ukprn, learner_reference_number, aim_sequence_number
		LIMIT $%d OFFSET $%d`, deliveryColumns, w.sql(), w.next(), w.next()+1)
	rows, err := q.Query(ctx, query, append(w.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list learning deliveries: %w", err)
	}

	items := []*models.LearningDelivery{}
	for rows.Next() {
		d := &models.LearningDelivery{}
		if err := rows.Scan(deliveryScanTargets(d)...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan learning delivery: %w", err)
		}
		items = append(items, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating learning deliveries: %w", err)
	}

	for _, d := range items {
		if err := r.loadDeliveryDetail(ctx, q, d); err != nil {
			return nil, err
		}
	}

	return &models.Page[*models.LearningDelivery]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (r *occupancyRepository) loadDeliveryDetail(ctx context.Context, q database.Querier, d *models.LearningDelivery) error {
	aim := &models.LearningAim{}
	err := q.QueryRow(ctx, `
		SELECT aim_reference, year, title FROM ilr_learning_aim
		WHERE aim_reference = $1 AND year = $2`, d.AimReference, d.Year,
	).Scan(&aim.AimReference, &aim.Year, &aim.Title)
	switch {
	case err == nil:
		d.Aim = aim
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("failed to load learning aim: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+earningPeriodColumns+` FROM ilr_earning_period
		WHERE ukprn = $1 AND learner_reference_number = $2 AND aim_sequence_number = $3 AND year = $4
		ORDER BY period`, d.UKPRN, d.LearnerReferenceNumber, d.AimSequenceNumber, d.Year)
	if err != nil {
		return fmt.Errorf("failed to load earning periods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &models.EarningPeriod{}
		if err := rows.Scan(
			&p.UKPRN, &p.LearnerReferenceNumber, &p.AimSequenceNumber, &p.Year, &p.Period,
			&p.CalendarYear, &p.CalendarMonth, &p.ReturnPeriod,
			scanDecimal(&p.OnProgrammeEarnedCash), scanDecimal(&p.BalancingPaymentEarnedCash),
			scanDecimal(&p.AimAchievementEarnedCash), scanDecimal(&p.JobOutcomeEarnedCash),
			scanDecimal(&p.LearningSupportEarnedCash),
		); err != nil {
			return fmt.Errorf("failed to scan earning period: %w", err)
		}
		d.Earnings = append(d.Earnings, p)
	}
	return rows.Err()
}

func (r *occupancyRepository) DistinctYears(ctx context.Context) ([]int, error) {
	return collectInts(ctx, `SELECT DISTINCT year FROM ilr_learner ORDER BY year`)
}

func (r *occupancyRepository) DistinctPeriods(ctx context.Context, year int) ([]int, error) {
	return collectInts(ctx, `SELECT DISTINCT return_period FROM ilr_learner WHERE year = $1 ORDER BY return_period`, year)
}

func collectInts(ctx context.Context, query string, args ...any) ([]int, error) {
	q, err := database.QuerierFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct values: %w", err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to collect distinct values: %w", err)
	}
	return values, nil
}
