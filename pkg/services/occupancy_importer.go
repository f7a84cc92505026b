package services

import (
	"context"
	"fmt"
	"time"

	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// occupancyImporter loads the monthly occupancy report. One row fans out to
// a provider, a learning aim, a learner, a learning delivery and twelve
// earning periods. The whole academic year is replaced by each upload.
type occupancyImporter struct {
	repo repositories.OccupancyRepository
}

// NewOccupancyImporter creates the importer for OCCUPANCY_REPORT files.
func NewOccupancyImporter(repo repositories.OccupancyRepository) Importer {
	return &occupancyImporter{repo: repo}
}

var _ Importer = (*occupancyImporter)(nil)

func (i *occupancyImporter) Type() models.ImportType {
	return models.ImportTypeOccupancyReport
}

func (i *occupancyImporter) Begin(ctx context.Context, s *ImportSession) error {
	if err := i.repo.DeleteYear(ctx, s.Record.Year()); err != nil {
		return fmt.Errorf("failed to clear occupancy data for %d: %w", s.Record.Year(), err)
	}
	return nil
}

// occupancyKeys are the fields every row must carry.
type occupancyKeys struct {
	lrn          string
	ukprn        int
	returnPeriod int
	uln          int64
	aimSequence  int
	aimReference string
}

func readOccupancyKeys(row *csvfile.Reader) (occupancyKeys, *RowErrors) {
	var k occupancyKeys
	errs := &RowErrors{}
	var err error

	if k.lrn, err = row.RequiredString(ColLRN); err != nil {
		errs.AddError(err)
	}
	if k.ukprn, err = row.RequiredInt(ColUKPRN); err != nil {
		errs.AddError(err)
	}
	if k.returnPeriod, err = row.RequiredInt(colReturn); err != nil {
		errs.AddError(err)
	}
	if k.uln, err = row.RequiredInt64(colULN); err != nil {
		errs.AddError(err)
	}
	if k.aimSequence, err = row.RequiredInt(colAimSequenceNumber); err != nil {
		errs.AddError(err)
	}
	if k.aimReference, err = row.RequiredString(colLearningAimRef); err != nil {
		errs.AddError(err)
	}
	return k, errs
}

func (i *occupancyImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	k, errs := readOccupancyKeys(row)
	if !errs.Empty() {
		return rejectRow(errs), nil
	}
	year := s.Record.Year()

	if err := i.repo.EnsureProvider(ctx, &models.Provider{
		Year:         year,
		UKPRN:        k.ukprn,
		ProviderName: row.OptionalString(colProviderName),
	}); err != nil {
		return RowOutcome{}, err
	}

	if err := i.repo.EnsureLearningAim(ctx, &models.LearningAim{
		AimReference: k.aimReference,
		Year:         year,
		Title:        row.String(colLearningAimTitle),
	}); err != nil {
		return RowOutcome{}, err
	}

	if err := i.repo.EnsureLearner(ctx, &models.Learner{
		UKPRN:                    k.ukprn,
		LearnerReferenceNumber:   k.lrn,
		Year:                     year,
		UniqueLearnerNumber:      k.uln,
		DateOfBirth:              row.OptionalDate(colDateOfBirth, occupancyDateLayout),
		LLDDHealthProblem:        row.OptionalInt(colLLDDHealthProblem),
		Ethnicity:                row.OptionalInt(colEthnicity),
		Gender:                   row.OptionalString(colSex),
		PriorAttainment:          row.OptionalInt(colPriorAttainment),
		PostcodePriorToEnrolment: row.OptionalString(colPostcode),
		ReturnPeriod:             k.returnPeriod,
		MonitoringA:              row.OptionalString(colMonitoringA),
		MonitoringB:              row.OptionalString(colMonitoringB),
		FamilyName:               row.OptionalString(colFamilyName),
		GivenNames:               row.OptionalString(colGivenNames),
	}); err != nil {
		return RowOutcome{}, err
	}

	if err := i.repo.UpsertDelivery(ctx, buildDelivery(row, k, year)); err != nil {
		return RowOutcome{}, err
	}

	if err := i.repo.SaveEarningPeriods(ctx, buildEarningPeriods(row, k, year)); err != nil {
		return RowOutcome{}, err
	}

	return acceptRow(), nil
}

func buildDelivery(row *csvfile.Reader, k occupancyKeys, year int) *models.LearningDelivery {
	d := &models.LearningDelivery{
		UKPRN:                  k.ukprn,
		LearnerReferenceNumber: k.lrn,
		AimSequenceNumber:      k.aimSequence,
		Year:                   year,
		AimReference:           k.aimReference,
		ReturnPeriod:           k.returnPeriod,

		StartDate:           row.OptionalDate(colLearningStartDate, occupancyDateLayout),
		PlannedEndDate:      row.OptionalDate(colPlannedEndDate, occupancyDateLayout),
		ActualEndDate:       row.OptionalDate(colActualEndDate, occupancyDateLayout),
		Outcome:             row.OptionalInt(colOutcome),
		NotionalNVQ:         row.OptionalString(colNotionalNVQ),
		Tier2Sector:         row.OptionalString(colTier2),
		Tier2SectorName:     row.OptionalString(colTier2Name),
		FundingModel:        row.OptionalInt(colFundingModel),
		CompletionStatus:    row.OptionalInt(colCompletionStatus),
		EmploymentStatus:    row.OptionalInt(colEmploymentStatus),
		ESMBenefitStatus:    row.OptionalInt(colESMBenefitStatus),
		FundingLineType:     row.OptionalString(colFundingLineType),
		ESFAFundingLineType: row.OptionalString(colESFAFundingLine),
		PartnerUKPRN:        row.OptionalInt(colPartnerUKPRN),
		PartnerUKPRNName:    row.OptionalString(colPartnerUKPRNName),

		LDFAMFundingIndicator: row.OptionalInt(colFundingIndicator),
		LDFAMDAME:             row.OptionalString(colDAME),
		LDFAMDAMF:             row.OptionalString(colDAMF),

		CommunityLearningProvisionType: row.OptionalInt(colCommunityLearning),
		HouseholdSituationA:            row.OptionalString(colHouseholdA),
		HouseholdSituationB:            row.OptionalString(colHouseholdB),
		LocalAuthorityCode:             row.OptionalString(colLocalAuthorityCode),
		ESMEmploymentIntensity:         row.OptionalInt(colEmploymentIntense),
		StartForFundingPurposes:        row.OptionalInt(colStartForFunding),
		PolicyUpliftRate:               row.OptionalInt(colPolicyUpliftRate),
		AgeAtStart:                     row.OptionalInt(colAgeAtStart),
		BasicSkillsType:                row.OptionalString(colBasicSkillsType),
		PolicyUpliftCategory:           row.OptionalString(colPolicyUpliftCat),
		ESMLengthOfUnemployment:        row.OptionalInt(colLengthUnemployment),
	}
	for idx, col := range ldmColumns {
		d.LDFAMLDM[idx] = row.OptionalInt(col)
	}
	for idx, col := range damColumns {
		d.LDFAMDAM[idx] = row.OptionalInt(col)
	}
	return d
}

// buildEarningPeriods returns the twelve monthly rows in period order,
// August (period 1) through July (period 12).
func buildEarningPeriods(row *csvfile.Reader, k occupancyKeys, year int) []*models.EarningPeriod {
	periods := make([]*models.EarningPeriod, 0, 12)
	for period := 1; period <= 12; period++ {
		calYear, calMonth := models.CalendarMonthForPeriod(year, period)
		month := time.Month(calMonth)
		periods = append(periods, &models.EarningPeriod{
			UKPRN:                  k.ukprn,
			LearnerReferenceNumber: k.lrn,
			AimSequenceNumber:      k.aimSequence,
			Year:                   year,
			Period:                 period,
			CalendarYear:           calYear,
			CalendarMonth:          calMonth,
			ReturnPeriod:           k.returnPeriod,

			OnProgrammeEarnedCash:      row.Currency(earnedCashColumn(month, cashOnProgramme)),
			BalancingPaymentEarnedCash: row.Currency(earnedCashColumn(month, cashBalancingPayment)),
			AimAchievementEarnedCash:   row.Currency(earnedCashColumn(month, cashAimAchievement)),
			JobOutcomeEarnedCash:       row.Currency(earnedCashColumn(month, cashJobOutcome)),
			LearningSupportEarnedCash:  row.Currency(earnedCashColumn(month, cashLearningSupport)),
		})
	}
	return periods
}

func (i *occupancyImporter) Finish(ctx context.Context, s *ImportSession) error {
	return nil
}

func (i *occupancyImporter) Compensate(ctx context.Context, s *ImportSession) error {
	return i.repo.DeleteYear(ctx, s.Record.Year())
}
