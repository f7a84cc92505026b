package services

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// blankCode marks a coded column that may be left empty.
const blankCode = "blank"

// supplementaryCodes lists the accepted values of each coded column in the
// order they are reported back to the user.
var supplementaryCodes = map[string][]string{
	colInvestmentPriority:    {"1.1", "1.2", "2.1"},
	colIsHomeless:            {"1", "2", "3"},
	colEducationalAttainment: {"1", "2", "3", "7", "9", "10", "11", "12", "13", "97", "98", "99"},
	colLiteracyAttainment:    {"E0", "E1", "E2", "E3", "L1", "L2"},
	colNumeracyAttainment:    {"E0", "E1", "E2", "E3", "L1", "L2"},
	colProgressingIntoEdu:    {"1", blankCode},
	colHasLeftESFProgramme:   {"1", blankCode},
	colESFReturner:           {"1", blankCode},
}

// supplementaryDataImporter loads GLA-collected learner attributes. Rows are
// only accepted for learners already known from occupancy reports, and each
// provider's rows for the year are replaced by the upload.
type supplementaryDataImporter struct {
	repo      repositories.SupplementaryDataRepository
	occupancy repositories.OccupancyRepository
}

// NewSupplementaryDataImporter creates the importer for SUPPLEMENTARY_DATA files.
func NewSupplementaryDataImporter(repo repositories.SupplementaryDataRepository, occupancy repositories.OccupancyRepository) Importer {
	return &supplementaryDataImporter{repo: repo, occupancy: occupancy}
}

var _ Importer = (*supplementaryDataImporter)(nil)

type supplementaryState struct {
	cleared map[int]bool
	touched []int
}

func (i *supplementaryDataImporter) Type() models.ImportType {
	return models.ImportTypeSupplementaryData
}

// Begin refuses the file until occupancy data exists for its year and period.
func (i *supplementaryDataImporter) Begin(ctx context.Context, s *ImportSession) error {
	year, period := s.Record.Year(), s.Record.PeriodOrZero()
	ok, err := i.occupancy.LearnersExistForYearAndPeriod(ctx, year, period)
	if err != nil {
		return fmt.Errorf("failed to check learners for %d period %d: %w", year, period, err)
	}
	if !ok {
		return apperrors.WithMessage(apperrors.ErrNotAvailableForUpload, fmt.Sprintf(
			"Supplementary Data for year %d and period %d is not yet available for upload. "+
				"Please wait to hear from the GLA when the data becomes available, or update the file name and try again.",
			year, period))
	}
	return nil
}

func (i *supplementaryDataImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	errs := &RowErrors{}
	year := s.Record.Year()

	ukprn, err := strconv.Atoi(row.String(ColUKPRN))
	if err != nil {
		errs.Add(ColUKPRN, supplementaryInvalidMessage(ColUKPRN, "Numeric"))
		return rejectRow(errs), nil
	}
	lrn, err := row.RequiredString(ColLRN)
	if err != nil {
		errs.AddError(err)
		return rejectRow(errs), nil
	}

	learnerFound, err := i.occupancy.LearnerExists(ctx, ukprn, lrn, year)
	if err != nil {
		return RowOutcome{}, err
	}
	if !learnerFound {
		errs.Add(colLearnerReferenceExists, fmt.Sprintf(
			"No records found for ukprn \"%d\" and learner reference \"%s\". "+
				"Valid previous occupancy records must exist to be able to upload this supplementary data.", ukprn, lrn))
	}

	for _, col := range []string{
		colInvestmentPriority, colIsHomeless, colEducationalAttainment, colNumeracyAttainment, colLiteracyAttainment,
	} {
		checkCode(row, col, errs)
	}
	progressing := checkCode(row, colProgressingIntoEdu, errs)
	checkDependentDate(row, colStartDateForEducation, colProgressingIntoEdu, progressing, s.Now, errs)
	hasLeft := checkCode(row, colHasLeftESFProgramme, errs)
	checkDependentDate(row, colESFLeaveDate, colHasLeftESFProgramme, hasLeft, s.Now, errs)
	checkCode(row, colESFReturner, errs)

	deliveryFound, err := i.occupancy.DeliveryExists(ctx, ukprn, lrn)
	if err != nil {
		return RowOutcome{}, err
	}
	if !deliveryFound {
		errs.Add(ColLRN, fmt.Sprintf(
			"A record for Learner reference number %s doesn't exist for UKPRN %d, valid Learner reference numbers must be uploaded",
			lrn, ukprn))
	}

	if !errs.Empty() {
		return rejectRow(errs), nil
	}

	st := sessionState[supplementaryState](s)
	if !st.cleared[ukprn] {
		if _, err := i.repo.DeleteForProviders(ctx, year, []int{ukprn}); err != nil {
			return RowOutcome{}, fmt.Errorf("failed to clear supplementary data for UKPRN %d: %w", ukprn, err)
		}
		if st.cleared == nil {
			st.cleared = make(map[int]bool)
		}
		st.cleared[ukprn] = true
		st.touched = append(st.touched, ukprn)
	}

	if err := i.repo.Upsert(ctx, readSupplementaryData(row, ukprn, lrn, s)); err != nil {
		return RowOutcome{}, err
	}
	return acceptRow(), nil
}

func readSupplementaryData(row *csvfile.Reader, ukprn int, lrn string, s *ImportSession) *models.SupplementaryData {
	sd := &models.SupplementaryData{
		UKPRN:                          ukprn,
		Year:                           s.Record.Year(),
		LearnerReferenceNumber:         lrn,
		Period:                         s.Record.PeriodOrZero(),
		InvestmentPriorityClaimedUnder: row.String(colInvestmentPriority),
		HighestLiteracyAttainment:      row.String(colLiteracyAttainment),
		HighestNumeracyAttainment:      row.String(colNumeracyAttainment),
		HasLeftESFProgramme:            row.OptionalInt(colHasLeftESFProgramme),
		ESFReturner:                    row.OptionalInt(colESFReturner),
		LastSupplementaryDataUpload:    s.Now,

		ProgressingIntoEducationOrTraining: row.OptionalInt(colProgressingIntoEdu),
	}
	// Both codes were checked against numeric sets.
	sd.IsHomeless, _ = strconv.Atoi(row.String(colIsHomeless))
	sd.HighestEducationalAttainment, _ = strconv.Atoi(row.String(colEducationalAttainment))

	if sd.ProgressingIntoEducationOrTraining != nil {
		sd.StartDateForEducationOrTraining = row.OptionalDate(colStartDateForEducation, supplementaryDateLayout)
	}
	if sd.HasLeftESFProgramme != nil {
		sd.ESFLeaveDate = row.OptionalDate(colESFLeaveDate, supplementaryDateLayout)
	}
	return sd
}

// checkCode validates a coded cell against its closed set and returns the raw value.
func checkCode(row *csvfile.Reader, col string, errs *RowErrors) string {
	allowed := supplementaryCodes[col]
	v := row.String(col)
	valid := slices.Contains(allowed, blankCode)
	if v != "" {
		valid = v != blankCode && slices.Contains(allowed, v)
	}
	if !valid {
		errs.Add(col, supplementaryFormatMessage(col, strings.Join(allowed, ", ")))
	}
	return v
}

// checkDependentDate requires a past yyyy-MM-dd date when the parent flag is
// set and a blank cell when it is not.
func checkDependentDate(row *csvfile.Reader, col, parent, parentValue string, now time.Time, errs *RowErrors) {
	v := row.String(col)
	if parentValue == "" {
		if v != "" {
			errs.Add(col, supplementaryInvalidMessage(col, fmt.Sprintf("should be blank if %q is blank", parent)))
		}
		return
	}
	d, err := time.Parse(supplementaryDateLayout, v)
	if err != nil {
		errs.Add(col, supplementaryFormatMessage(col, "YYYY-MM-DD"))
		return
	}
	if d.After(now) {
		errs.Add(col, supplementaryInvalidMessage(col, "dates cannot be in the future"))
	}
}

func supplementaryInvalidMessage(col, reason string) string {
	return fmt.Sprintf("File upload failed as one or more cells in %q column are invalid: %s", col, reason)
}

func supplementaryFormatMessage(col, format string) string {
	return fmt.Sprintf("File upload failed as one or more cells in %q column contain(s) information "+
		"which is not in the specified format %q. Amend the content and try again.", col, format)
}

func (i *supplementaryDataImporter) Finish(ctx context.Context, s *ImportSession) error {
	return nil
}

// Compensate removes the rows of every provider this upload replaced.
func (i *supplementaryDataImporter) Compensate(ctx context.Context, s *ImportSession) error {
	st := sessionState[supplementaryState](s)
	if len(st.touched) == 0 {
		return nil
	}
	_, err := i.repo.DeleteForProviders(ctx, s.Record.Year(), st.touched)
	return err
}
