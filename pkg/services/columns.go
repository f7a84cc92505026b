package services

import (
	"fmt"
	"time"

	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// Header names shared by several file formats.
const (
	ColLRN         = "Learner reference number"
	ColUKPRN       = "UKPRN"
	ColErrorColumn = "Error column"
)

// Occupancy report headers.
const (
	colReturn             = "Return"
	colULN                = "Unique learner number"
	colAimSequenceNumber  = "Aim sequence number"
	colLearningAimRef     = "Learning aim reference"
	colLearningAimTitle   = "Learning aim title"
	colDateOfBirth        = "Date of birth"
	colLLDDHealthProblem  = "LLDD and health problem"
	colEthnicity          = "Ethnicity"
	colSex                = "Sex"
	colPostcode           = "Postcode prior to enrolment"
	colPriorAttainment    = "Prior attainment"
	colMonitoringA        = "Provider specified learner monitoring (A)"
	colMonitoringB        = "Provider specified learner monitoring (B)"
	colOutcome            = "Outcome"
	colNotionalNVQ        = "Notional NVQ level"
	colTier2              = "Tier 2 sector subject area"
	colFundingModel       = "Funding model"
	colCompletionStatus   = "Completion status"
	colESMBenefitStatus   = "ESM Type - benefit status indicator"
	colEmploymentStatus   = "Learner employment status"
	colFundingLineType    = "Funding line type"
	colESFAFundingLine    = "ESFA Funding line type"
	colPartnerUKPRN       = "Partner UKPRN"
	colFundingIndicator   = "LDFAM type - full or co funding indicator"
	colCommunityLearning  = "LDFAM type - Community Learning provision type"
	colLearningStartDate  = "Learning start date"
	colPlannedEndDate     = "Learning planned end date"
	colActualEndDate      = "Learning actual end date"
	colProviderName       = "Provider name"
	colFamilyName         = "Family name"
	colGivenNames         = "Given names"
	colTier2Name          = "Tier 2 sector subject area name"
	colLocalAuthorityCode = "Local authority code"
	colDAME               = "LDFAM type - DAM (E)"
	colDAMF               = "LDFAM type - DAM (F)"
	colHouseholdA         = "LDFAM type - household situation (A)"
	colHouseholdB         = "LDFAM type - household situation (B)"
	colEmploymentIntense  = "ESM type - employment intensity indicator"
	colStartForFunding    = "Start for funding purposes"
	colPartnerUKPRNName   = "Partner UKPRN name"
	colPolicyUpliftRate   = "Policy uplift rate"
	colAgeAtStart         = "Age at start"
	colBasicSkillsType    = "Basic skills type"
	colPolicyUpliftCat    = "Policy uplift category"
	colLengthUnemployment = "ESM type - Length of unemployment"
)

// ldmColumns and damColumns hold the lettered LDFAM columns in order.
var (
	ldmColumns = []string{
		"LDFAM type - LDM (A)", "LDFAM type - LDM (B)", "LDFAM type - LDM (C)",
		"LDFAM type - LDM (D)", "LDFAM type - LDM (E)", "LDFAM type - LDM (F)",
	}
	damColumns = []string{
		"LDFAM type - DAM (A)", "LDFAM type - DAM (B)", "LDFAM type - DAM (C)", "LDFAM type - DAM (D)",
	}
)

// Monthly earned cash column kinds. Job outcome is read when present but never required.
const (
	cashOnProgramme      = "on programme earned cash"
	cashBalancingPayment = "balancing payment earned cash"
	cashAimAchievement   = "aim achievement earned cash"
	cashJobOutcome       = "job outcome earned cash"
	cashLearningSupport  = "learning support earned cash"
)

const (
	occupancyDateLayout     = "2/1/2006"
	supplementaryDateLayout = "2006-01-02"
	fundingMonthLayout      = "Jan-06"
	fundingMonthlyPeriods   = 12
)

// earnedCashColumn names the cash column for a calendar month, e.g. "August on programme earned cash".
func earnedCashColumn(month time.Month, kind string) string {
	return month.String() + " " + kind
}

var occupancyBaseColumns = func() []string {
	cols := []string{
		ColLRN, ColUKPRN, colReturn, colULN, colAimSequenceNumber,
		colDateOfBirth, colLLDDHealthProblem, colEthnicity, colSex, colPostcode, colPriorAttainment,
		colMonitoringA, colMonitoringB,
		colLearningAimRef, colOutcome, colNotionalNVQ, colTier2, colFundingModel, colCompletionStatus,
		colESMBenefitStatus, colEmploymentStatus, colFundingLineType, colESFAFundingLine, colPartnerUKPRN,
		colFundingIndicator,
	}
	cols = append(cols, ldmColumns...)
	cols = append(cols, damColumns...)
	cols = append(cols, colCommunityLearning, colLearningStartDate, colPlannedEndDate, colActualEndDate)
	for m := time.January; m <= time.December; m++ {
		for _, kind := range []string{cashOnProgramme, cashBalancingPayment, cashAimAchievement, cashLearningSupport} {
			cols = append(cols, earnedCashColumn(m, kind))
		}
	}
	return cols
}()

// occupancyColumnGroups are the columns added at each successive format change.
var occupancyColumnGroups = [][]string{
	{
		colProviderName, colFamilyName, colGivenNames, colTier2Name, colLocalAuthorityCode,
		colDAME, colDAMF, colHouseholdA, colHouseholdB, colEmploymentIntense, colStartForFunding,
		colPartnerUKPRNName,
	},
	{
		colPolicyUpliftRate, colAgeAtStart, colBasicSkillsType, colPolicyUpliftCat, colLengthUnemployment,
	},
}

// Funding summary headers.
const (
	colFundingLine        = "Funding Line"
	colSource             = "Source"
	colCategory           = "Category"
	colYearToDate         = "Year to date"
	colPreviousYearToDate = "Previous collection year to date"
	colTotal              = "Total"
)

var fundingSummaryColumns = []string{
	ColUKPRN, colFundingLine, colSource, colCategory, colYearToDate, colPreviousYearToDate, colTotal,
}

// fundingMonthColumn returns the "MMM-yy" header carrying the month total,
// or "" for periods 13 and 14 which have none.
func fundingMonthColumn(year, period int) string {
	if period > fundingMonthlyPeriods {
		return ""
	}
	actualYear, actualMonth := fundingActualMonth(year, period)
	return time.Date(actualYear, time.Month(actualMonth), 1, 0, 0, 0, 0, time.UTC).Format(fundingMonthLayout)
}

// fundingActualMonth maps a funding period onto the calendar month it reports.
func fundingActualMonth(year, period int) (actualYear, actualMonth int) {
	actualMonth = period - 5
	if period <= 5 {
		actualMonth = period + 7
	}
	actualYear = year
	if period > 5 {
		actualYear = year + 1
	}
	return actualYear, actualMonth
}

// Supplementary data headers.
const (
	colInvestmentPriority     = "Investment priority claimed under"
	colIsHomeless             = "Is homeless (broad definition)"
	colLiteracyAttainment     = "Highest attainment in literacy/ESOL at ESF start"
	colNumeracyAttainment     = "Highest attainment in numeracy at ESF start"
	colEducationalAttainment  = "Highest educational attainment at ESF start"
	colProgressingIntoEdu     = "Progressing into education or training as ESF result"
	colStartDateForEducation  = "Start date for education or training ESF result"
	colHasLeftESFProgramme    = "Has left ESF programme"
	colESFReturner            = "ESF Returner"
	colESFLeaveDate           = "ESF leave date"
	colLearnerReferenceExists = ColUKPRN + ", " + ColLRN
)

var supplementaryDataColumns = []string{
	ColLRN, ColUKPRN, colInvestmentPriority, colIsHomeless, colEducationalAttainment,
	colLiteracyAttainment, colNumeracyAttainment, colProgressingIntoEdu, colStartDateForEducation,
	colHasLeftESFProgramme, colESFReturner, colESFLeaveDate,
}

// Provider allocation headers.
const (
	colAcademicYear       = "Academic Year"
	colOPSProjectType     = "OPS Project type"
	colAllocationType     = "Allocation type"
	colFullTermAllocation = "Full term allocation £"
	colYearlyAllocation   = "FY allocation £"
)

// ytdAllocationColumn names the year-to-date column for return period r (1-based).
func ytdAllocationColumn(r int) string {
	return fmt.Sprintf("YTD allocation @R%02d £", r)
}

var providerAllocationColumns = func() []string {
	cols := []string{colAcademicYear, ColUKPRN, colOPSProjectType, colAllocationType, colFullTermAllocation, colYearlyAllocation}
	for r := 1; r <= models.AllocationPeriods; r++ {
		cols = append(cols, ytdAllocationColumn(r))
	}
	return cols
}()

// ILR code values headers.
const (
	colAttribute     = "ATTRIBUTE"
	colCode          = "CODE"
	colHeadlineValue = "HEADLINE VALUE"
	colDetailedValue = "DETAILED VALUE"
)

var ilrCodeValueColumns = []string{colAttribute, colCode, colHeadlineValue, colDetailedValue}

// Ref data mapping headers.
const (
	colMappingYear     = "year"
	colMappingAttr     = "attribute"
	colMappingCode     = "code"
	colMappingHeadline = "headlineValue"
	colMappingDetailed = "detailedValue"
	colMappingAddedBy  = "addedBy"
)

var refDataMappingColumns = []string{
	colMappingYear, colMappingAttr, colMappingCode, colMappingHeadline, colMappingDetailed, colMappingAddedBy,
}

// Health problem category headers.
const (
	colCategoryCode        = "Category Code"
	colCategoryDescription = "Description"
)

var healthProblemCategoryColumns = []string{colCategoryCode, colCategoryDescription}
