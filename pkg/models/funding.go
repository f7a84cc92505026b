package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Grant types derived from a funding line.
const (
	GrantTypeAEBGrant    = "AEB_GRANT"
	GrantTypeAEBProcured = "AEB_PROCURED"
)

// GrantTypeForFundingLine classifies a funding line as grant or procured.
func GrantTypeForFundingLine(fundingLine string) string {
	if strings.Contains(fundingLine, "non-procured") {
		return GrantTypeAEBGrant
	}
	return GrantTypeAEBProcured
}

// FundingSummaryRecord is one line of a funding summary report.
// Bulk-replaced per (academic year, period).
type FundingSummaryRecord struct {
	ID           int64            `json:"id"`
	AcademicYear int              `json:"academic_year"`
	Period       int              `json:"period"`
	ActualYear   int              `json:"actual_year"`
	ActualMonth  int              `json:"actual_month"`
	UKPRN        int              `json:"ukprn"`
	FundingLine  string           `json:"funding_line"`
	Source       string           `json:"source"`
	Category     string           `json:"category"`
	GrantType    string           `json:"grant_type"`
	MonthTotal   *decimal.Decimal `json:"month_total,omitempty"`
	TotalPayment *decimal.Decimal `json:"total_payment,omitempty"`
}

// SupplementaryData holds GLA-collected learner attributes.
// Key: UKPRN + year + learner reference number.
type SupplementaryData struct {
	UKPRN                  int    `json:"ukprn"`
	Year                   int    `json:"year"`
	LearnerReferenceNumber string `json:"learner_reference_number"`
	Period                 int    `json:"period"`

	InvestmentPriorityClaimedUnder     string     `json:"investment_priority_claimed_under"`
	IsHomeless                         int        `json:"is_homeless"`
	HighestEducationalAttainment       int        `json:"highest_educational_attainment_at_esf_start"`
	HighestLiteracyAttainment          string     `json:"highest_literacy_attainment_at_esf_start"`
	HighestNumeracyAttainment          string     `json:"highest_numeracy_attainment_at_esf_start"`
	ProgressingIntoEducationOrTraining *int       `json:"progressing_into_education_or_training,omitempty"`
	StartDateForEducationOrTraining    *time.Time `json:"start_date_for_education_or_training,omitempty"`
	HasLeftESFProgramme                *int       `json:"has_left_esf_programme,omitempty"`
	ESFReturner                        *int       `json:"esf_returner,omitempty"`
	ESFLeaveDate                       *time.Time `json:"esf_leave_date,omitempty"`
	LastSupplementaryDataUpload        time.Time  `json:"last_supplementary_data_upload"`
}

// AllocationPeriods is the number of year-to-date allocation columns (R01-R14).
const AllocationPeriods = 14

// ProviderAllocation is keyed by year + UKPRN + project type + allocation type.
type ProviderAllocation struct {
	Year               int                                 `json:"year"`
	UKPRN              int                                 `json:"ukprn"`
	OPSProjectType     string                              `json:"ops_project_type"`
	AllocationType     string                              `json:"allocation_type"`
	FullTermAllocation *decimal.Decimal                    `json:"full_term_allocation,omitempty"`
	YearlyAllocation   *decimal.Decimal                    `json:"yearly_allocation,omitempty"`
	YTDAllocations     [AllocationPeriods]*decimal.Decimal `json:"ytd_allocations"`
}

// RefDataMapping maps an ILR code to its display values.
// Key: year + attribute + code.
type RefDataMapping struct {
	Year          int       `json:"year"`
	Attribute     string    `json:"attribute"`
	Code          string    `json:"code"`
	HeadlineValue *string   `json:"headline_value,omitempty"`
	DetailedValue *string   `json:"detailed_value,omitempty"`
	AddedOn       time.Time `json:"added_on"`
	AddedBy       string    `json:"added_by"`
}

// HealthProblemCategory is a static lookup keyed by code.
type HealthProblemCategory struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// FactFilter narrows paged fact queries.
type FactFilter struct {
	UKPRNs       []int
	AcademicYear *int
	Period       *int
	Attribute    string
}
