package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider is a training provider within an academic year. Key: year + UKPRN.
type Provider struct {
	Year         int     `json:"year"`
	UKPRN        int     `json:"ukprn"`
	ProviderName *string `json:"provider_name,omitempty"`
}

// LearningAim is a course definition. Key: aim reference + year.
type LearningAim struct {
	AimReference string `json:"aim_reference"`
	Year         int    `json:"year"`
	Title        string `json:"title"`
}

// Learner is keyed by UKPRN + learner reference number + year.
type Learner struct {
	UKPRN                    int        `json:"ukprn"`
	LearnerReferenceNumber   string     `json:"learner_reference_number"`
	Year                     int        `json:"year"`
	UniqueLearnerNumber      int64      `json:"unique_learner_number"`
	DateOfBirth              *time.Time `json:"date_of_birth,omitempty"`
	LLDDHealthProblem        *int       `json:"lldd_health_problem,omitempty"`
	Ethnicity                *int       `json:"ethnicity,omitempty"`
	Gender                   *string    `json:"gender,omitempty"`
	PriorAttainment          *int       `json:"prior_attainment,omitempty"`
	PostcodePriorToEnrolment *string    `json:"postcode_prior_to_enrolment,omitempty"`
	ReturnPeriod             int        `json:"return_period"`
	MonitoringA              *string    `json:"provider_specified_learner_monitoring_a,omitempty"`
	MonitoringB              *string    `json:"provider_specified_learner_monitoring_b,omitempty"`
	FamilyName               *string    `json:"family_name,omitempty"`
	GivenNames               *string    `json:"given_names,omitempty"`
}

// LearningDelivery is one aim taken by a learner.
// Key: UKPRN + learner reference number + aim sequence number + year.
type LearningDelivery struct {
	UKPRN                  int    `json:"ukprn"`
	LearnerReferenceNumber string `json:"learner_reference_number"`
	AimSequenceNumber      int    `json:"aim_sequence_number"`
	Year                   int    `json:"year"`
	AimReference           string `json:"aim_reference"`
	ReturnPeriod           int    `json:"return_period"`

	StartDate           *time.Time `json:"start_date,omitempty"`
	PlannedEndDate      *time.Time `json:"planned_end_date,omitempty"`
	ActualEndDate       *time.Time `json:"actual_end_date,omitempty"`
	Outcome             *int       `json:"outcome,omitempty"`
	NotionalNVQ         *string    `json:"notional_nvq_level,omitempty"`
	Tier2Sector         *string    `json:"tier_two_sector_subject_area,omitempty"`
	Tier2SectorName     *string    `json:"tier_two_sector_subject_area_name,omitempty"`
	FundingModel        *int       `json:"funding_model,omitempty"`
	CompletionStatus    *int       `json:"completion_status,omitempty"`
	EmploymentStatus    *int       `json:"learner_employment_status,omitempty"`
	ESMBenefitStatus    *int       `json:"esm_type_benefit_status,omitempty"`
	FundingLineType     *string    `json:"funding_line_type,omitempty"`
	ESFAFundingLineType *string    `json:"esfa_funding_line_type,omitempty"`
	PartnerUKPRN        *int       `json:"partner_ukprn,omitempty"`
	PartnerUKPRNName    *string    `json:"partner_ukprn_name,omitempty"`

	LDFAMFundingIndicator *int `json:"ldfam_type_funding_indicator,omitempty"`
	// LDFAMLDM holds LDM (A) to (F).
	LDFAMLDM [6]*int `json:"ldfam_type_ldm"`
	// LDFAMDAM holds DAM (A) to (D); (E) and (F) are free text.
	LDFAMDAM  [4]*int `json:"ldfam_type_dam"`
	LDFAMDAME *string `json:"ldfam_type_dam_e,omitempty"`
	LDFAMDAMF *string `json:"ldfam_type_dam_f,omitempty"`

	CommunityLearningProvisionType *int    `json:"ldfam_community_learning_provision_type,omitempty"`
	HouseholdSituationA            *string `json:"ldfam_type_household_situation_a,omitempty"`
	HouseholdSituationB            *string `json:"ldfam_type_household_situation_b,omitempty"`
	LocalAuthorityCode             *string `json:"local_authority_code,omitempty"`
	ESMEmploymentIntensity         *int    `json:"esm_type_employment_intensity,omitempty"`
	StartForFundingPurposes        *int    `json:"start_for_funding_purposes,omitempty"`
	PolicyUpliftRate               *int    `json:"policy_uplift_rate,omitempty"`
	AgeAtStart                     *int    `json:"age_at_start,omitempty"`
	BasicSkillsType                *string `json:"basic_skills_type,omitempty"`
	PolicyUpliftCategory           *string `json:"policy_uplift_category,omitempty"`
	ESMLengthOfUnemployment        *int    `json:"esm_type_length_of_unemployment,omitempty"`

	// Populated by reporting queries only.
	Aim      *LearningAim     `json:"aim,omitempty"`
	Earnings []*EarningPeriod `json:"earnings,omitempty"`
}

// EarningPeriod is one month of earned cash for a delivery.
// Key: UKPRN + learner reference + aim sequence + year + period.
// Period 1 is August, period 12 is July.
type EarningPeriod struct {
	UKPRN                  int    `json:"ukprn"`
	LearnerReferenceNumber string `json:"learner_reference_number"`
	AimSequenceNumber      int    `json:"aim_sequence_number"`
	Year                   int    `json:"year"`
	Period                 int    `json:"period"`
	CalendarYear           int    `json:"calendar_year"`
	CalendarMonth          int    `json:"calendar_month"`
	ReturnPeriod           int    `json:"return_period"`

	OnProgrammeEarnedCash      *decimal.Decimal `json:"on_programme_earned_cash,omitempty"`
	BalancingPaymentEarnedCash *decimal.Decimal `json:"balancing_payment_earned_cash,omitempty"`
	AimAchievementEarnedCash   *decimal.Decimal `json:"aim_achievement_earned_cash,omitempty"`
	JobOutcomeEarnedCash       *decimal.Decimal `json:"job_outcome_earned_cash,omitempty"`
	LearningSupportEarnedCash  *decimal.Decimal `json:"learning_support_earned_cash,omitempty"`
}

// PeriodForCalendarMonth maps a calendar month (1-12) onto the academic
// period, with August as period 1.
func PeriodForCalendarMonth(month int) int {
	if month <= 7 {
		return month + 5
	}
	return month - 7
}

// CalendarMonthForPeriod is the inverse of PeriodForCalendarMonth. The year
// returned is the calendar year the month falls in for the academic year.
func CalendarMonthForPeriod(academicYear, period int) (year, month int) {
	if period <= 5 {
		return academicYear, period + 7
	}
	return academicYear + 1, period - 5
}

// LearnerFilter narrows learner and delivery queries.
type LearnerFilter struct {
	UKPRNs                 []int
	AcademicYear           *int
	Period                 *int
	LearnerReferenceNumber string
}
