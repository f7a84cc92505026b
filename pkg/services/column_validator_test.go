package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/config"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

func without(cols []string, drop ...string) []string {
	dropped := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropped[d] = true
	}
	var out []string
	for _, c := range cols {
		if !dropped[c] {
			out = append(out, c)
		}
	}
	return out
}

func TestColumnValidator_OccupancyColumnsGrowByYear(t *testing.T) {
	v := NewColumnValidator(DefaultOccupancyThresholds([]int{2020, 2021}))

	base := v.ExpectedColumns(models.ImportTypeOccupancyReport, 2019, 1)
	y2020 := v.ExpectedColumns(models.ImportTypeOccupancyReport, 2020, 1)
	y2021 := v.ExpectedColumns(models.ImportTypeOccupancyReport, 2021, 1)

	assert.Equal(t, occupancyBaseColumns, base)
	assert.Len(t, y2020, len(base)+len(occupancyColumnGroups[0]))
	assert.Len(t, y2021, len(y2020)+len(occupancyColumnGroups[1]))
	assert.NotContains(t, base, colProviderName)
	assert.Contains(t, y2020, colProviderName)
	assert.NotContains(t, y2020, colPolicyUpliftRate)
	assert.Contains(t, y2021, colPolicyUpliftRate)
}

func TestColumnValidator_CustomThresholdTable(t *testing.T) {
	v := NewColumnValidator([]config.ColumnThreshold{{Year: 2022, Columns: []string{"Brand new column"}}})

	assert.NotContains(t, v.ExpectedColumns(models.ImportTypeOccupancyReport, 2021, 1), "Brand new column")
	assert.Contains(t, v.ExpectedColumns(models.ImportTypeOccupancyReport, 2022, 1), "Brand new column")
}

func TestColumnValidator_OldFormatPassesForEarlyYear(t *testing.T) {
	v := NewColumnValidator(DefaultOccupancyThresholds([]int{2020, 2021}))

	err := v.Validate(models.ImportTypeOccupancyReport, 2019, 5, occupancyBaseColumns)
	assert.NoError(t, err)

	err = v.Validate(models.ImportTypeOccupancyReport, 2020, 5, occupancyBaseColumns)
	var mce *apperrors.MissingColumnsError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, occupancyColumnGroups[0], mce.Missing)
	assert.False(t, mce.ListExpected)
	assert.NotContains(t, err.Error(), "Acceptable column headings")
}

func TestColumnValidator_MatchingIgnoresCaseAndWhitespace(t *testing.T) {
	v := NewColumnValidator(nil)
	headers := []string{"ukprn", " Funding line ", "SOURCE", "Category", "Year To Date", "Previous collection year to date", "Total", "Oct-20"}

	assert.NoError(t, v.Validate(models.ImportTypeFundingSummary, 2020, 3, headers))
}

func TestColumnValidator_FundingSummaryMonthColumn(t *testing.T) {
	v := NewColumnValidator(nil)

	assert.Contains(t, v.ExpectedColumns(models.ImportTypeFundingSummary, 2020, 3), "Oct-20")
	assert.Contains(t, v.ExpectedColumns(models.ImportTypeFundingSummary, 2020, 6), "Jan-21")
	assert.Equal(t, fundingSummaryColumns, v.ExpectedColumns(models.ImportTypeFundingSummary, 2020, 13))

	err := v.Validate(models.ImportTypeFundingSummary, 2020, 3, fundingSummaryColumns)
	var mce *apperrors.MissingColumnsError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, []string{"Oct-20"}, mce.Missing)
	assert.Contains(t, err.Error(), "column [Oct-20] not found in the file. Acceptable column headings are [UKPRN, Funding Line")
}

func TestColumnValidator_ListsEveryMissingColumn(t *testing.T) {
	v := NewColumnValidator(nil)

	err := v.Validate(models.ImportTypeSupplementaryData, 2020, 1,
		without(supplementaryDataColumns, ColUKPRN, colESFLeaveDate))
	require.ErrorIs(t, err, apperrors.ErrMissingColumns)
	assert.Contains(t, err.Error(), "column [UKPRN, ESF leave date] not found in the file.")
}

func TestColumnValidator_IgnoresErrorColumnOfReuploadedErrorFile(t *testing.T) {
	v := NewColumnValidator(nil)
	headers := append(append([]string{}, healthProblemCategoryColumns...), ColErrorColumn)

	assert.NoError(t, v.Validate(models.ImportTypeHealthProblemCategory, 0, 0, headers))
}

func TestColumnValidator_SplitTypesOnlyNeedUKPRN(t *testing.T) {
	v := NewColumnValidator(nil)

	for _, it := range []models.ImportType{models.ImportTypeGLAFSR, models.ImportTypeGLAOCC, models.ImportTypeDataValidationIssues} {
		assert.NoError(t, v.Validate(it, 2020, 1, []string{"UKPRN", "Anything else"}), it)
		assert.Error(t, v.Validate(it, 2020, 1, []string{"Anything else"}), it)
	}
}
