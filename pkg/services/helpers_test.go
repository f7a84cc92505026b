package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

var testNow = time.Date(2021, time.March, 15, 10, 0, 0, 0, time.UTC)

// buildCSV renders rows keyed by header name under the given header row.
func buildCSV(t *testing.T, headers []string, rows ...map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := csvfile.NewWriter(&buf, headers)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, w.WriteRecord(row))
	}
	require.NoError(t, w.Flush())
	return buf.String()
}

// rowsOf returns a reader over content positioned before the first data row.
func rowsOf(t *testing.T, content string) *csvfile.Reader {
	t.Helper()
	r, err := csvfile.NewReader(strings.NewReader(content))
	require.NoError(t, err)
	return r
}

func testRecord(importType models.ImportType, year, period int) *models.ImportRecord {
	rec := &models.ImportRecord{
		ID:         1,
		ImportType: importType,
		Status:     models.ImportStatusProcessing,
		CreatedBy:  "alice",
	}
	if year > 0 {
		rec.AcademicYear = &year
	}
	if period > 0 {
		rec.Period = &period
	}
	return rec
}

// importAll feeds every row of content through imp the way the orchestrator
// does and returns the outcomes in file order.
func importAll(t *testing.T, imp Importer, rec *models.ImportRecord, content string) []RowOutcome {
	t.Helper()
	ctx := context.Background()
	r := rowsOf(t, content)
	s := NewImportSession(rec, r.Headers(), testNow)

	require.NoError(t, imp.Begin(ctx, s))
	var outcomes []RowOutcome
	for r.Next() {
		out, err := imp.ImportRow(ctx, r, s)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	require.NoError(t, r.Err())
	require.NoError(t, imp.Finish(ctx, s))
	return outcomes
}

func occupancyRow(ukprn, lrn, aimSeq string) map[string]string {
	return map[string]string{
		ColUKPRN:             ukprn,
		ColLRN:               lrn,
		colReturn:            "3",
		colULN:               "1234567890",
		colAimSequenceNumber: aimSeq,
		colLearningAimRef:    "ZESF0001",
		colLearningAimTitle:  "ESF learner start and assessment",
		colProviderName:      "Example College",
		colDateOfBirth:       "14/2/1990",
		colLearningStartDate: "1/9/2020",
		colFundingLineType:   "AEB - Other Learning (non-procured)",

		"August on programme earned cash":    "£100.00",
		"September on programme earned cash": "200",
		"July balancing payment earned cash": "(15.50)",
	}
}
