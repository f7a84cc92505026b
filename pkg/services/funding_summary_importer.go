package services

import (
	"context"
	"fmt"

	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// fundingSummaryImporter replaces the funding summary lines of one
// (academic year, period). Accepted rows are buffered and written with a
// single COPY when the file is finished.
type fundingSummaryImporter struct {
	repo repositories.FundingSummaryRepository
}

// NewFundingSummaryImporter creates the importer for FUNDING_SUMMARY files.
func NewFundingSummaryImporter(repo repositories.FundingSummaryRepository) Importer {
	return &fundingSummaryImporter{repo: repo}
}

var _ Importer = (*fundingSummaryImporter)(nil)

type fundingSummaryState struct {
	records []*models.FundingSummaryRecord
}

func (i *fundingSummaryImporter) Type() models.ImportType {
	return models.ImportTypeFundingSummary
}

func (i *fundingSummaryImporter) Begin(ctx context.Context, s *ImportSession) error {
	year, period := s.Record.Year(), s.Record.PeriodOrZero()
	if _, err := i.repo.DeleteScope(ctx, year, period); err != nil {
		return fmt.Errorf("failed to clear funding summary for %d period %d: %w", year, period, err)
	}
	return nil
}

func (i *fundingSummaryImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	errs := &RowErrors{}
	ukprn, err := row.RequiredInt(ColUKPRN)
	if err != nil {
		errs.AddError(err)
	}
	fundingLine, err := row.RequiredString(colFundingLine)
	if err != nil {
		errs.AddError(err)
	}
	if !errs.Empty() {
		return rejectRow(errs), nil
	}

	year, period := s.Record.Year(), s.Record.PeriodOrZero()
	actualYear, actualMonth := fundingActualMonth(year, period)
	rec := &models.FundingSummaryRecord{
		AcademicYear: year,
		Period:       period,
		ActualYear:   actualYear,
		ActualMonth:  actualMonth,
		UKPRN:        ukprn,
		FundingLine:  fundingLine,
		Source:       row.String(colSource),
		Category:     row.String(colCategory),
		GrantType:    models.GrantTypeForFundingLine(fundingLine),
		TotalPayment: row.Currency(colYearToDate),
	}
	if month := fundingMonthColumn(year, period); month != "" {
		rec.MonthTotal = row.Currency(month)
	}

	st := sessionState[fundingSummaryState](s)
	st.records = append(st.records, rec)
	return acceptRow(), nil
}

func (i *fundingSummaryImporter) Finish(ctx context.Context, s *ImportSession) error {
	st := sessionState[fundingSummaryState](s)
	if len(st.records) == 0 {
		return nil
	}
	if _, err := i.repo.CopyRecords(ctx, st.records); err != nil {
		return fmt.Errorf("failed to copy funding summary records: %w", err)
	}
	return nil
}

func (i *fundingSummaryImporter) Compensate(ctx context.Context, s *ImportSession) error {
	_, err := i.repo.DeleteScope(ctx, s.Record.Year(), s.Record.PeriodOrZero())
	return err
}
