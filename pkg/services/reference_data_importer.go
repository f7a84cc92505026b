package services

import (
	"context"
	"fmt"

	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

const codeValueRequiredMessage = "File upload failed as one or more cells in \"Attribute\"/\"Headline Value\" column " +
	"contain(s) no information. Fill in all the required content and try again."

// ilrCodeValuesImporter replaces the code to display value mappings of one year.
type ilrCodeValuesImporter struct {
	repo repositories.ReferenceDataRepository
}

// NewILRCodeValuesImporter creates the importer for ILR_CODE_VALUES files.
func NewILRCodeValuesImporter(repo repositories.ReferenceDataRepository) Importer {
	return &ilrCodeValuesImporter{repo: repo}
}

func (i *ilrCodeValuesImporter) Type() models.ImportType {
	return models.ImportTypeILRCodeValues
}

func (i *ilrCodeValuesImporter) Begin(ctx context.Context, s *ImportSession) error {
	if _, err := i.repo.DeleteMappingsForYear(ctx, s.Record.Year()); err != nil {
		return fmt.Errorf("failed to clear code values for %d: %w", s.Record.Year(), err)
	}
	return nil
}

func (i *ilrCodeValuesImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	errs := &RowErrors{}
	for _, col := range []string{colAttribute, colHeadlineValue} {
		if row.String(col) == "" {
			errs.Add(col, codeValueRequiredMessage)
		}
	}
	if !errs.Empty() {
		return rejectRow(errs), nil
	}

	m := &models.RefDataMapping{
		Year:          s.Record.Year(),
		Attribute:     row.String(colAttribute),
		Code:          row.String(colCode),
		HeadlineValue: row.OptionalString(colHeadlineValue),
		DetailedValue: row.OptionalString(colDetailedValue),
		AddedOn:       s.Now,
		AddedBy:       s.Record.CreatedBy,
	}
	if err := i.repo.UpsertMapping(ctx, m); err != nil {
		return RowOutcome{}, err
	}
	return acceptRow(), nil
}

func (i *ilrCodeValuesImporter) Finish(ctx context.Context, s *ImportSession) error {
	return nil
}

func (i *ilrCodeValuesImporter) Compensate(ctx context.Context, s *ImportSession) error {
	_, err := i.repo.DeleteMappingsForYear(ctx, s.Record.Year())
	return err
}

// refDataMappingImporter seeds mappings from the data initialiser file. Each
// row names its own year and rows are upserted, so nothing is deleted.
type refDataMappingImporter struct {
	repo repositories.ReferenceDataRepository
}

// NewRefDataMappingImporter creates the importer for REF_DATA_MAPPING files.
func NewRefDataMappingImporter(repo repositories.ReferenceDataRepository) Importer {
	return &refDataMappingImporter{repo: repo}
}

func (i *refDataMappingImporter) Type() models.ImportType {
	return models.ImportTypeRefDataMapping
}

func (i *refDataMappingImporter) Begin(ctx context.Context, s *ImportSession) error {
	return nil
}

func (i *refDataMappingImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	errs := &RowErrors{}
	yearValue, err := row.RequiredString(colMappingYear)
	if err != nil {
		errs.AddError(err)
	}
	year, ok := ParseAcademicYear(yearValue)
	if err == nil && !ok {
		errs.Add(colMappingYear, fmt.Sprintf("%s has an invalid value %q", colMappingYear, yearValue))
	}
	attribute, err := row.RequiredString(colMappingAttr)
	if err != nil {
		errs.AddError(err)
	}
	code, err := row.RequiredString(colMappingCode)
	if err != nil {
		errs.AddError(err)
	}
	if !errs.Empty() {
		return rejectRow(errs), nil
	}

	addedBy := row.String(colMappingAddedBy)
	if addedBy == "" {
		addedBy = s.Record.CreatedBy
	}
	m := &models.RefDataMapping{
		Year:          year,
		Attribute:     attribute,
		Code:          code,
		HeadlineValue: row.OptionalString(colMappingHeadline),
		DetailedValue: row.OptionalString(colMappingDetailed),
		AddedOn:       s.Now,
		AddedBy:       addedBy,
	}
	if err := i.repo.UpsertMapping(ctx, m); err != nil {
		return RowOutcome{}, err
	}
	return acceptRow(), nil
}

func (i *refDataMappingImporter) Finish(ctx context.Context, s *ImportSession) error {
	return nil
}

// Compensate has nothing to undo: upserted rows are indistinguishable from
// the ones they replaced.
func (i *refDataMappingImporter) Compensate(ctx context.Context, s *ImportSession) error {
	return nil
}

type healthProblemCategoryImporter struct {
	repo repositories.ReferenceDataRepository
}

// NewHealthProblemCategoryImporter creates the importer for HEALTH_PROBLEM_CATEGORY files.
func NewHealthProblemCategoryImporter(repo repositories.ReferenceDataRepository) Importer {
	return &healthProblemCategoryImporter{repo: repo}
}

func (i *healthProblemCategoryImporter) Type() models.ImportType {
	return models.ImportTypeHealthProblemCategory
}

func (i *healthProblemCategoryImporter) Begin(ctx context.Context, s *ImportSession) error {
	return nil
}

func (i *healthProblemCategoryImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	errs := &RowErrors{}
	code, err := row.RequiredString(colCategoryCode)
	if err != nil {
		errs.AddError(err)
	}
	description, err := row.RequiredString(colCategoryDescription)
	if err != nil {
		errs.AddError(err)
	}
	if !errs.Empty() {
		return rejectRow(errs), nil
	}

	if err := i.repo.UpsertHealthProblemCategory(ctx, &models.HealthProblemCategory{
		Code:        code,
		Description: description,
	}); err != nil {
		return RowOutcome{}, err
	}
	return acceptRow(), nil
}

func (i *healthProblemCategoryImporter) Finish(ctx context.Context, s *ImportSession) error {
	return nil
}

func (i *healthProblemCategoryImporter) Compensate(ctx context.Context, s *ImportSession) error {
	return nil
}
