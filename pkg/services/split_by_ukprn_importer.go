package services

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// splitByUKPRNImporter stores no facts. It re-serializes the upload into one
// CSV per provider so each provider can download only its own rows.
type splitByUKPRNImporter struct {
	importType models.ImportType
	files      repositories.StoredFileRepository
}

// NewSplitByUKPRNImporter creates the importer for one of the split file types.
func NewSplitByUKPRNImporter(importType models.ImportType, files repositories.StoredFileRepository) Importer {
	return &splitByUKPRNImporter{importType: importType, files: files}
}

var _ Importer = (*splitByUKPRNImporter)(nil)

type providerSlice struct {
	buf    bytes.Buffer
	writer *csvfile.Writer
}

type splitState struct {
	order  []int
	slices map[int]*providerSlice
}

func (i *splitByUKPRNImporter) Type() models.ImportType {
	return i.importType
}

func (i *splitByUKPRNImporter) Begin(ctx context.Context, s *ImportSession) error {
	if _, err := i.files.DeleteByTypeAndSuffix(ctx, i.importType.Description(), s.Record.FileSuffix()); err != nil {
		return fmt.Errorf("failed to remove previous %s files: %w", i.importType.Description(), err)
	}
	return nil
}

func (i *splitByUKPRNImporter) ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error) {
	ukprn, err := row.RequiredInt(ColUKPRN)
	if err != nil {
		errs := &RowErrors{}
		errs.AddError(err)
		return rejectRow(errs), nil
	}

	st := sessionState[splitState](s)
	if st.slices == nil {
		st.slices = make(map[int]*providerSlice)
	}
	slice, ok := st.slices[ukprn]
	if !ok {
		slice = &providerSlice{}
		slice.writer, err = csvfile.NewWriter(&slice.buf, s.Headers)
		if err != nil {
			return RowOutcome{}, err
		}
		st.slices[ukprn] = slice
		st.order = append(st.order, ukprn)
	}
	if err := slice.writer.WriteValues(row.Values()); err != nil {
		return RowOutcome{}, err
	}
	return acceptRow(), nil
}

// Finish stores one file per provider in the order providers first appeared.
func (i *splitByUKPRNImporter) Finish(ctx context.Context, s *ImportSession) error {
	st := sessionState[splitState](s)
	suffix := s.Record.FileSuffix()
	for _, ukprn := range st.order {
		slice := st.slices[ukprn]
		if err := slice.writer.Flush(); err != nil {
			return err
		}
		f := &models.StoredFile{
			DataImportID: s.Record.ID,
			FileType:     i.importType.Description(),
			FileName:     splitFileName(i.importType, suffix, ukprn),
			FileSuffix:   suffix,
			UKPRN:        &ukprn,
			CreatedBy:    s.Record.CreatedBy,
			Content:      slice.buf.Bytes(),
		}
		if err := i.files.Create(ctx, f); err != nil {
			return fmt.Errorf("failed to store %s file for UKPRN %d: %w", f.FileType, ukprn, err)
		}
	}
	return nil
}

func (i *splitByUKPRNImporter) Compensate(ctx context.Context, s *ImportSession) error {
	_, err := i.files.DeleteByTypeAndSuffix(ctx, i.importType.Description(), s.Record.FileSuffix())
	return err
}

// splitFileName names a provider's slice, e.g. "GLA FSR 2020 02 10001234.csv".
func splitFileName(importType models.ImportType, suffix string, ukprn int) string {
	name := importType.Description()
	if suffix != "" {
		name += " " + suffix
	}
	return name + " " + strconv.Itoa(ukprn) + csvExtension
}
