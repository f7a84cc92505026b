package services

import (
	"context"
	"errors"
	"time"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// Importer turns the rows of one kind of file into persisted facts.
//
// The orchestrator calls Begin once, ImportRow for every data row in file
// order and Finish once, all inside the transaction scope carried by ctx.
// A non-nil error from any of them is a hard failure that aborts the file;
// row-level rejections are reported through RowOutcome instead. Compensate
// runs in a fresh transaction after a hard failure and removes whatever the
// import may already have committed.
type Importer interface {
	Type() models.ImportType
	Begin(ctx context.Context, s *ImportSession) error
	ImportRow(ctx context.Context, row *csvfile.Reader, s *ImportSession) (RowOutcome, error)
	Finish(ctx context.Context, s *ImportSession) error
	Compensate(ctx context.Context, s *ImportSession) error
}

// ImportSession carries per-file state between the calls of an Importer.
type ImportSession struct {
	Record  *models.ImportRecord
	Headers []string
	// Now is fixed when the session starts so every row of a file shares one timestamp.
	Now time.Time

	state any
}

// NewImportSession starts a session for the given import.
func NewImportSession(rec *models.ImportRecord, headers []string, now time.Time) *ImportSession {
	return &ImportSession{Record: rec, Headers: headers, Now: now}
}

// sessionState returns the importer-private state of s, creating it on first use.
func sessionState[T any](s *ImportSession) *T {
	if st, ok := s.state.(*T); ok {
		return st
	}
	st := new(T)
	s.state = st
	return st
}

// RowOutcome reports whether a row was accepted. Errors is set for rejected rows.
type RowOutcome struct {
	Accepted bool
	Errors   *RowErrors
}

func acceptRow() RowOutcome {
	return RowOutcome{Accepted: true}
}

func rejectRow(errs *RowErrors) RowOutcome {
	return RowOutcome{Errors: errs}
}

// RowErrors collects every reason a row was rejected, grouped by column in
// the order the columns first failed. Reasons for the same column are
// appended, never replaced.
type RowErrors struct {
	columns []string
	reasons map[string][]string
}

// Add records a reason against a column.
func (e *RowErrors) Add(column, reason string) {
	if e.reasons == nil {
		e.reasons = make(map[string][]string)
	}
	if _, ok := e.reasons[column]; !ok {
		e.columns = append(e.columns, column)
	}
	e.reasons[column] = append(e.reasons[column], reason)
}

// AddError records err against its column when it is an *apperrors.FieldError
// and reports whether it did.
func (e *RowErrors) AddError(err error) bool {
	var fe *apperrors.FieldError
	if !errors.As(err, &fe) {
		return false
	}
	e.Add(fe.Column, fe.Error())
	return true
}

// Empty reports whether no reason has been recorded.
func (e *RowErrors) Empty() bool {
	return e == nil || len(e.columns) == 0
}

// Columns returns the failing columns in first-failure order.
func (e *RowErrors) Columns() []string {
	if e == nil {
		return nil
	}
	return e.columns
}

// Reasons returns the reasons recorded for a column.
func (e *RowErrors) Reasons(column string) []string {
	if e == nil {
		return nil
	}
	return e.reasons[column]
}

// Messages returns every reason, column by column.
func (e *RowErrors) Messages() []string {
	if e == nil {
		return nil
	}
	var msgs []string
	for _, col := range e.columns {
		msgs = append(msgs, e.reasons[col]...)
	}
	return msgs
}

// ImporterDeps holds the repositories shared by the importers.
type ImporterDeps struct {
	Occupancy          repositories.OccupancyRepository
	FundingSummary     repositories.FundingSummaryRepository
	SupplementaryData  repositories.SupplementaryDataRepository
	ProviderAllocation repositories.ProviderAllocationRepository
	ReferenceData      repositories.ReferenceDataRepository
	StoredFiles        repositories.StoredFileRepository
}

// NewImporterRegistry builds the dispatch table from import type to importer.
func NewImporterRegistry(deps ImporterDeps) map[models.ImportType]Importer {
	importers := []Importer{
		NewOccupancyImporter(deps.Occupancy),
		NewFundingSummaryImporter(deps.FundingSummary),
		NewSupplementaryDataImporter(deps.SupplementaryData, deps.Occupancy),
		NewProviderAllocationImporter(deps.ProviderAllocation),
		NewILRCodeValuesImporter(deps.ReferenceData),
		NewRefDataMappingImporter(deps.ReferenceData),
		NewHealthProblemCategoryImporter(deps.ReferenceData),
		NewSplitByUKPRNImporter(models.ImportTypeDataValidationIssues, deps.StoredFiles),
		NewSplitByUKPRNImporter(models.ImportTypeGLAFSR, deps.StoredFiles),
		NewSplitByUKPRNImporter(models.ImportTypeGLAOCC, deps.StoredFiles),
	}

	registry := make(map[models.ImportType]Importer, len(importers))
	for _, imp := range importers {
		registry[imp.Type()] = imp
	}
	return registry
}
