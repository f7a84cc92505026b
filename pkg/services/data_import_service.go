package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// DataImportService manages import records and the files generated from them.
type DataImportService interface {
	// List returns imports newest first, supplementary data uploads excluded.
	List(ctx context.Context, page models.PageRequest) (*models.Page[*models.ImportRecord], error)
	Get(ctx context.Context, id int64) (*models.ImportRecord, error)
	// LatestForUser returns nil when the user has never uploaded the type.
	LatestForUser(ctx context.Context, user string, importType models.ImportType) (*models.ImportRecord, error)
	// LatestErrorFile returns the error file of the user's most recent import
	// of the type. A clean latest import has none.
	LatestErrorFile(ctx context.Context, user string, importType models.ImportType) (*models.StoredFile, error)
	ListFiles(ctx context.Context, filter models.FileFilter) ([]*models.StoredFile, error)
	GetFile(ctx context.Context, id int64) (*models.StoredFile, error)
	Delete(ctx context.Context, id int64) error
	// Purge removes every import of the type for the year and period together
	// with the facts they produced.
	Purge(ctx context.Context, importType models.ImportType, year, period int) (*PurgeResult, error)
}

// PurgeResult reports what a purge removed.
type PurgeResult struct {
	ImportsDeleted int64 `json:"imports_deleted"`
}

// DataImportServiceDeps wires a DataImportService.
type DataImportServiceDeps struct {
	Imports            repositories.DataImportRepository
	Files              repositories.StoredFileRepository
	Occupancy          repositories.OccupancyRepository
	FundingSummary     repositories.FundingSummaryRepository
	SupplementaryData  repositories.SupplementaryDataRepository
	ProviderAllocation repositories.ProviderAllocationRepository
	ReferenceData      repositories.ReferenceDataRepository
	Transactor         database.Transactor
	Logger             *zap.Logger
}

type dataImportService struct {
	deps   DataImportServiceDeps
	logger *zap.Logger
}

// NewDataImportService creates a DataImportService.
func NewDataImportService(deps DataImportServiceDeps) DataImportService {
	if deps.Transactor == nil {
		deps.Transactor = database.ContextTransactor{}
	}
	return &dataImportService{
		deps:   deps,
		logger: deps.Logger.Named("data-imports"),
	}
}

var _ DataImportService = (*dataImportService)(nil)

func (s *dataImportService) List(ctx context.Context, page models.PageRequest) (*models.Page[*models.ImportRecord], error) {
	page = page.Normalize()
	records, total, err := s.deps.Imports.List(ctx, models.ImportFilter{
		ExcludeTypes: []models.ImportType{models.ImportTypeSupplementaryData},
		Limit:        page.Limit,
		Offset:       page.Offset,
	})
	if err != nil {
		return nil, err
	}
	if err := s.markReExportable(ctx, records...); err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.ImportRecord{}
	}
	return &models.Page[*models.ImportRecord]{
		Items:  records,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}, nil
}

func (s *dataImportService) Get(ctx context.Context, id int64) (*models.ImportRecord, error) {
	rec, err := s.deps.Imports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.markReExportable(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *dataImportService) LatestForUser(ctx context.Context, user string, importType models.ImportType) (*models.ImportRecord, error) {
	return s.deps.Imports.LatestForUser(ctx, user, importType)
}

// markReExportable flags the latest completed import of each scope for the
// types that can be sent on to OPS.
func (s *dataImportService) markReExportable(ctx context.Context, records ...*models.ImportRecord) error {
	var types []models.ImportType
	for _, t := range models.AllImportTypes() {
		if t.Info().CanSendToOPS {
			types = append(types, t)
		}
	}

	needed := false
	for _, rec := range records {
		if rec.ImportType.Info().CanSendToOPS {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	latest, err := s.deps.Imports.LatestCompletedIDs(ctx, types)
	if err != nil {
		return err
	}
	for _, rec := range records {
		rec.CanReExport = rec.ImportType.Info().CanSendToOPS && latest[rec.ID]
	}
	return nil
}

func (s *dataImportService) LatestErrorFile(ctx context.Context, user string, importType models.ImportType) (*models.StoredFile, error) {
	rec, err := s.deps.Imports.LatestForUser(ctx, user, importType)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.ErrNotFound
	}
	f, err := s.deps.Files.ErrorFileForImport(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperrors.ErrNotFound
	}
	return f, nil
}

func (s *dataImportService) ListFiles(ctx context.Context, filter models.FileFilter) ([]*models.StoredFile, error) {
	files, err := s.deps.Files.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []*models.StoredFile{}
	}
	return files, nil
}

func (s *dataImportService) GetFile(ctx context.Context, id int64) (*models.StoredFile, error) {
	return s.deps.Files.GetByID(ctx, id)
}

func (s *dataImportService) Delete(ctx context.Context, id int64) error {
	if err := s.deps.Imports.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted import", zap.Int64("import_id", id))
	return nil
}

func (s *dataImportService) Purge(ctx context.Context, importType models.ImportType, year, period int) (*PurgeResult, error) {
	if !importType.IsValid() {
		return nil, fmt.Errorf("%w: unknown import type %q", apperrors.ErrInvalidFieldFormat, importType)
	}

	tx := s.deps.Transactor
	if err := tx.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin purge: %w", err)
	}

	result, err := s.purge(ctx, importType, year, period)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purge: %w", err)
	}

	s.logger.Info("Purged import scope",
		zap.String("import_type", string(importType)),
		zap.Int("year", year),
		zap.Int("period", period),
		zap.Int64("imports_deleted", result.ImportsDeleted))
	return result, nil
}

func (s *dataImportService) purge(ctx context.Context, importType models.ImportType, year, period int) (*PurgeResult, error) {
	if err := s.purgeFacts(ctx, importType, year, period); err != nil {
		return nil, err
	}
	n, err := s.deps.Imports.DeleteByScope(ctx, importType, year, period, 0)
	if err != nil {
		return nil, err
	}
	return &PurgeResult{ImportsDeleted: n}, nil
}

func (s *dataImportService) purgeFacts(ctx context.Context, importType models.ImportType, year, period int) error {
	var err error
	switch importType {
	case models.ImportTypeOccupancyReport:
		err = s.deps.Occupancy.DeleteYear(ctx, year)
	case models.ImportTypeFundingSummary:
		_, err = s.deps.FundingSummary.DeleteScope(ctx, year, period)
	case models.ImportTypeSupplementaryData:
		_, err = s.deps.SupplementaryData.DeleteScope(ctx, year, period)
	case models.ImportTypeProviderAllocation:
		_, err = s.deps.ProviderAllocation.DeleteYear(ctx, year)
	case models.ImportTypeILRCodeValues:
		_, err = s.deps.ReferenceData.DeleteMappingsForYear(ctx, year)
	case models.ImportTypeDataValidationIssues, models.ImportTypeGLAFSR, models.ImportTypeGLAOCC:
		suffix := (&models.ImportRecord{AcademicYear: &year, Period: &period}).FileSuffix()
		_, err = s.deps.Files.DeleteByTypeAndSuffix(ctx, importType.Description(), suffix)
	}
	if err != nil {
		return fmt.Errorf("failed to purge %s facts: %w", importType.Description(), err)
	}
	return nil
}

// ExpectedPeriods lists every (year, period) from from to to inclusive,
// stepping through periods 1 to 14 of each academic year.
func ExpectedPeriods(from, to models.YearPeriod) []models.YearPeriod {
	var out []models.YearPeriod
	cur := from
	if cur.Period < minPeriod {
		cur.Period = minPeriod
	}
	for cur.Year < to.Year || (cur.Year == to.Year && cur.Period <= to.Period) {
		out = append(out, cur)
		cur.Period++
		if cur.Period > maxPeriod {
			cur.Year++
			cur.Period = minPeriod
		}
	}
	return out
}
