package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/ops"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// FundingSummaryPusher sends funding summary lines to OPS. *ops.Client satisfies it.
type FundingSummaryPusher interface {
	PushFundingSummary(ctx context.Context, year, period int, records []ops.FundingRecord) error
}

// OpsExportService re-exports imported funding summaries to OPS.
type OpsExportService interface {
	// Export pushes the funding summary facts of the import's year and
	// period. Only the latest completed import of a scope can be exported.
	Export(ctx context.Context, importID int64) (*OpsExportResult, error)
}

// OpsExportResult reports an export. ExportedAt is nil when the scope held
// no records and nothing was sent.
type OpsExportResult struct {
	ImportID    int64      `json:"import_id"`
	RecordsSent int        `json:"records_sent"`
	ExportedAt  *time.Time `json:"exported_at,omitempty"`
}

// OpsExportServiceDeps wires an OpsExportService. A nil Pusher disables exports.
type OpsExportServiceDeps struct {
	Imports        repositories.DataImportRepository
	FundingSummary repositories.FundingSummaryRepository
	Pusher         FundingSummaryPusher
	Logger         *zap.Logger
	Now            func() time.Time
}

type opsExportService struct {
	deps   OpsExportServiceDeps
	logger *zap.Logger
}

// NewOpsExportService creates an OpsExportService.
func NewOpsExportService(deps OpsExportServiceDeps) OpsExportService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &opsExportService{
		deps:   deps,
		logger: deps.Logger.Named("ops-export"),
	}
}

var _ OpsExportService = (*opsExportService)(nil)

func (s *opsExportService) Export(ctx context.Context, importID int64) (*OpsExportResult, error) {
	rec, err := s.deps.Imports.GetByID(ctx, importID)
	if err != nil {
		return nil, err
	}
	if !rec.ImportType.Info().CanSendToOPS {
		return nil, fmt.Errorf("%w: %s imports are not sent to OPS", apperrors.ErrConflict, rec.ImportType.Description())
	}

	latest, err := s.deps.Imports.LatestCompletedIDs(ctx, []models.ImportType{rec.ImportType})
	if err != nil {
		return nil, err
	}
	if !latest[rec.ID] {
		return nil, fmt.Errorf("%w: only the latest completed import of %s can be exported", apperrors.ErrConflict, rec.FileSuffix())
	}

	if s.deps.Pusher == nil {
		return nil, apperrors.ErrExportDisabled
	}

	stored, err := s.deps.FundingSummary.ListScope(ctx, rec.Year(), rec.PeriodOrZero())
	if err != nil {
		return nil, err
	}
	result := &OpsExportResult{ImportID: rec.ID}
	if len(stored) == 0 {
		s.logger.Info("No funding summary records to export",
			zap.Int64("import_id", rec.ID),
			zap.String("scope", rec.ScopeKey()))
		return result, nil
	}

	records := ops.NewFundingRecords(stored)
	if err := s.deps.Pusher.PushFundingSummary(ctx, rec.Year(), rec.PeriodOrZero(), records); err != nil {
		var opsErr *ops.Error
		if errors.As(err, &opsErr) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUpstream, opsErr.Description)
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstream, err)
	}

	at := s.deps.Now()
	if err := s.deps.Imports.MarkExported(ctx, rec.ID, at); err != nil {
		return nil, fmt.Errorf("failed to record export: %w", err)
	}

	result.RecordsSent = len(records)
	result.ExportedAt = &at
	s.logger.Info("Exported funding summary to OPS",
		zap.Int64("import_id", rec.ID),
		zap.String("scope", rec.ScopeKey()),
		zap.Int("records", len(records)))
	return result, nil
}
