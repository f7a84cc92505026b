package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/config"
	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
	"github.com/gla-ilr/ilr-engine/pkg/database"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
	"github.com/gla-ilr/ilr-engine/pkg/retry"
	"github.com/gla-ilr/ilr-engine/pkg/services/workqueue"
)

// UploadRequest is one file submitted for import.
type UploadRequest struct {
	FileName string
	Content  io.Reader
	// Size is the declared content length. Zero means unknown and is always
	// processed synchronously.
	Size int64
	// ImportType is optional. When set the filename must classify to it.
	ImportType models.ImportType
	User       string
}

// UploadHandler runs the import saga for uploaded files.
type UploadHandler interface {
	// Upload imports the file before returning.
	Upload(ctx context.Context, req UploadRequest) (*models.UploadResult, error)
	// UploadAsync queues files above the configured size threshold and
	// returns at once; smaller files are imported synchronously.
	UploadAsync(ctx context.Context, req UploadRequest) (*models.UploadResult, error)
}

// UploadHandlerDeps wires an UploadHandler.
type UploadHandlerDeps struct {
	Imports    repositories.DataImportRepository
	Files      repositories.StoredFileRepository
	Importers  map[models.ImportType]Importer
	Validator  *ColumnValidator
	Transactor database.Transactor
	Queue      *workqueue.Queue
	GetScope   ScopeContextFunc
	Config     config.ImportsConfig
	Logger     *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type uploadHandler struct {
	imports    repositories.DataImportRepository
	files      repositories.StoredFileRepository
	importers  map[models.ImportType]Importer
	validator  *ColumnValidator
	tx         database.Transactor
	queue      *workqueue.Queue
	getScope   ScopeContextFunc
	cfg        config.ImportsConfig
	logger     *zap.Logger
	now        func() time.Time
	finalRetry *retry.Config
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(deps UploadHandlerDeps) UploadHandler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	tx := deps.Transactor
	if tx == nil {
		tx = database.ContextTransactor{}
	}
	return &uploadHandler{
		imports:    deps.Imports,
		files:      deps.Files,
		importers:  deps.Importers,
		validator:  deps.Validator,
		tx:         tx,
		queue:      deps.Queue,
		getScope:   deps.GetScope,
		cfg:        deps.Config,
		logger:     deps.Logger.Named("upload"),
		now:        now,
		finalRetry: retry.DefaultConfig(),
	}
}

var _ UploadHandler = (*uploadHandler)(nil)

func (h *uploadHandler) Upload(ctx context.Context, req UploadRequest) (*models.UploadResult, error) {
	rec, err := h.createRecord(ctx, req, models.ImportStatusProcessing)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, rec, req.Content), nil
}

func (h *uploadHandler) UploadAsync(ctx context.Context, req UploadRequest) (*models.UploadResult, error) {
	if h.queue == nil || h.getScope == nil || req.Size <= h.cfg.AsyncThresholdBytes {
		return h.Upload(ctx, req)
	}

	content, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}

	rec, err := h.createRecord(ctx, req, models.ImportStatusPending)
	if err != nil {
		return nil, err
	}

	task := &uploadTask{
		BaseTask: workqueue.NewBaseTask("import " + rec.FileName),
		handler:  h,
		record:   rec,
		content:  content,
	}

	// The worker owns rec once it is enqueued.
	result := &models.UploadResult{
		ImportID:      rec.ID,
		Status:        rec.Status,
		ErrorMessages: []string{},
		Async:         true,
		TaskID:        task.ID(),
	}

	h.logger.Info("Upload queued",
		zap.Int64("import_id", rec.ID),
		zap.String("task_id", task.ID()),
		zap.String("file_name", rec.FileName),
		zap.Int64("size", req.Size))

	h.queue.Enqueue(task)

	return result, nil
}

// createRecord classifies the filename and persists the import record outside
// any transaction so it stays visible whatever happens next.
func (h *uploadHandler) createRecord(ctx context.Context, req UploadRequest, status models.ImportStatus) (*models.ImportRecord, error) {
	name := filepath.Base(strings.TrimSpace(req.FileName))

	var (
		c   *models.Classification
		err error
	)
	if req.ImportType != "" {
		c, err = ValidateFilenameForType(name, req.ImportType)
	} else {
		c, err = ClassifyFilename(name)
	}
	if err != nil {
		h.logger.Info("Upload rejected by filename",
			zap.String("file_name", name),
			zap.Error(err))
		return nil, err
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		user = models.SystemUser
	}

	rec := &models.ImportRecord{
		FileName:     name,
		ImportType:   c.ImportType,
		Status:       status,
		AcademicYear: c.AcademicYear,
		Period:       c.Period,
		CreatedBy:    user,
	}
	if err := h.imports.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create import record: %w", err)
	}
	return rec, nil
}

// settleTimeout bounds the work that records the outcome of an import once
// the caller's context may already be gone.
const settleTimeout = 15 * time.Second

// importRun is the mutable state of one pass over a file.
type importRun struct {
	rec       *models.ImportRecord
	headers   []string
	collector *ErrorCollector
	importer  Importer
	session   *ImportSession
	accepted  int
	rows      int
	// committed is set once a checkpoint has made part of the import durable.
	committed bool
	inTx      bool
}

// run imports content for rec and always leaves rec in a terminal state, even
// when ctx is cancelled part way through.
func (h *uploadHandler) run(ctx context.Context, rec *models.ImportRecord, content io.Reader) *models.UploadResult {
	start := h.now()
	r := &importRun{rec: rec, collector: NewErrorCollector()}

	failure := h.process(ctx, r, content)

	settleCtx, release := h.settleContext(ctx, r)
	defer release()

	if failure != nil {
		h.abort(settleCtx, r)
	}

	rec.RowsProcessed = r.accepted
	rec.RowsRejected = r.collector.Rejected()
	rec.ErrorMessages = h.messages(r, failure)
	if failure != nil {
		rec.Status = models.ImportStatusFailed
	} else {
		rec.Status = models.ImportStatusComplete
	}

	hasErrorFile := h.saveErrorFile(settleCtx, r)

	err := retry.DoIfRetryable(settleCtx, h.finalRetry, func() error {
		return h.imports.Finalize(settleCtx, rec)
	})
	if err != nil {
		h.logger.Error("Failed to finalize import record",
			zap.Int64("import_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int64("import_id", rec.ID),
		zap.String("file_name", rec.FileName),
		zap.String("import_type", string(rec.ImportType)),
		zap.String("status", string(rec.Status)),
		zap.Int("rows_processed", rec.RowsProcessed),
		zap.Int("rows_rejected", rec.RowsRejected),
		zap.Duration("elapsed", h.now().Sub(start)),
	}
	if failure != nil {
		h.logger.Warn("Import failed", append(fields, zap.Error(failure))...)
	} else {
		h.logger.Info("Import complete", fields...)
	}

	return &models.UploadResult{
		ImportID:         rec.ID,
		Status:           rec.Status,
		RecordsProcessed: rec.RowsProcessed,
		RecordsRejected:  rec.RowsRejected,
		ErrorMessages:    rec.ErrorMessages,
		HasErrorFile:     hasErrorFile,
	}
}

// settleContext returns the context used to roll back, compensate and record
// the outcome of r. It keeps the values of ctx but not its cancellation. When
// ctx was cancelled the pinned connection may have been closed mid-statement,
// so the open transaction is dropped and a fresh scope is acquired.
func (h *uploadHandler) settleContext(ctx context.Context, r *importRun) (context.Context, func()) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	if ctx.Err() == nil || h.getScope == nil {
		return settleCtx, cancel
	}

	h.logger.Warn("Import interrupted, settling on a fresh connection",
		zap.Int64("import_id", r.rec.ID),
		zap.Error(ctx.Err()))

	h.rollback(settleCtx, r)
	scoped, cleanup, err := h.getScope(settleCtx)
	if err != nil {
		h.logger.Error("Failed to acquire scope to settle import",
			zap.Int64("import_id", r.rec.ID),
			zap.Error(err))
		return settleCtx, cancel
	}
	return scoped, func() {
		cleanup()
		cancel()
	}
}

// process reads the header, validates it and streams every row through the
// importer. A non-nil return is a failure of the whole file; the caller
// rolls back and compensates.
func (h *uploadHandler) process(ctx context.Context, r *importRun, content io.Reader) error {
	rec := r.rec
	importer, ok := h.importers[rec.ImportType]
	if !ok {
		return fmt.Errorf("no importer registered for %s", rec.ImportType)
	}

	reader, err := csvfile.NewReader(content)
	if err != nil {
		return err
	}
	r.headers = reader.Headers()

	if err := h.validator.Validate(rec.ImportType, rec.Year(), rec.PeriodOrZero(), r.headers); err != nil {
		return err
	}

	if rec.ImportType.ShouldClearPreviousData() {
		removed, err := h.imports.DeleteByScope(ctx, rec.ImportType, rec.Year(), rec.PeriodOrZero(), rec.ID)
		if err != nil {
			return fmt.Errorf("failed to clear previous imports: %w", err)
		}
		if removed > 0 {
			h.logger.Info("Cleared previous imports",
				zap.Int64("import_id", rec.ID),
				zap.String("scope", rec.ScopeKey()),
				zap.Int64("removed", removed))
		}
	}

	r.importer = importer
	r.session = NewImportSession(rec, r.headers, h.now())
	if err := h.importRows(ctx, r, importer, reader, r.session); err != nil {
		return err
	}

	if rec.ImportType.Info().RequiresRows && r.accepted == 0 {
		return errNoValidRows
	}

	if err := h.tx.Commit(ctx); err != nil {
		r.inTx = false
		return fmt.Errorf("failed to commit import: %w", err)
	}
	r.inTx = false
	return nil
}

var errNoValidRows = errors.New("no valid records found")

func (h *uploadHandler) importRows(ctx context.Context, r *importRun, importer Importer, reader *csvfile.Reader, s *ImportSession) error {
	if err := h.tx.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin import transaction: %w", err)
	}
	r.inTx = true

	if err := importer.Begin(ctx, s); err != nil {
		return err
	}

	checkpointed := r.rec.ImportType.Info().Checkpointed && h.cfg.CheckpointRows > 0
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := importer.ImportRow(ctx, reader, s)
		if err != nil {
			return fmt.Errorf("row %d: %w", reader.RowNumber(), err)
		}
		if outcome.Accepted {
			r.accepted++
		} else {
			r.collector.Reject(reader.Values(), outcome.Errors)
		}
		r.rows++

		if checkpointed && r.rows%h.cfg.CheckpointRows == 0 {
			if err := h.checkpoint(ctx, r); err != nil {
				return err
			}
		}
	}
	if err := reader.Err(); err != nil {
		return err
	}

	return importer.Finish(ctx, s)
}

// checkpoint makes the rows so far durable and opens the next sub-transaction.
func (h *uploadHandler) checkpoint(ctx context.Context, r *importRun) error {
	if err := h.imports.UpdateProgress(ctx, r.rec.ID, r.accepted, r.collector.Rejected()); err != nil {
		return err
	}
	if err := h.tx.Commit(ctx); err != nil {
		r.inTx = false
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	r.inTx = false
	r.committed = true

	h.logger.Debug("Import checkpoint",
		zap.Int64("import_id", r.rec.ID),
		zap.Int("rows", r.rows))

	if err := h.tx.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin import transaction: %w", err)
	}
	r.inTx = true
	return nil
}

// abort rolls back the open sub-transaction and, when checkpoints were
// already committed, runs the importer's compensation in a fresh one.
// Failures here are logged; the import is failed either way.
func (h *uploadHandler) abort(ctx context.Context, r *importRun) {
	h.rollback(ctx, r)
	if !r.committed || r.importer == nil {
		return
	}

	err := func() error {
		if err := h.tx.Begin(ctx); err != nil {
			return err
		}
		if err := r.importer.Compensate(ctx, r.session); err != nil {
			_ = h.tx.Rollback(ctx)
			return err
		}
		return h.tx.Commit(ctx)
	}()
	if err != nil {
		h.logger.Error("Compensation failed, scope may hold partial data",
			zap.Int64("import_id", r.rec.ID),
			zap.String("scope", r.rec.ScopeKey()),
			zap.Error(err))
		return
	}
	h.logger.Info("Compensated partial import",
		zap.Int64("import_id", r.rec.ID),
		zap.String("scope", r.rec.ScopeKey()))
}

func (h *uploadHandler) rollback(ctx context.Context, r *importRun) {
	if !r.inTx {
		return
	}
	if err := h.tx.Rollback(ctx); err != nil {
		h.logger.Error("Failed to roll back import",
			zap.Int64("import_id", r.rec.ID),
			zap.Error(err))
	}
	r.inTx = false
}

// messages builds the summary list stored on the record: the reason the file
// failed, if it did, followed by the distinct row errors.
func (h *uploadHandler) messages(r *importRun, failure error) []string {
	msgs := []string{}
	if failure != nil {
		msgs = append(msgs, failureMessage(r.rec.FileName, failure))
	}
	return append(msgs, r.collector.Summary(h.cfg.MaxSummaryMessages)...)
}

func failureMessage(fileName string, err error) string {
	var (
		msgErr  *apperrors.MessageError
		colsErr *apperrors.MissingColumnsError
	)
	switch {
	case errors.As(err, &msgErr):
		return msgErr.Message
	case errors.As(err, &colsErr):
		return colsErr.Error()
	case errors.Is(err, csvfile.ErrNoHeader):
		return fmt.Sprintf("Unable to create records from file: %s due to the file being empty", fileName)
	case errors.Is(err, errNoValidRows):
		return fmt.Sprintf("No valid records found in file: %s", fileName)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, workqueue.ErrShuttingDown):
		return fmt.Sprintf("Unable to create records from file: %s due to the import being interrupted", fileName)
	}
	return fmt.Sprintf("Unable to create records from file: %s due to %s", fileName, err.Error())
}

// saveErrorFile stores the rejected rows as the import's error file and
// reports whether one was written.
func (h *uploadHandler) saveErrorFile(ctx context.Context, r *importRun) bool {
	if !r.collector.HasRejections() {
		return false
	}

	content, err := r.collector.WriteCSV(r.headers)
	if err != nil {
		h.logger.Error("Failed to render error file",
			zap.Int64("import_id", r.rec.ID),
			zap.Error(err))
		return false
	}

	f := &models.StoredFile{
		DataImportID: r.rec.ID,
		FileType:     models.ErrorFileType,
		FileName:     errorFileName(r.rec.FileName),
		FileSuffix:   r.rec.FileSuffix(),
		CreatedBy:    r.rec.CreatedBy,
		Content:      content,
	}
	if err := h.files.Create(ctx, f); err != nil {
		h.logger.Error("Failed to save error file",
			zap.Int64("import_id", r.rec.ID),
			zap.Error(err))
		return false
	}
	return true
}

func errorFileName(fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	return base + " - Errors" + csvExtension
}

// runQueued imports a buffered upload on a queue worker.
func (h *uploadHandler) runQueued(ctx context.Context, rec *models.ImportRecord, content []byte) error {
	scoped, cleanup, err := h.getScope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	if err := h.imports.UpdateStatus(scoped, rec.ID, models.ImportStatusProcessing); err != nil {
		return err
	}
	rec.Status = models.ImportStatusProcessing

	h.run(scoped, rec, bytes.NewReader(content))
	return nil
}

// failQueued records a queued upload that never ran to completion as FAILED.
func (h *uploadHandler) failQueued(ctx context.Context, rec *models.ImportRecord, cause error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	scoped, cleanup, err := h.getScope(settleCtx)
	if err != nil {
		h.logger.Error("Failed to acquire scope to fail queued import",
			zap.Int64("import_id", rec.ID),
			zap.Error(err))
		return
	}
	defer cleanup()

	rec.Status = models.ImportStatusFailed
	rec.ErrorMessages = []string{failureMessage(rec.FileName, cause)}

	err = retry.DoIfRetryable(scoped, h.finalRetry, func() error {
		return h.imports.Finalize(scoped, rec)
	})
	if err != nil {
		h.logger.Error("Failed to finalize queued import",
			zap.Int64("import_id", rec.ID),
			zap.Error(err))
		return
	}
	h.logger.Warn("Queued import abandoned",
		zap.Int64("import_id", rec.ID),
		zap.String("file_name", rec.FileName),
		zap.Error(cause))
}
