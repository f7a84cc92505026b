package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/services"
	"github.com/gla-ilr/ilr-engine/pkg/services/workqueue"
)

// passthroughScope stands in for database.WithScope.
func passthroughScope(next http.HandlerFunc) http.HandlerFunc {
	return next
}

type mockUploadHandler struct {
	result *models.UploadResult
	err    error

	got     services.UploadRequest
	content string
}

func (m *mockUploadHandler) Upload(ctx context.Context, req services.UploadRequest) (*models.UploadResult, error) {
	return m.UploadAsync(ctx, req)
}

func (m *mockUploadHandler) UploadAsync(ctx context.Context, req services.UploadRequest) (*models.UploadResult, error) {
	m.got = req
	if req.Content != nil {
		b, _ := io.ReadAll(req.Content)
		m.content = string(b)
	}
	return m.result, m.err
}

type mockDataImportService struct {
	page       *models.Page[*models.ImportRecord]
	record     *models.ImportRecord
	errorFile  *models.StoredFile
	files      []*models.StoredFile
	file       *models.StoredFile
	purge      *services.PurgeResult
	err        error
	gotPage    models.PageRequest
	gotID      int64
	gotUser    string
	gotType    models.ImportType
	gotFilter  models.FileFilter
	gotPurge   []int
	deletedIDs []int64
}

func (m *mockDataImportService) List(ctx context.Context, page models.PageRequest) (*models.Page[*models.ImportRecord], error) {
	m.gotPage = page
	return m.page, m.err
}

func (m *mockDataImportService) Get(ctx context.Context, id int64) (*models.ImportRecord, error) {
	m.gotID = id
	if m.err != nil {
		return nil, m.err
	}
	if m.record == nil || m.record.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return m.record, nil
}

func (m *mockDataImportService) LatestForUser(ctx context.Context, user string, importType models.ImportType) (*models.ImportRecord, error) {
	m.gotUser, m.gotType = user, importType
	return m.record, m.err
}

func (m *mockDataImportService) LatestErrorFile(ctx context.Context, user string, importType models.ImportType) (*models.StoredFile, error) {
	m.gotUser, m.gotType = user, importType
	if m.errorFile == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.errorFile, nil
}

func (m *mockDataImportService) ListFiles(ctx context.Context, filter models.FileFilter) ([]*models.StoredFile, error) {
	m.gotFilter = filter
	return m.files, m.err
}

func (m *mockDataImportService) GetFile(ctx context.Context, id int64) (*models.StoredFile, error) {
	m.gotID = id
	if m.file == nil || m.file.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return m.file, nil
}

func (m *mockDataImportService) Delete(ctx context.Context, id int64) error {
	if m.err != nil {
		return m.err
	}
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *mockDataImportService) Purge(ctx context.Context, importType models.ImportType, year, period int) (*services.PurgeResult, error) {
	m.gotType = importType
	m.gotPurge = []int{year, period}
	return m.purge, m.err
}

type mockReportingService struct {
	learners   *models.Page[*models.Learner]
	deliveries *models.Page[*models.LearningDelivery]
	funding    *models.Page[*models.FundingSummaryRecord]
	years      []int
	periods    []int
	exists     bool
	err        error

	gotLearnerFilter models.LearnerFilter
	gotFactFilter    models.FactFilter
	gotPage          models.PageRequest
	gotTable         services.FactTable
	gotYear          int
	gotPeriod        int
}

func (m *mockReportingService) Learners(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.Learner], error) {
	m.gotLearnerFilter, m.gotPage = filter, page
	return m.learners, m.err
}

func (m *mockReportingService) Deliveries(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.LearningDelivery], error) {
	m.gotLearnerFilter, m.gotPage = filter, page
	return m.deliveries, m.err
}

func (m *mockReportingService) FundingSummary(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.FundingSummaryRecord], error) {
	m.gotFactFilter, m.gotPage = filter, page
	return m.funding, m.err
}

func (m *mockReportingService) SupplementaryData(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.SupplementaryData], error) {
	m.gotFactFilter, m.gotPage = filter, page
	return &models.Page[*models.SupplementaryData]{Items: []*models.SupplementaryData{}}, m.err
}

func (m *mockReportingService) ProviderAllocations(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.ProviderAllocation], error) {
	m.gotFactFilter, m.gotPage = filter, page
	return &models.Page[*models.ProviderAllocation]{Items: []*models.ProviderAllocation{}}, m.err
}

func (m *mockReportingService) RefDataMappings(ctx context.Context, filter models.FactFilter) ([]*models.RefDataMapping, error) {
	m.gotFactFilter = filter
	return []*models.RefDataMapping{}, m.err
}

func (m *mockReportingService) HealthProblemCategories(ctx context.Context) ([]*models.HealthProblemCategory, error) {
	return []*models.HealthProblemCategory{{Code: "4", Description: "Visual impairment"}}, m.err
}

func (m *mockReportingService) Years(ctx context.Context, table services.FactTable) ([]int, error) {
	m.gotTable = table
	return m.years, m.err
}

func (m *mockReportingService) Periods(ctx context.Context, table services.FactTable, year int) ([]int, error) {
	m.gotTable, m.gotYear = table, year
	return m.periods, m.err
}

func (m *mockReportingService) RecordsExistForYearAndPeriod(ctx context.Context, year, period int) (bool, error) {
	m.gotYear, m.gotPeriod = year, period
	return m.exists, m.err
}

type mockTaskLister struct {
	tasks []workqueue.TaskSnapshot
}

func (m *mockTaskLister) GetTasks() []workqueue.TaskSnapshot {
	return m.tasks
}

func (m *mockTaskLister) GetTask(id string) (workqueue.TaskSnapshot, bool) {
	for _, t := range m.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return workqueue.TaskSnapshot{}, false
}

func (m *mockTaskLister) Progress() workqueue.Progress {
	return workqueue.Progress{Total: len(m.tasks), Running: len(m.tasks)}
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

type mockTaskCounter int

func (m mockTaskCounter) TaskCount() int {
	return int(m)
}

type mockOpsExportService struct {
	result *services.OpsExportResult
	err    error
	gotID  int64
}

func (m *mockOpsExportService) Export(ctx context.Context, importID int64) (*services.OpsExportResult, error) {
	m.gotID = importID
	return m.result, m.err
}
