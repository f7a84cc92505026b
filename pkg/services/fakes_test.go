package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/repositories"
)

// ============================================================================
// Transactor
// ============================================================================

// fakeTransactor records the transaction calls made by the orchestrator.
type fakeTransactor struct {
	mu        sync.Mutex
	events    []string
	commitErr error
	open      bool
}

func (f *fakeTransactor) Begin(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.events = append(f.events, "begin")
	f.open = true
	return nil
}

func (f *fakeTransactor) Commit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.events = append(f.events, "commit")
	f.open = false
	if f.commitErr != nil {
		err := f.commitErr
		f.commitErr = nil
		return err
	}
	return nil
}

func (f *fakeTransactor) Rollback(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.events = append(f.events, "rollback")
	f.open = false
	return nil
}

func (f *fakeTransactor) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.events...)
}

// ============================================================================
// DataImportRepository
// ============================================================================

type fakeImportRepo struct {
	mu       sync.Mutex
	records  map[int64]*models.ImportRecord
	nextID   int64
	progress [][2]int
	scopes   []string

	finalizeErr error
}

var _ repositories.DataImportRepository = (*fakeImportRepo)(nil)

func newFakeImportRepo() *fakeImportRepo {
	return &fakeImportRepo{records: make(map[int64]*models.ImportRecord)}
}

func (f *fakeImportRepo) Create(ctx context.Context, rec *models.ImportRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = f.nextID
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeImportRepo) GetByID(ctx context.Context, id int64) (*models.ImportRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeImportRepo) UpdateStatus(ctx context.Context, id int64, status models.ImportStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (f *fakeImportRepo) UpdateProgress(ctx context.Context, id int64, rowsProcessed, rowsRejected int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, [2]int{rowsProcessed, rowsRejected})
	if rec, ok := f.records[id]; ok {
		rec.RowsProcessed = rowsProcessed
		rec.RowsRejected = rowsRejected
	}
	return nil
}

func (f *fakeImportRepo) Finalize(ctx context.Context, rec *models.ImportRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	stored, ok := f.records[rec.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	stored.Status = rec.Status
	stored.RowsProcessed = rec.RowsProcessed
	stored.RowsRejected = rec.RowsRejected
	stored.ErrorMessages = append([]string{}, rec.ErrorMessages...)
	return nil
}

func (f *fakeImportRepo) List(ctx context.Context, filter models.ImportFilter) ([]*models.ImportRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ImportRecord
	for _, rec := range f.records {
		excluded := false
		for _, t := range filter.ExcludeTypes {
			if rec.ImportType == t {
				excluded = true
			}
		}
		if excluded {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (f *fakeImportRepo) LatestForUser(ctx context.Context, user string, importType models.ImportType) (*models.ImportRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.ImportRecord
	for _, rec := range f.records {
		if rec.CreatedBy == user && rec.ImportType == importType && (latest == nil || rec.ID > latest.ID) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeImportRepo) LatestCompletedIDs(ctx context.Context, types []models.ImportType) (map[int64]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[models.ImportType]bool)
	for _, t := range types {
		wanted[t] = true
	}
	newest := make(map[string]int64)
	for _, rec := range f.records {
		if rec.Status != models.ImportStatusComplete || !wanted[rec.ImportType] {
			continue
		}
		if rec.ID > newest[rec.ScopeKey()] {
			newest[rec.ScopeKey()] = rec.ID
		}
	}
	out := make(map[int64]bool)
	for _, id := range newest {
		out[id] = true
	}
	return out, nil
}

func (f *fakeImportRepo) DeleteByScope(ctx context.Context, importType models.ImportType, year, period int, keepID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, fmt.Sprintf("%s:%d:%d", importType, year, period))
	var n int64
	for id, rec := range f.records {
		if id != keepID && rec.ImportType == importType && rec.Year() == year && rec.PeriodOrZero() == period {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeImportRepo) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeImportRepo) MarkExported(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	rec.LastExportDate = &at
	return nil
}

func (f *fakeImportRepo) get(id int64) *models.ImportRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeImportRepo) statusOf(id int64) models.ImportStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		return rec.Status
	}
	return ""
}

// ============================================================================
// StoredFileRepository
// ============================================================================

type fakeFileRepo struct {
	mu     sync.Mutex
	files  []*models.StoredFile
	nextID int64

	createErr error
}

var _ repositories.StoredFileRepository = (*fakeFileRepo)(nil)

func (f *fakeFileRepo) Create(ctx context.Context, file *models.StoredFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	file.ID = f.nextID
	f.files = append(f.files, file)
	return nil
}

func (f *fakeFileRepo) GetByID(ctx context.Context, id int64) (*models.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.ID == id {
			return file, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeFileRepo) List(ctx context.Context, filter models.FileFilter) ([]*models.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StoredFile
	for _, file := range f.files {
		if filter.FileType != "" && file.FileType != filter.FileType {
			continue
		}
		if filter.UKPRN != nil && (file.UKPRN == nil || *file.UKPRN != *filter.UKPRN) {
			continue
		}
		out = append(out, file)
	}
	return out, nil
}

func (f *fakeFileRepo) ErrorFileForImport(ctx context.Context, importID int64) (*models.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.files) - 1; i >= 0; i-- {
		file := f.files[i]
		if file.FileType == models.ErrorFileType && file.DataImportID == importID {
			return file, nil
		}
	}
	return nil, nil
}

func (f *fakeFileRepo) DeleteByTypeAndSuffix(ctx context.Context, fileType, suffix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.files[:0]
	var n int64
	for _, file := range f.files {
		if file.FileType == fileType && file.FileSuffix == suffix {
			n++
			continue
		}
		kept = append(kept, file)
	}
	f.files = kept
	return n, nil
}

func (f *fakeFileRepo) byType(fileType string) []*models.StoredFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StoredFile
	for _, file := range f.files {
		if file.FileType == fileType {
			out = append(out, file)
		}
	}
	return out
}

// ============================================================================
// OccupancyRepository
// ============================================================================

type fakeOccupancyRepo struct {
	mu         sync.Mutex
	providers  map[string]*models.Provider
	aims       map[string]*models.LearningAim
	learners   map[string]*models.Learner
	deliveries map[string]*models.LearningDelivery
	earnings   []*models.EarningPeriod
	deletes    []int

	// periodsWithLearners answers LearnersExistForYearAndPeriod.
	periodsWithLearners map[[2]int]bool
	// failEarningsAfter makes SaveEarningPeriods fail once it has succeeded this many times.
	failEarningsAfter int
	earningsCalls     int
	// afterEarnings runs after each successful SaveEarningPeriods call.
	afterEarnings func(calls int)
}

var _ repositories.OccupancyRepository = (*fakeOccupancyRepo)(nil)

func newFakeOccupancyRepo() *fakeOccupancyRepo {
	return &fakeOccupancyRepo{
		providers:           make(map[string]*models.Provider),
		aims:                make(map[string]*models.LearningAim),
		learners:            make(map[string]*models.Learner),
		deliveries:          make(map[string]*models.LearningDelivery),
		periodsWithLearners: make(map[[2]int]bool),
	}
}

func learnerKey(ukprn int, lrn string, year int) string {
	return fmt.Sprintf("%d/%s/%d", ukprn, lrn, year)
}

func (f *fakeOccupancyRepo) DeleteYear(ctx context.Context, year int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.deletes = append(f.deletes, year)
	for k, p := range f.providers {
		if p.Year == year {
			delete(f.providers, k)
		}
	}
	for k, l := range f.learners {
		if l.Year == year {
			delete(f.learners, k)
		}
	}
	for k, d := range f.deliveries {
		if d.Year == year {
			delete(f.deliveries, k)
		}
	}
	kept := f.earnings[:0]
	for _, e := range f.earnings {
		if e.Year != year {
			kept = append(kept, e)
		}
	}
	f.earnings = kept
	return nil
}

func (f *fakeOccupancyRepo) EnsureProvider(ctx context.Context, p *models.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := fmt.Sprintf("%d/%d", p.Year, p.UKPRN)
	if _, ok := f.providers[k]; !ok {
		f.providers[k] = p
	}
	return nil
}

func (f *fakeOccupancyRepo) EnsureLearningAim(ctx context.Context, a *models.LearningAim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := fmt.Sprintf("%s/%d", a.AimReference, a.Year)
	if _, ok := f.aims[k]; !ok {
		f.aims[k] = a
	}
	return nil
}

func (f *fakeOccupancyRepo) EnsureLearner(ctx context.Context, l *models.Learner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := learnerKey(l.UKPRN, l.LearnerReferenceNumber, l.Year)
	if _, ok := f.learners[k]; !ok {
		f.learners[k] = l
	}
	return nil
}

func (f *fakeOccupancyRepo) UpsertDelivery(ctx context.Context, d *models.LearningDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[fmt.Sprintf("%d/%s/%d/%d", d.UKPRN, d.LearnerReferenceNumber, d.AimSequenceNumber, d.Year)] = d
	return nil
}

func (f *fakeOccupancyRepo) SaveEarningPeriods(ctx context.Context, periods []*models.EarningPeriod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEarningsAfter > 0 && f.earningsCalls >= f.failEarningsAfter {
		return fmt.Errorf("connection reset by peer")
	}
	f.earningsCalls++
	f.earnings = append(f.earnings, periods...)
	if f.afterEarnings != nil {
		f.afterEarnings(f.earningsCalls)
	}
	return nil
}

func (f *fakeOccupancyRepo) LearnersExistForYearAndPeriod(ctx context.Context, year, period int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.periodsWithLearners[[2]int{year, period}], nil
}

func (f *fakeOccupancyRepo) LearnerExists(ctx context.Context, ukprn int, lrn string, year int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.learners {
		if l.UKPRN == ukprn && l.LearnerReferenceNumber == lrn && l.Year <= year {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOccupancyRepo) DeliveryExists(ctx context.Context, ukprn int, lrn string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deliveries {
		if d.UKPRN == ukprn && d.LearnerReferenceNumber == lrn {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOccupancyRepo) ListLearners(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.Learner], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []*models.Learner{}
	for _, l := range f.learners {
		items = append(items, l)
	}
	return &models.Page[*models.Learner]{Items: items, Total: len(items), Limit: page.Limit, Offset: page.Offset}, nil
}

func (f *fakeOccupancyRepo) ListDeliveries(ctx context.Context, filter models.LearnerFilter, page models.PageRequest) (*models.Page[*models.LearningDelivery], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []*models.LearningDelivery{}
	for _, d := range f.deliveries {
		items = append(items, d)
	}
	return &models.Page[*models.LearningDelivery]{Items: items, Total: len(items), Limit: page.Limit, Offset: page.Offset}, nil
}

func (f *fakeOccupancyRepo) DistinctYears(ctx context.Context) ([]int, error) {
	return []int{2020, 2021}, nil
}

func (f *fakeOccupancyRepo) DistinctPeriods(ctx context.Context, year int) ([]int, error) {
	return []int{1, 2}, nil
}

func (f *fakeOccupancyRepo) addLearnerWithDelivery(ukprn int, lrn string, year int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.learners[learnerKey(ukprn, lrn, year)] = &models.Learner{UKPRN: ukprn, LearnerReferenceNumber: lrn, Year: year}
	f.deliveries[fmt.Sprintf("%d/%s/1/%d", ukprn, lrn, year)] = &models.LearningDelivery{
		UKPRN: ukprn, LearnerReferenceNumber: lrn, AimSequenceNumber: 1, Year: year,
	}
}

// ============================================================================
// Fact repositories
// ============================================================================

type fakeFundingSummaryRepo struct {
	mu      sync.Mutex
	records []*models.FundingSummaryRecord
	deletes [][2]int
	copies  int
}

var _ repositories.FundingSummaryRepository = (*fakeFundingSummaryRepo)(nil)

func (f *fakeFundingSummaryRepo) DeleteScope(ctx context.Context, year, period int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, [2]int{year, period})
	kept := f.records[:0]
	var n int64
	for _, r := range f.records {
		if r.AcademicYear == year && r.Period == period {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return n, nil
}

func (f *fakeFundingSummaryRepo) CopyRecords(ctx context.Context, records []*models.FundingSummaryRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	f.records = append(f.records, records...)
	return int64(len(records)), nil
}

func (f *fakeFundingSummaryRepo) List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.FundingSummaryRecord], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.Page[*models.FundingSummaryRecord]{Items: f.records, Total: len(f.records), Limit: page.Limit}, nil
}

func (f *fakeFundingSummaryRepo) ListScope(ctx context.Context, year, period int) ([]*models.FundingSummaryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.FundingSummaryRecord{}
	for _, r := range f.records {
		if r.AcademicYear == year && r.Period == period {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFundingSummaryRepo) DistinctYears(ctx context.Context) ([]int, error) {
	return []int{2020}, nil
}

func (f *fakeFundingSummaryRepo) DistinctPeriods(ctx context.Context, year int) ([]int, error) {
	return []int{3}, nil
}

type fakeSupplementaryRepo struct {
	mu            sync.Mutex
	rows          map[string]*models.SupplementaryData
	providerWipes [][]int
	scopeDeletes  [][2]int
}

var _ repositories.SupplementaryDataRepository = (*fakeSupplementaryRepo)(nil)

func newFakeSupplementaryRepo() *fakeSupplementaryRepo {
	return &fakeSupplementaryRepo{rows: make(map[string]*models.SupplementaryData)}
}

func (f *fakeSupplementaryRepo) DeleteForProviders(ctx context.Context, year int, ukprns []int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providerWipes = append(f.providerWipes, append([]int{}, ukprns...))
	var n int64
	for k, sd := range f.rows {
		for _, u := range ukprns {
			if sd.Year == year && sd.UKPRN == u {
				delete(f.rows, k)
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeSupplementaryRepo) DeleteScope(ctx context.Context, year, period int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopeDeletes = append(f.scopeDeletes, [2]int{year, period})
	return 0, nil
}

func (f *fakeSupplementaryRepo) Upsert(ctx context.Context, sd *models.SupplementaryData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[learnerKey(sd.UKPRN, sd.LearnerReferenceNumber, sd.Year)] = sd
	return nil
}

func (f *fakeSupplementaryRepo) List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.SupplementaryData], error) {
	return &models.Page[*models.SupplementaryData]{Items: []*models.SupplementaryData{}, Limit: page.Limit}, nil
}

func (f *fakeSupplementaryRepo) DistinctYears(ctx context.Context) ([]int, error) {
	return []int{2019}, nil
}

type fakeAllocationRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.ProviderAllocation
	deletes []int
}

var _ repositories.ProviderAllocationRepository = (*fakeAllocationRepo)(nil)

func newFakeAllocationRepo() *fakeAllocationRepo {
	return &fakeAllocationRepo{rows: make(map[string]*models.ProviderAllocation)}
}

func (f *fakeAllocationRepo) DeleteYear(ctx context.Context, year int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, year)
	var n int64
	for k, a := range f.rows {
		if a.Year == year {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeAllocationRepo) Upsert(ctx context.Context, a *models.ProviderAllocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[fmt.Sprintf("%d/%d/%s/%s", a.Year, a.UKPRN, a.OPSProjectType, a.AllocationType)] = a
	return nil
}

func (f *fakeAllocationRepo) List(ctx context.Context, filter models.FactFilter, page models.PageRequest) (*models.Page[*models.ProviderAllocation], error) {
	return &models.Page[*models.ProviderAllocation]{Items: []*models.ProviderAllocation{}, Limit: page.Limit}, nil
}

func (f *fakeAllocationRepo) DistinctYears(ctx context.Context) ([]int, error) {
	return []int{2021}, nil
}

type fakeReferenceRepo struct {
	mu             sync.Mutex
	mappings       map[string]*models.RefDataMapping
	categories     map[string]*models.HealthProblemCategory
	mappingDeletes []int
}

var _ repositories.ReferenceDataRepository = (*fakeReferenceRepo)(nil)

func newFakeReferenceRepo() *fakeReferenceRepo {
	return &fakeReferenceRepo{
		mappings:   make(map[string]*models.RefDataMapping),
		categories: make(map[string]*models.HealthProblemCategory),
	}
}

func (f *fakeReferenceRepo) DeleteMappingsForYear(ctx context.Context, year int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappingDeletes = append(f.mappingDeletes, year)
	var n int64
	for k, m := range f.mappings {
		if m.Year == year {
			delete(f.mappings, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeReferenceRepo) UpsertMapping(ctx context.Context, m *models.RefDataMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappings[fmt.Sprintf("%d/%s/%s", m.Year, m.Attribute, m.Code)] = m
	return nil
}

func (f *fakeReferenceRepo) ListMappings(ctx context.Context, filter models.FactFilter) ([]*models.RefDataMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.RefDataMapping{}
	for _, m := range f.mappings {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeReferenceRepo) UpsertHealthProblemCategory(ctx context.Context, c *models.HealthProblemCategory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[c.Code] = c
	return nil
}

func (f *fakeReferenceRepo) ListHealthProblemCategories(ctx context.Context) ([]*models.HealthProblemCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.HealthProblemCategory{}
	for _, c := range f.categories {
		out = append(out, c)
	}
	return out, nil
}
