package models

import (
	"fmt"
	"time"
)

// ImportStatus tracks an upload through its lifecycle.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "PENDING"
	ImportStatusProcessing ImportStatus = "PROCESSING"
	ImportStatusComplete   ImportStatus = "COMPLETE"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// SystemUser is stamped on imports that have no submitting user.
const SystemUser = "SYSTEM"

// IsTerminal reports whether no further transitions are possible.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusComplete || s == ImportStatusFailed
}

// ImportRecord is one uploaded file. Stored in ilr_data_import.
type ImportRecord struct {
	ID            int64        `json:"id"`
	FileName      string       `json:"file_name"`
	ImportType    ImportType   `json:"import_type"`
	Status        ImportStatus `json:"status"`
	AcademicYear  *int         `json:"academic_year,omitempty"`
	Period        *int         `json:"period,omitempty"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	RowsProcessed int          `json:"rows_processed"`
	RowsRejected  int          `json:"rows_rejected"`
	ErrorMessages []string     `json:"error_messages,omitempty"`
	// LastExportDate is when the import's facts were last pushed to OPS.
	LastExportDate *time.Time `json:"last_export_date,omitempty"`

	// CanReExport is derived at read time, never stored.
	CanReExport bool `json:"can_re_export"`
}

// Year returns the academic year or zero when the file carried none.
func (r *ImportRecord) Year() int {
	if r.AcademicYear == nil {
		return 0
	}
	return *r.AcademicYear
}

// PeriodOrZero returns the period or zero when the file carried none.
func (r *ImportRecord) PeriodOrZero() int {
	if r.Period == nil {
		return 0
	}
	return *r.Period
}

// FileSuffix is the "YYYY MM" tag used to label files derived from this import.
func (r *ImportRecord) FileSuffix() string {
	if r.AcademicYear == nil || r.Period == nil {
		return ""
	}
	return fmt.Sprintf("%04d %02d", *r.AcademicYear, *r.Period)
}

// ScopeKey groups imports that replace each other.
func (r *ImportRecord) ScopeKey() string {
	return fmt.Sprintf("%s:%d:%d", r.ImportType, r.Year(), r.PeriodOrZero())
}

// ImportFilter narrows import listings.
type ImportFilter struct {
	ImportType   *ImportType
	ExcludeTypes []ImportType
	CreatedBy    string
	AcademicYear *int
	Period       *int
	Limit        int
	Offset       int
}
