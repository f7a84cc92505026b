package models

// Classification is what a filename reveals about an upload.
type Classification struct {
	ImportType   ImportType
	AcademicYear *int
	Period       *int
}

// UploadResult is returned to the submitting caller.
type UploadResult struct {
	ImportID         int64        `json:"import_id"`
	Status           ImportStatus `json:"status"`
	RecordsProcessed int          `json:"records_processed"`
	RecordsRejected  int          `json:"records_rejected"`
	ErrorMessages    []string     `json:"error_messages"`
	HasErrorFile     bool         `json:"has_error_file"`
	Async            bool         `json:"async"`
	// TaskID identifies the background task of an async upload.
	TaskID string `json:"task_id,omitempty"`
}

// Page is one slice of a larger result set.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PageRequest carries paging parameters. Limit is clamped by repositories.
type PageRequest struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Normalize applies default and maximum limits.
func (p PageRequest) Normalize() PageRequest {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// YearPeriod is an (academic year, period) pair.
type YearPeriod struct {
	Year   int `json:"year"`
	Period int `json:"period"`
}
