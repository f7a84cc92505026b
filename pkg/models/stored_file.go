package models

import "time"

// ErrorFileType tags the per-row error report generated for an import.
const ErrorFileType = "Error File"

// StoredFile is a generated artifact kept in the database: the error report of
// an import, or one provider's slice of a split-by-UKPRN file.
type StoredFile struct {
	ID           int64     `json:"id"`
	DataImportID int64     `json:"data_import_id"`
	FileType     string    `json:"file_type"`
	FileName     string    `json:"file_name"`
	FileSuffix   string    `json:"file_suffix"`
	UKPRN        *int      `json:"ukprn,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	Content      []byte    `json:"-"`
}

// FileFilter narrows stored file listings.
type FileFilter struct {
	FileType   string
	FileSuffix string
	UKPRN      *int
	CreatedBy  string
}
