package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")

	// Export errors.
	ErrExportDisabled = errors.New("export to OPS is disabled")
	ErrUpstream       = errors.New("upstream request failed")

	// Format errors: the whole file is refused before any row is read.
	ErrNotCSV                = errors.New("File must be in CSV format, to do this save an excel file as a .CSV")
	ErrUnrecognizedFileType  = errors.New("unrecognized file type")
	ErrInvalidFilenameFormat = errors.New("invalid filename format")
	ErrMissingColumns        = errors.New("missing columns")
	ErrNotAvailableForUpload = errors.New("not available for upload")

	// Row-level errors.
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidFieldFormat   = errors.New("invalid field format")
)

// MissingColumnsError lists every expected header that was not found.
// Expected is only rendered when ListExpected is set.
type MissingColumnsError struct {
	Missing      []string
	Expected     []string
	ListExpected bool
}

func (e *MissingColumnsError) Error() string {
	msg := fmt.Sprintf("column [%s] not found in the file.", strings.Join(e.Missing, ", "))
	if e.ListExpected && len(e.Expected) > 0 {
		msg += fmt.Sprintf(" Acceptable column headings are [%s]", strings.Join(e.Expected, ", "))
	}
	return msg
}

func (e *MissingColumnsError) Unwrap() error {
	return ErrMissingColumns
}

// FieldError reports a problem with a single named cell.
type FieldError struct {
	Column string
	Value  string
	Err    error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrMissingRequiredField) {
		return fmt.Sprintf("%s must be supplied", e.Column)
	}
	return fmt.Sprintf("%s has an invalid value %q", e.Column, e.Value)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewMissingFieldError reports a blank or absent required cell.
func NewMissingFieldError(column string) *FieldError {
	return &FieldError{Column: column, Err: ErrMissingRequiredField}
}

// NewInvalidFieldError reports a cell that could not be parsed.
func NewInvalidFieldError(column, value string) *FieldError {
	return &FieldError{Column: column, Value: value, Err: ErrInvalidFieldFormat}
}

// FilenameError carries the user-facing message for a rejected filename.
type FilenameError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *FilenameError) Error() string {
	return e.Reason
}

func (e *FilenameError) Unwrap() error {
	return e.Err
}

// MessageError pairs a user-facing message with the sentinel it stands for.
type MessageError struct {
	Message string
	Err     error
}

func (e *MessageError) Error() string {
	return e.Message
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// WithMessage returns an error that reads as msg and matches err with errors.Is.
func WithMessage(err error, msg string) error {
	return &MessageError{Message: msg, Err: err}
}
