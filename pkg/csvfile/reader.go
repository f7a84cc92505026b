// Package csvfile reads and writes the delimited extracts handled by the
// import pipeline. Headers are matched exactly first and then by their
// normalized form, so "Learner Reference Number" and "learner reference number"
// address the same column.
package csvfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
)

// sniffSize is how much of the stream is inspected to pick a decoder.
const sniffSize = 64 * 1024

// ErrNoHeader is returned when the stream is empty.
var ErrNoHeader = errors.New("file has no header row")

// Reader is a forward-only cursor over the data rows of a CSV file.
type Reader struct {
	csv     *csv.Reader
	headers []string
	exact   map[string]int
	norm    map[string]int

	row    []string
	rowNum int
	err    error
}

// NewReader decodes r (UTF-8 with or without a BOM, UTF-16 with a BOM, or
// Windows-1252 when the content is not valid UTF-8) and reads the header row.
func NewReader(r io.Reader) (*Reader, error) {
	decoded, err := decode(r)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrNoHeader, io.EOF)
		}
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	rd := &Reader{
		csv:     cr,
		headers: make([]string, len(headers)),
		exact:   make(map[string]int, len(headers)),
		norm:    make(map[string]int, len(headers)),
	}
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		rd.headers[i] = h
		if _, dup := rd.exact[h]; !dup {
			rd.exact[h] = i
		}
		if _, dup := rd.norm[Normalize(h)]; !dup {
			rd.norm[Normalize(h)] = i
		}
	}
	return rd, nil
}

func decode(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if hasBOM(head) || validUTF8Prefix(head) {
		return transform.NewReader(br, xunicode.BOMOverride(xunicode.UTF8.NewDecoder())), nil
	}
	return transform.NewReader(br, charmap.Windows1252.NewDecoder()), nil
}

func hasBOM(b []byte) bool {
	switch {
	case len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF:
		return true
	case len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF:
		return true
	case len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFE:
		return true
	}
	return false
}

// validUTF8Prefix ignores a rune cut off by the end of the sniffed window.
func validUTF8Prefix(b []byte) bool {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return true
		}
		b = b[:len(b)-1]
	}
	return utf8.Valid(b)
}

// Normalize strips all whitespace and lowercases a header name.
func Normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '\ufeff' {
			continue
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// Headers returns the header names in file order.
func (r *Reader) Headers() []string {
	out := make([]string, len(r.headers))
	copy(out, r.headers)
	return out
}

// HasColumn reports whether the header row contains name.
func (r *Reader) HasColumn(name string) bool {
	_, ok := r.index(name)
	return ok
}

// Next advances to the next data row. Blank lines are skipped by encoding/csv.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	row, err := r.csv.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			r.err = fmt.Errorf("failed to read row %d: %w", r.rowNum+1, err)
		}
		r.row = nil
		return false
	}
	r.row = row
	r.rowNum++
	return true
}

// Err returns the first read error, excluding io.EOF.
func (r *Reader) Err() error {
	return r.err
}

// RowNumber is the 1-based index of the current data row.
func (r *Reader) RowNumber() int {
	return r.rowNum
}

// Values returns the current row padded or truncated to the header width.
func (r *Reader) Values() []string {
	out := make([]string, len(r.headers))
	copy(out, r.row)
	return out
}

// Record returns the current row keyed by header name.
func (r *Reader) Record() map[string]string {
	rec := make(map[string]string, len(r.headers))
	for i, h := range r.headers {
		if i < len(r.row) {
			rec[h] = r.row[i]
		} else {
			rec[h] = ""
		}
	}
	return rec
}

func (r *Reader) index(name string) (int, bool) {
	if i, ok := r.exact[name]; ok {
		return i, true
	}
	i, ok := r.norm[Normalize(name)]
	return i, ok
}

// String returns the trimmed cell, or "" when the column is absent.
func (r *Reader) String(col string) string {
	i, ok := r.index(col)
	if !ok || i >= len(r.row) {
		return ""
	}
	return strings.TrimSpace(r.row[i])
}

// OptionalString returns nil for a blank or absent cell.
func (r *Reader) OptionalString(col string) *string {
	v := r.String(col)
	if v == "" {
		return nil
	}
	return &v
}

// RequiredString fails with ErrMissingRequiredField for a blank or absent cell.
func (r *Reader) RequiredString(col string) (string, error) {
	v := r.String(col)
	if v == "" {
		return "", apperrors.NewMissingFieldError(col)
	}
	return v, nil
}

// OptionalInt returns nil for a blank, absent or non-numeric cell.
func (r *Reader) OptionalInt(col string) *int {
	v, err := r.RequiredInt(col)
	if err != nil {
		return nil
	}
	return &v
}

// RequiredInt fails with ErrMissingRequiredField or ErrInvalidFieldFormat.
func (r *Reader) RequiredInt(col string) (int, error) {
	s, err := r.RequiredString(col)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperrors.NewInvalidFieldError(col, s)
	}
	return n, nil
}

// OptionalInt64 returns nil for a blank, absent or non-numeric cell.
func (r *Reader) OptionalInt64(col string) *int64 {
	v, err := r.RequiredInt64(col)
	if err != nil {
		return nil
	}
	return &v
}

// RequiredInt64 fails with ErrMissingRequiredField or ErrInvalidFieldFormat.
func (r *Reader) RequiredInt64(col string) (int64, error) {
	s, err := r.RequiredString(col)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperrors.NewInvalidFieldError(col, s)
	}
	return n, nil
}

// Currency parses a money cell such as "£1,234.50" or "(12.00)".
// Blank, absent and unparseable cells are nil.
func (r *Reader) Currency(col string) *decimal.Decimal {
	d, ok := ParseCurrency(r.String(col))
	if !ok {
		return nil
	}
	return &d
}

// ParseCurrency strips currency symbols and thousands separators.
// Accounting negatives in parentheses are supported.
func ParseCurrency(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '£', '$', '€', ',', ' ', '\u00a0':
			return -1
		}
		return r
	}, s)
	if s == "" || s == "-" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// OptionalDate parses the cell with a Go layout. Blank, absent and
// unparseable cells are nil.
func (r *Reader) OptionalDate(col, layout string) *time.Time {
	t, err := r.RequiredDate(col, layout)
	if err != nil {
		return nil
	}
	return &t
}

// RequiredDate fails with ErrMissingRequiredField or ErrInvalidFieldFormat.
func (r *Reader) RequiredDate(col, layout string) (time.Time, error) {
	s, err := r.RequiredString(col)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, apperrors.NewInvalidFieldError(col, s)
	}
	return t, nil
}
