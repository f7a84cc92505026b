package csvfile

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Writer emits rows in a fixed header order.
type Writer struct {
	csv     *csv.Writer
	headers []string
}

// NewWriter writes the header row immediately.
func NewWriter(w io.Writer, headers []string) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}
	h := make([]string, len(headers))
	copy(h, headers)
	return &Writer{csv: cw, headers: h}, nil
}

// WriteRecord writes the values of rec in header order. Missing keys are blank.
func (w *Writer) WriteRecord(rec map[string]string) error {
	values := make([]string, len(w.headers))
	for i, h := range w.headers {
		values[i] = rec[h]
	}
	return w.WriteValues(values)
}

// WriteValues writes a row as given, padded to the header width.
func (w *Writer) WriteValues(values []string) error {
	if len(values) < len(w.headers) {
		padded := make([]string, len(w.headers))
		copy(padded, values)
		values = padded
	}
	if err := w.csv.Write(values); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}
