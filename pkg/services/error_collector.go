package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/gla-ilr/ilr-engine/pkg/csvfile"
)

type rejectedRow struct {
	values  []string
	columns []string
}

// ErrorCollector keeps the rejected rows of an upload for the downloadable
// error file and a deduplicated list of the reasons for the summary.
type ErrorCollector struct {
	rows     []rejectedRow
	messages []string
	seen     map[string]bool
}

// NewErrorCollector creates an empty collector.
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{seen: make(map[string]bool)}
}

// Reject records a rejected row. values are the row's cells in header order.
func (c *ErrorCollector) Reject(values []string, errs *RowErrors) {
	c.rows = append(c.rows, rejectedRow{values: values, columns: errs.Columns()})
	for _, msg := range errs.Messages() {
		c.AddMessage(msg)
	}
}

// AddMessage adds a message to the summary unless it is already present.
func (c *ErrorCollector) AddMessage(msg string) {
	if c.seen[msg] {
		return
	}
	c.seen[msg] = true
	c.messages = append(c.messages, msg)
}

// Rejected is the number of rows rejected so far.
func (c *ErrorCollector) Rejected() int {
	return len(c.rows)
}

// HasRejections reports whether the error file would contain any rows.
func (c *ErrorCollector) HasRejections() bool {
	return len(c.rows) > 0
}

// Summary returns the distinct messages in first-seen order. When there are
// more than max, the list is cut and ends with a line counting the rest.
func (c *ErrorCollector) Summary(max int) []string {
	if max <= 0 || len(c.messages) <= max {
		return append([]string{}, c.messages...)
	}
	out := append([]string{}, c.messages[:max]...)
	rest := len(c.messages) - max
	noun := "error"
	if rest != 1 {
		noun = inflection.Plural(noun)
	}
	return append(out, fmt.Sprintf("... and %d more distinct %s", rest, noun))
}

// WriteCSV renders the error file: the original columns, without any Error
// column carried over from an earlier error file, followed by a fresh Error
// column naming the failing fields of each row.
func (c *ErrorCollector) WriteCSV(headers []string) ([]byte, error) {
	skip := -1
	out := make([]string, 0, len(headers)+1)
	for i, h := range headers {
		if skip < 0 && csvfile.Normalize(h) == csvfile.Normalize(ColErrorColumn) {
			skip = i
			continue
		}
		out = append(out, h)
	}
	out = append(out, ColErrorColumn)

	var buf bytes.Buffer
	w, err := csvfile.NewWriter(&buf, out)
	if err != nil {
		return nil, err
	}
	for _, row := range c.rows {
		values := make([]string, 0, len(out))
		for i := range headers {
			if i == skip {
				continue
			}
			v := ""
			if i < len(row.values) {
				v = row.values[i]
			}
			values = append(values, v)
		}
		values = append(values, strings.Join(row.columns, ", "))
		if err := w.WriteValues(values); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
