package repositories

import (
	"fmt"
	"strings"

	"github.com/gla-ilr/ilr-engine/pkg/models"
)

func normalizePageParams(limit, offset int) (int, int) {
	p := models.PageRequest{Limit: limit, Offset: offset}.Normalize()
	return p.Limit, p.Offset
}

// whereBuilder accumulates AND-ed conditions with positional arguments.
type whereBuilder struct {
	conditions []string
	args       []any
}

func (w *whereBuilder) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, fmt.Sprintf(format, len(w.args)))
}

// factScope adds the UKPRN set, year and period filters shared by fact queries.
// yearCol and periodCol may be empty when the table has no such column.
func (w *whereBuilder) factScope(ukprns []int, year, period *int, yearCol, periodCol string) {
	if len(ukprns) > 0 {
		w.add("ukprn = ANY($%d)", ukprns)
	}
	if year != nil && yearCol != "" {
		w.add(yearCol+" = $%d", *year)
	}
	if period != nil && periodCol != "" {
		w.add(periodCol+" = $%d", *period)
	}
}

func (w *whereBuilder) sql() string {
	if len(w.conditions) == 0 {
		return "TRUE"
	}
	return strings.Join(w.conditions, " AND ")
}

// next is the placeholder index of the next argument.
func (w *whereBuilder) next() int {
	return len(w.args) + 1
}
