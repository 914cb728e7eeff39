// Package dataset holds the tabular account data passed between pipeline
// stages and reads and writes it in the export formats (.xlsx, .csv,
// .parquet).
package dataset

import (
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
)

// Table is an ordered set of named columns and string-valued rows.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New returns an empty table with the given header.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// MissingColumnError reports a column the caller needed but the table lacks.
type MissingColumnError struct {
	Column string
	Source string
}

func (e *MissingColumnError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("column %q not found in %s", e.Column, e.Source)
	}
	return fmt.Sprintf("column %q not found", e.Column)
}

func (e *MissingColumnError) Kind() errkind.Kind { return errkind.Domain }

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of column, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Value returns the cell at row for column, or "" if the column is absent.
func (t *Table) Value(row int, column string) string {
	i := t.Index(column)
	if i < 0 {
		return ""
	}
	return t.Rows[row][i]
}

// AddRow appends a row, padding or truncating it to the header width.
func (t *Table) AddRow(cells []string) {
	row := make([]string, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// AddColumn appends a column whose cells are produced by fn.
func (t *Table) AddColumn(name string, fn func(row int) string) {
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], fn(i))
	}
}

// Append adds the rows of other, matching columns by name. Columns present
// only in other are added to the header; earlier rows get empty cells.
func (t *Table) Append(other *Table) {
	mapping := make([]int, len(other.Columns))
	for i, c := range other.Columns {
		idx := t.Index(c)
		if idx < 0 {
			t.Columns = append(t.Columns, c)
			for r := range t.Rows {
				t.Rows[r] = append(t.Rows[r], "")
			}
			idx = len(t.Columns) - 1
		}
		mapping[i] = idx
	}

	for _, src := range other.Rows {
		row := make([]string, len(t.Columns))
		for i, v := range src {
			if i < len(mapping) {
				row[mapping[i]] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

// Project returns a new table holding only columns, in that order.
func (t *Table) Project(columns ...string) (*Table, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
		if idx[i] < 0 {
			return nil, &MissingColumnError{Column: c}
		}
	}

	out := New(columns...)
	out.Rows = make([][]string, 0, len(t.Rows))
	for _, src := range t.Rows {
		row := make([]string, len(idx))
		for i, j := range idx {
			row[i] = src[j]
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// DropIncomplete removes rows with an empty cell in any column not listed
// in exempt, returning the number of rows removed.
func (t *Table) DropIncomplete(exempt []string) int {
	skip := make(map[int]bool, len(exempt))
	for _, c := range exempt {
		if i := t.Index(c); i >= 0 {
			skip[i] = true
		}
	}

	kept := t.Rows[:0]
	dropped := 0
	for _, row := range t.Rows {
		complete := true
		for i, v := range row {
			if !skip[i] && IsNull(v) {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, row)
		} else {
			dropped++
		}
	}
	t.Rows = kept
	return dropped
}

// IsNull reports whether a cell holds no value.
func IsNull(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "NaN", "NaT":
		return true
	}
	return false
}
