// Package dataset holds a decoded CSV table and the column operations the
// UI and API need: date normalization, table previews and plot series.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/period"
)

// DefaultDateColumn is the column holding period labels.
const DefaultDateColumn = "Date"

// Row maps column name to cell value. Values are float64 for numeric cells,
// nil for empty cells, time.Time for normalized dates and string otherwise.
type Row map[string]any

// Dataset is an ordered table of rows.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Series is a column plotted against a time column.
type Series struct {
	Name  string
	Times []time.Time
	Value []float64
}

// ReadCSV decodes a CSV payload with a header row.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("dataset: empty CSV")
		}
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}

	seen := make(map[string]struct{}, len(header))
	columns := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			return nil, fmt.Errorf("dataset: column %d has an empty name", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("dataset: duplicate column %q", name)
		}
		seen[name] = struct{}{}
		columns[i] = name
	}

	ds := &Dataset{Columns: columns}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: %w", err)
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			row[name] = parseCell(rec[i])
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// missingTokens are the cell values read as missing, matching the usual
// spreadsheet and pandas spellings.
var missingTokens = map[string]struct{}{
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {},
	"nan": {}, "null": {},
}

func parseCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, ok := missingTokens[s]; ok {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return s
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// HasColumn reports whether name is one of the dataset columns.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// NormalizeDates rewrites every value of column in place with
// period.Normalize. Other columns are left untouched.
//
// Year-only labels such as "1952" decode as numbers, so numeric cells are
// converted back to their integer text before parsing.
func (d *Dataset) NormalizeDates(column string) error {
	if !d.HasColumn(column) {
		return fmt.Errorf("dataset: normalize %q: %w", column, apperr.ErrUnknownColumn)
	}
	for i, row := range d.Rows {
		v := row[column]
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			v = strconv.FormatInt(int64(f), 10)
		}
		out, err := period.Normalize(v)
		if err != nil {
			return fmt.Errorf("dataset: row %d: %w", i+1, err)
		}
		row[column] = out
	}
	return nil
}

// Head returns at most n rows. A non-positive n returns every row.
func (d *Dataset) Head(n int) []Row {
	if n <= 0 || n >= len(d.Rows) {
		return d.Rows
	}
	return d.Rows[:n]
}

// Series extracts column y against time column x. Rows with a missing x or
// y cell are skipped.
func (d *Dataset) Series(x, y string) (Series, error) {
	for _, c := range []string{x, y} {
		if !d.HasColumn(c) {
			return Series{}, fmt.Errorf("dataset: series %q: %w", c, apperr.ErrUnknownColumn)
		}
	}
	s := Series{Name: y}
	for i, row := range d.Rows {
		if row[x] == nil {
			continue
		}
		t, ok := row[x].(time.Time)
		if !ok {
			return Series{}, fmt.Errorf("dataset: row %d: column %q is not a date: %w", i+1, x, apperr.ErrInvalidData)
		}
		switch v := row[y].(type) {
		case nil:
			continue
		case float64:
			s.Times = append(s.Times, t)
			s.Value = append(s.Value, v)
		default:
			return Series{}, fmt.Errorf("dataset: row %d: column %q value %v is not numeric: %w", i+1, y, v, apperr.ErrInvalidData)
		}
	}
	return s, nil
}

// PlotColumns returns the columns other than the date column, in order.
func (d *Dataset) PlotColumns(dateColumn string) []string {
	out := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		if c != dateColumn {
			out = append(out, c)
		}
	}
	return out
}

// FormatCell renders a cell for display. Dates use ISO form.
func FormatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(time.DateOnly)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
