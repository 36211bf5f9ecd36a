package dataset

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/period"
)

func mustRead(t *testing.T, csv string) *Dataset {
	t.Helper()
	ds, err := ReadCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	return ds
}

func TestReadCSV_EndToEndNormalization(t *testing.T) {
	ds := mustRead(t, "Date,Value\n1999:Q2,10\n2000:Q1,20\n")
	if err := ds.NormalizeDates("Date"); err != nil {
		t.Fatalf("NormalizeDates: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("rows = %d, want 2", ds.Len())
	}
	want := []struct {
		date  time.Time
		value float64
	}{
		{time.Date(1999, time.April, 1, 0, 0, 0, 0, time.UTC), 10},
		{time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), 20},
	}
	for i, w := range want {
		got := ds.Rows[i]
		if d, ok := got["Date"].(time.Time); !ok || !d.Equal(w.date) {
			t.Errorf("row %d Date = %v, want %v", i, got["Date"], w.date)
		}
		if got["Value"] != w.value {
			t.Errorf("row %d Value = %v, want %v", i, got["Value"], w.value)
		}
	}
}

func TestNormalizeDates_LeavesOtherColumnsUntouched(t *testing.T) {
	ds := mustRead(t, "Date,A,B\n2001:Q3,1.5,x\n2001:Q4,,y\n")
	before := make([]Row, len(ds.Rows))
	for i, r := range ds.Rows {
		before[i] = Row{"A": r["A"], "B": r["B"]}
	}
	if err := ds.NormalizeDates("Date"); err != nil {
		t.Fatal(err)
	}
	for i, r := range ds.Rows {
		if r["A"] != before[i]["A"] || r["B"] != before[i]["B"] {
			t.Errorf("row %d changed: %v", i, r)
		}
	}
}

func TestNormalizeDates_YearOnly(t *testing.T) {
	ds := mustRead(t, "Date,Value\n1952,3\n")
	if err := ds.NormalizeDates("Date"); err != nil {
		t.Fatal(err)
	}
	d := ds.Rows[0]["Date"].(time.Time)
	if d.Year() != 1952 || d.Month() != time.January || d.Day() != 1 {
		t.Errorf("Date = %v", d)
	}
}

func TestNormalizeDates_Idempotent(t *testing.T) {
	ds := mustRead(t, "Date,Value\n1999:Q2,10\n")
	if err := ds.NormalizeDates("Date"); err != nil {
		t.Fatal(err)
	}
	first := ds.Rows[0]["Date"]
	if err := ds.NormalizeDates("Date"); err != nil {
		t.Fatal(err)
	}
	if ds.Rows[0]["Date"] != first {
		t.Errorf("second pass changed Date: %v", ds.Rows[0]["Date"])
	}
}

func TestNormalizeDates_Malformed(t *testing.T) {
	ds := mustRead(t, "Date,Value\n1999:Q2,10\nabc:Q1,20\n")
	err := ds.NormalizeDates("Date")
	if !errors.Is(err, period.ErrParse) {
		t.Fatalf("err = %v, want period.ErrParse", err)
	}
	if !strings.Contains(err.Error(), "row 2") {
		t.Errorf("error should name the row: %v", err)
	}
}

func TestNormalizeDates_UnknownColumn(t *testing.T) {
	ds := mustRead(t, "Period,Value\n1999:Q2,10\n")
	if err := ds.NormalizeDates("Date"); !errors.Is(err, apperr.ErrUnknownColumn) {
		t.Errorf("err = %v, want ErrUnknownColumn", err)
	}
}

func TestReadCSV_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"duplicate": "Date,A,A\n1999,1,2\n",
		"blank":     "Date,,B\n1999,1,2\n",
		"ragged":    "Date,A\n1999,1,2\n",
	}
	for name, in := range cases {
		if _, err := ReadCSV(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestReadCSV_StripsBOM(t *testing.T) {
	ds := mustRead(t, "\ufeffDate,Value\n1999:Q1,1\n")
	if ds.Columns[0] != "Date" {
		t.Errorf("first column = %q", ds.Columns[0])
	}
}

func TestSeries(t *testing.T) {
	ds := mustRead(t, "Date,Value,Label\n1999:Q1,1,a\n1999:Q2,,b\n1999:Q3,3,c\n")
	if err := ds.NormalizeDates("Date"); err != nil {
		t.Fatal(err)
	}
	s, err := ds.Series("Date", "Value")
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if s.Name != "Value" || len(s.Times) != 2 || len(s.Value) != 2 {
		t.Fatalf("series = %+v", s)
	}
	if s.Value[1] != 3 {
		t.Errorf("Value[1] = %v", s.Value[1])
	}

	if _, err := ds.Series("Date", "Label"); !errors.Is(err, apperr.ErrInvalidData) {
		t.Errorf("err = %v, want ErrInvalidData", err)
	}
	if _, err := ds.Series("Date", "Missing"); !errors.Is(err, apperr.ErrUnknownColumn) {
		t.Errorf("err = %v, want ErrUnknownColumn", err)
	}
}

func TestSeries_SkipsMissingValues(t *testing.T) {
	tokens := []string{"NaN", "nan", "NA", "N/A", "null", "#N/A", "inf", "-Inf", "None"}
	for _, tok := range tokens {
		t.Run(tok, func(t *testing.T) {
			ds := mustRead(t, "Date,V\n1999:Q1,1\n1999:Q2,"+tok+"\n1999:Q3,3\n")
			if err := ds.NormalizeDates("Date"); err != nil {
				t.Fatal(err)
			}
			if v := ds.Rows[1]["V"]; v != nil {
				t.Fatalf("cell %q = %#v, want nil", tok, v)
			}
			s, err := ds.Series("Date", "V")
			if err != nil {
				t.Fatalf("Series: %v", err)
			}
			if len(s.Value) != 2 || s.Value[0] != 1 || s.Value[1] != 3 {
				t.Errorf("values = %v, want [1 3]", s.Value)
			}
		})
	}
}

func TestSeries_SkipsMissingDate(t *testing.T) {
	ds := mustRead(t, "Date,V\n1999:Q1,1\nNA,2\n1999:Q3,3\n")
	if err := ds.NormalizeDates("Date"); err != nil {
		t.Fatal(err)
	}
	s, err := ds.Series("Date", "V")
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(s.Times) != 2 {
		t.Errorf("points = %d, want 2", len(s.Times))
	}
}

func TestSeries_RequiresNormalizedDates(t *testing.T) {
	ds := mustRead(t, "Date,Value\n1999:Q1,1\n")
	if _, err := ds.Series("Date", "Value"); !errors.Is(err, apperr.ErrInvalidData) {
		t.Errorf("err = %v, want ErrInvalidData for raw period labels", err)
	}
}

func TestHeadAndPlotColumns(t *testing.T) {
	ds := mustRead(t, "Date,A,B\n1999,1,2\n2000,3,4\n2001,5,6\n")
	if got := len(ds.Head(2)); got != 2 {
		t.Errorf("Head(2) = %d rows", got)
	}
	if got := len(ds.Head(0)); got != 3 {
		t.Errorf("Head(0) = %d rows", got)
	}
	cols := ds.PlotColumns("Date")
	if len(cols) != 2 || cols[0] != "A" || cols[1] != "B" {
		t.Errorf("PlotColumns = %v", cols)
	}
}

func TestFormatCell(t *testing.T) {
	if got := FormatCell(time.Date(1999, time.April, 1, 0, 0, 0, 0, time.UTC)); got != "1999-04-01" {
		t.Errorf("date = %q", got)
	}
	if got := FormatCell(12.5); got != "12.5" {
		t.Errorf("float = %q", got)
	}
	if got := FormatCell(nil); got != "" {
		t.Errorf("nil = %q", got)
	}
}
