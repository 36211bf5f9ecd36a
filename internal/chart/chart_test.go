package chart

import (
	"bytes"
	"errors"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/starford/offbalance/internal/dataset"
)

func quarterly(n int) dataset.Series {
	s := dataset.Series{Name: "Loan commitments"}
	start := time.Date(1999, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		s.Times = append(s.Times, start.AddDate(0, 3*i, 0))
		s.Value = append(s.Value, float64(10+i*i))
	}
	return s
}

func TestTitle(t *testing.T) {
	if got := Title("Loan commitments"); got != "Loan commitments over Time" {
		t.Errorf("Title = %q", got)
	}
	spec := ForSeries(quarterly(2))
	if spec.Title != "Loan commitments over Time" || spec.XLabel != "Date" {
		t.Errorf("spec = %+v", spec)
	}
}

func TestRenderPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, PNG, ForSeries(quarterly(8))); err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != defaultWidth || b.Dy() != defaultHeight {
		t.Errorf("size = %v", b)
	}
}

func TestRenderSVG(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, SVG, ForSeries(quarterly(8))); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<svg") {
		t.Fatalf("not an SVG document: %.80s", out)
	}
	if !strings.Contains(out, "Loan commitments over Time") {
		t.Error("title missing from SVG")
	}
}

func TestRender_NotEnoughPoints(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, PNG, ForSeries(quarterly(1))); !errors.Is(err, ErrNotEnoughPoints) {
		t.Errorf("err = %v, want ErrNotEnoughPoints", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("svg"); err != nil || f != SVG || f.ContentType() != "image/svg+xml" {
		t.Errorf("svg = %v, %v", f, err)
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Error("gif should be rejected")
	}
}

func TestRender_ConstantSeries(t *testing.T) {
	for _, v := range []float64{0, 42} {
		s := quarterly(4)
		for i := range s.Value {
			s.Value[i] = v
		}
		var buf bytes.Buffer
		if err := Render(&buf, PNG, ForSeries(s)); err != nil {
			t.Errorf("constant %v: %v", v, err)
		}
	}
	if flatRange([]float64{1, 2}) != nil {
		t.Error("varying series should keep the automatic range")
	}
}
