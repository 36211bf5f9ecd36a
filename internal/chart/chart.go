// Package chart renders a dataset series as a line chart against time.
package chart

import (
	"errors"
	"fmt"
	"io"
	"math"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/starford/offbalance/internal/dataset"
)

// Format is an output image format.
type Format string

const (
	PNG Format = "png"
	SVG Format = "svg"
)

// XLabel is the x-axis caption of every chart.
const XLabel = "Date"

const (
	defaultWidth  = 960
	defaultHeight = 480
)

// ErrNotEnoughPoints is returned when a series cannot span an axis.
var ErrNotEnoughPoints = errors.New("chart: at least two points are required")

// Spec describes one chart.
type Spec struct {
	Title  string
	XLabel string
	Series dataset.Series
	Width  int
	Height int
}

// Title returns the chart title for a column.
func Title(column string) string {
	return column + " over Time"
}

// ParseFormat maps a file extension or config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case PNG, SVG:
		return Format(s), nil
	}
	return "", fmt.Errorf("chart: unsupported format %q", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == SVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// ForSeries returns the default spec for plotting s.
func ForSeries(s dataset.Series) Spec {
	return Spec{Title: Title(s.Name), XLabel: XLabel, Series: s}
}

// Render draws spec to w in the requested format.
func Render(w io.Writer, format Format, spec Spec) error {
	if len(spec.Series.Times) < 2 {
		return ErrNotEnoughPoints
	}
	if spec.Width <= 0 {
		spec.Width = defaultWidth
	}
	if spec.Height <= 0 {
		spec.Height = defaultHeight
	}

	ch := gochart.Chart{
		Title:  spec.Title,
		Width:  spec.Width,
		Height: spec.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: gochart.XAxis{
			Name:           spec.XLabel,
			ValueFormatter: gochart.TimeDateValueFormatter,
		},
		YAxis: gochart.YAxis{
			Name:  spec.Series.Name,
			Range: flatRange(spec.Series.Value),
		},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name:    spec.Series.Name,
				XValues: spec.Series.Times,
				YValues: spec.Series.Value,
				Style: gochart.Style{
					StrokeColor: drawing.ColorFromHex("1f77b4"),
					StrokeWidth: 2,
				},
			},
		},
	}

	renderer := gochart.PNG
	if format == SVG {
		renderer = gochart.SVG
	}
	if err := ch.Render(renderer, w); err != nil {
		return fmt.Errorf("chart: render: %w", err)
	}
	return nil
}

// flatRange pads a constant series so the y axis has a non-zero span. It
// returns nil, letting the chart pick the range, otherwise.
func flatRange(values []float64) gochart.Range {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo, hi = min(lo, v), max(hi, v)
	}
	if lo != hi {
		return nil
	}
	pad := math.Abs(lo) * 0.1
	if pad == 0 {
		pad = 1
	}
	return &gochart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}
