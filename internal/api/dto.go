package api

import (
	"time"

	"github.com/starford/offbalance/internal/snapshot"
)

// SelectRequest is the request body for choosing a plot column.
type SelectRequest struct {
	Column string `json:"column" example:"Loan commitments"`
}

// ColumnsResponse lists the dataset columns.
type ColumnsResponse struct {
	Columns     []string `json:"columns"`
	PlotColumns []string `json:"plot_columns"`
	DateColumn  string   `json:"date_column"`
	Selected    string   `json:"selected,omitempty"`
}

// Point is one observation of a series.
type Point struct {
	Date   time.Time `json:"date"`
	Period string    `json:"period" example:"1999:Q2"`
	Value  float64   `json:"value"`
}

// SeriesResponse is a column plotted against the date column.
type SeriesResponse struct {
	Column string  `json:"column"`
	Title  string  `json:"title" example:"Loan commitments over Time"`
	XLabel string  `json:"x_label" example:"Date"`
	Points []Point `json:"points"`
}

// RowsResponse is a page of formatted table rows.
type RowsResponse struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Total   int        `json:"total"`
}

// SnapshotListResponse wraps stored snapshot metadata.
type SnapshotListResponse struct {
	Snapshots []snapshot.Snapshot `json:"snapshots"`
}
