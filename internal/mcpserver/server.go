// Package mcpserver exposes the dataset as MCP (Model Context Protocol)
// tools over stdio.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/offbalance/internal/chart"
	"github.com/starford/offbalance/internal/period"
	"github.com/starford/offbalance/internal/session"
	"github.com/starford/offbalance/internal/snapshot"
)

// PeriodFormatURI is the resource describing quarter labels.
const PeriodFormatURI = "offbalance://period-format"

const defaultSeriesLimit = 500

// SnapshotLister lists stored snapshots.
type SnapshotLister interface {
	List(ctx context.Context, limit int) ([]snapshot.Snapshot, error)
}

// Server wraps the MCP server. The stdio client owns a single session.
type Server struct {
	mcp       *server.MCPServer
	fetcher   session.Fetcher
	snapshots SnapshotLister
	sess      *session.Session
}

// New creates a new MCP server with all dataset tools registered.
// snapshots may be nil.
func New(fetcher session.Fetcher, snapshots SnapshotLister) *Server {
	s := &Server{
		fetcher:   fetcher,
		snapshots: snapshots,
		sess:      session.NewManager(0, nil).Create(),
	}

	s.mcp = server.NewMCPServer(
		"offbalance",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("fetch_dataset",
		mcp.WithDescription("Download the Federal Reserve off-balance-sheet CSV and normalize its quarter labels. "+
			"Later calls reuse the downloaded copy unless force is true."),
		mcp.WithBoolean("force", mcp.Description("Download again even if a dataset is loaded")),
	), s.fetchDataset)

	s.mcp.AddTool(mcp.NewTool("list_columns",
		mcp.WithDescription("List the columns of the loaded dataset and which of them can be plotted."),
	), s.listColumns)

	s.mcp.AddTool(mcp.NewTool("get_series",
		mcp.WithDescription("Return one column as a time series of {date, period, value} points. "+
			"Empty cells are skipped."),
		mcp.WithString("column", mcp.Required(), mcp.Description("Column name, exactly as listed by list_columns")),
		mcp.WithNumber("limit", mcp.Description("Return at most this many of the most recent points (default 500)")),
	), s.getSeries)

	s.mcp.AddTool(mcp.NewTool("plot_column",
		mcp.WithDescription("Render a line chart of a column over time and return it as a PNG image."),
		mcp.WithString("column", mcp.Required(), mcp.Description("Column name to plot")),
	), s.plotColumn)

	s.mcp.AddTool(mcp.NewTool("normalize_period",
		mcp.WithDescription("Convert a period label such as \"1999:Q2\" or \"2001\" to the first day of that period. "+
			"See the "+PeriodFormatURI+" resource for the accepted format."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Period label")),
	), s.normalizePeriod)

	s.mcp.AddTool(mcp.NewTool("list_snapshots",
		mcp.WithDescription("List previously downloaded copies of the dataset, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of snapshots (default 20)")),
	), s.listSnapshots)

	s.mcp.AddResource(
		mcp.NewResource(PeriodFormatURI, "Period Label Format",
			mcp.WithResourceDescription("How quarter and year labels in the Date column map to dates."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPeriodFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type datasetSummary struct {
	Columns     []string          `json:"columns"`
	PlotColumns []string          `json:"plot_columns"`
	DateColumn  string            `json:"date_column"`
	Rows        int               `json:"rows"`
	Snapshot    snapshot.Snapshot `json:"snapshot"`
	FromCache   bool              `json:"from_cache"`
}

type seriesPoint struct {
	Date   string  `json:"date"`
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) fetchDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := req.GetBool("force", false)
	if err := s.sess.Download(ctx, s.fetcher, force); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v := s.sess.View()
	return jsonResult(datasetSummary{
		Columns:     v.Columns,
		PlotColumns: v.PlotColumns,
		DateColumn:  v.DateColumn,
		Rows:        v.RowCount,
		Snapshot:    v.Snapshot,
		FromCache:   v.FromCache,
	})
}

func (s *Server) listColumns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v := s.sess.View()
	if !v.Downloaded {
		return mcp.NewToolResultError("no dataset loaded: call fetch_dataset first"), nil
	}
	return jsonResult(map[string]any{
		"columns":      v.Columns,
		"plot_columns": v.PlotColumns,
		"date_column":  v.DateColumn,
	})
}

func (s *Server) getSeries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	column, err := req.RequireString("column")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	series, err := s.sess.SeriesFor(column)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := int(req.GetFloat("limit", defaultSeriesLimit))
	start := 0
	if limit > 0 && len(series.Times) > limit {
		start = len(series.Times) - limit
	}
	points := make([]seriesPoint, 0, len(series.Times)-start)
	for i := start; i < len(series.Times); i++ {
		t := series.Times[i]
		points = append(points, seriesPoint{
			Date:   t.Format(time.DateOnly),
			Period: period.Label(t, true),
			Value:  series.Value[i],
		})
	}
	return jsonResult(map[string]any{
		"column": column,
		"title":  chart.Title(column),
		"points": points,
	})
}

func (s *Server) plotColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	column, err := req.RequireString("column")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.Select(column); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.Plot(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	series, err := s.sess.PlotSeries()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var buf bytes.Buffer
	if err := chart.Render(&buf, chart.PNG, chart.ForSeries(series)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultImage(chart.Title(column),
		base64.StdEncoding.EncodeToString(buf.Bytes()), chart.PNG.ContentType()), nil
}

func (s *Server) normalizePeriod(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := period.Parse(label)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(t.Format(time.DateOnly)), nil
}

func (s *Server) listSnapshots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.snapshots == nil {
		return mcp.NewToolResultError("snapshot store is not configured"), nil
	}
	list, err := s.snapshots.List(ctx, int(req.GetFloat("limit", 20)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list snapshots: %v", err)), nil
	}
	return jsonResult(list)
}

func (s *Server) readPeriodFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PeriodFormatURI,
			MIMEType: "text/markdown",
			Text:     PeriodFormat,
		},
	}, nil
}
