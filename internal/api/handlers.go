package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/offbalance/internal/chart"
	"github.com/starford/offbalance/internal/dataset"
	"github.com/starford/offbalance/internal/period"
	"github.com/starford/offbalance/internal/session"
	"github.com/starford/offbalance/internal/snapshot"
	"github.com/starford/offbalance/internal/sse"
)

// SnapshotLister lists stored snapshots.
type SnapshotLister interface {
	List(ctx context.Context, limit int) ([]snapshot.Snapshot, error)
}

// Handler holds the page and API route handlers.
type Handler struct {
	sessions  *session.Manager
	fetcher   session.Fetcher
	snapshots SnapshotLister
	broker    *sse.Broker
	ui        UIOptions
}

// CreateSession handles POST /api/session. It returns the caller's session,
// started by the route middleware when none was supplied.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, sessionFrom(r).View())
}

// GetSession handles GET /api/session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).View())
}

// DeleteSession handles DELETE /api/session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Dispose(sessionFrom(r).ID())
	w.WriteHeader(http.StatusNoContent)
}

// Download handles POST /api/session/download. Pass force=true to replace
// an already downloaded dataset.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	sess := sessionFrom(r)
	if err := sess.Download(r.Context(), h.fetcher, force); err != nil {
		writeError(w, "download", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// Select handles POST /api/session/select.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Column == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("column is required"))
		return
	}
	sess := sessionFrom(r)
	if err := sess.Select(req.Column); err != nil {
		writeError(w, "select", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// Plot handles POST /api/session/plot.
func (h *Handler) Plot(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.Plot(); err != nil {
		writeError(w, "plot", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// Columns handles GET /api/columns.
func (h *Handler) Columns(w http.ResponseWriter, r *http.Request) {
	v := sessionFrom(r).View()
	if !v.Downloaded {
		writeJSON(w, http.StatusConflict, errorBody("no dataset downloaded"))
		return
	}
	writeJSON(w, http.StatusOK, ColumnsResponse{
		Columns:     v.Columns,
		PlotColumns: v.PlotColumns,
		DateColumn:  v.DateColumn,
		Selected:    v.Column,
	})
}

// Series handles GET /api/series/{column}.
func (h *Handler) Series(w http.ResponseWriter, r *http.Request) {
	column, err := url.PathUnescape(chi.URLParam(r, "column"))
	if err != nil || column == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("column is required"))
		return
	}
	s, err := sessionFrom(r).SeriesFor(column)
	if err != nil {
		writeError(w, "series", err)
		return
	}
	resp := SeriesResponse{
		Column: column,
		Title:  chart.Title(column),
		XLabel: chart.XLabel,
		Points: make([]Point, len(s.Times)),
	}
	for i, t := range s.Times {
		resp.Points[i] = Point{Date: t, Period: period.Label(t, true), Value: s.Value[i]}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rows handles GET /api/rows with optional limit and offset.
func (h *Handler) Rows(w http.ResponseWriter, r *http.Request) {
	v := sessionFrom(r).View()
	if !v.Downloaded {
		writeJSON(w, http.StatusConflict, errorBody("no dataset downloaded"))
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = 100
	}
	total := v.Dataset.Len()
	if offset < 0 || offset > total {
		offset = total
	}
	limit = min(limit, total-offset)
	end := offset + limit

	writeJSON(w, http.StatusOK, RowsResponse{
		Columns: v.Columns,
		Rows:    formatRows(v.Columns, v.Dataset.Rows[offset:end]),
		Total:   total,
	})
}

// Snapshots handles GET /api/snapshots.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeJSON(w, http.StatusOK, SnapshotListResponse{Snapshots: []snapshot.Snapshot{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.snapshots.List(r.Context(), limit)
	if err != nil {
		writeError(w, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotListResponse{Snapshots: list})
}

// Events handles GET /events and GET /api/events: the caller's session
// transitions plus broadcast notices. Without a session only broadcasts
// are streamed.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id := ""
	if sess := sessionFrom(r); sess != nil {
		id = sess.ID()
	}
	h.broker.Stream(w, r, id)
}

func formatRows(columns []string, rows []dataset.Row) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(columns))
		for j, c := range columns {
			cells[j] = dataset.FormatCell(row[c])
		}
		out[i] = cells
	}
	return out
}
