package api

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/offbalance/internal/chart"
	"github.com/starford/offbalance/internal/checksum"
	"github.com/starford/offbalance/internal/session"
)

// DefaultTitle is the page heading.
const DefaultTitle = "Federal Reserve Off Balance Sheet Data"

// UIOptions controls the page.
type UIOptions struct {
	Title       string
	TableRows   int
	ChartFormat chart.Format
}

type pageData struct {
	Title       string
	Error       string
	Downloaded  bool
	FromCache   bool
	Fetched     string
	Columns     []string
	Rows        [][]string
	Shown       int
	Total       int
	PlotColumns []string
	Column      string
	Plotted     bool
	ChartTitle  string
	ChartFormat chart.Format
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; max-width: 1200px; margin: 0 auto; padding: 1rem; color: #1a1a2e; }
.error, .notice { padding: .5rem .75rem; border-radius: 6px; margin: .75rem 0; }
.error { background: #fde2e1; border: 1px solid #dc3545; }
.notice { background: #fff3cd; border: 1px solid #ffc107; display: none; }
.table-wrap { max-height: 420px; overflow: auto; border: 1px solid #dee2e6; margin: .75rem 0; }
table { border-collapse: collapse; font-size: .8rem; }
th, td { padding: .25rem .5rem; border-bottom: 1px solid #dee2e6; text-align: right; white-space: nowrap; }
th { position: sticky; top: 0; background: #f8f9fa; }
.meta { color: #6c757d; font-size: .85rem; }
form { display: inline-block; margin: .25rem .5rem .25rem 0; }
figure img { max-width: 100%; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Error}}<div class="error" role="alert">{{.Error}}</div>{{end}}
<div class="notice" id="stale">The source dataset changed. Refresh to download the new version.</div>

<form method="post" action="/download">
<button id="download" type="submit">Download CSV</button>
{{if .Downloaded}}<button id="refresh" type="submit" name="force" value="1">Refresh</button>{{end}}
</form>
{{if .Downloaded}}<form method="post" action="/reset"><button id="reset" type="submit">Reset</button></form>{{end}}

{{if .Downloaded}}
<p class="meta">Showing {{.Shown}} of {{.Total}} rows{{if .Fetched}}, fetched {{.Fetched}}{{end}}{{if .FromCache}} (cached copy: the source was unavailable){{end}}.</p>
<div class="table-wrap">
<table id="data">
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
</div>

<form method="post" action="/plot">
<label for="column">Select a column to plot:</label>
<select id="column" name="column">
{{range .PlotColumns}}<option value="{{.}}"{{if eq . $.Column}} selected{{end}}>{{.}}</option>
{{end}}</select>
<button id="plot" type="submit">Plot Data</button>
</form>

{{if .Plotted}}
<figure>
<img id="chart" src="/chart.{{.ChartFormat}}?column={{.Column}}" alt="{{.ChartTitle}}">
<figcaption>{{.ChartTitle}}</figcaption>
</figure>
{{end}}
{{end}}
<script>
(function () {
  if (!window.EventSource) return;
  var es = new EventSource("/events");
  es.addEventListener("dataset.stale", function () {
    document.getElementById("stale").style.display = "block";
  });
})();
</script>
</body>
</html>
`))

// Page handles GET /.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	var v session.View
	if sess := sessionFrom(r); sess != nil {
		v = sess.View()
	}
	data := pageData{
		Title:       h.ui.Title,
		Error:       v.Error,
		Downloaded:  v.Downloaded,
		FromCache:   v.FromCache,
		Columns:     v.Columns,
		PlotColumns: v.PlotColumns,
		Column:      v.Column,
		ChartFormat: h.ui.ChartFormat,
	}
	if v.Downloaded {
		head := v.Dataset.Head(h.ui.TableRows)
		data.Rows = formatRows(v.Columns, head)
		data.Shown = len(head)
		data.Total = v.RowCount
		if !v.Snapshot.FetchedAt.IsZero() {
			data.Fetched = v.Snapshot.FetchedAt.Format("2006-01-02 15:04 MST")
		}
	}
	if v.State == session.PlotRequested {
		data.Plotted = true
		data.ChartTitle = chart.Title(v.Column)
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		slog.Error("render page failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// DownloadForm handles POST /download.
func (h *Handler) DownloadForm(w http.ResponseWriter, r *http.Request) {
	force := r.FormValue("force") == "1"
	sess := sessionFrom(r)
	if err := sess.Download(r.Context(), h.fetcher, force); err != nil {
		slog.Warn("download failed", slog.String("session", sess.ID()), slog.String("error", err.Error()))
		sess.RecordError(err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// PlotForm handles POST /plot: it selects the submitted column and requests
// the chart.
func (h *Handler) PlotForm(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	err := func() error {
		if column := r.FormValue("column"); column != "" {
			if err := sess.Select(column); err != nil {
				return err
			}
		}
		return sess.Plot()
	}()
	if err != nil {
		sess.RecordError(err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SelectForm handles POST /select.
func (h *Handler) SelectForm(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFrom(r); sess != nil {
		if err := sess.Select(r.FormValue("column")); err != nil {
			sess.RecordError(err)
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ResetForm handles POST /reset.
func (h *Handler) ResetForm(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFrom(r); sess != nil {
		sess.Reset()
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Chart handles GET /chart.png and GET /chart.svg for the session's
// requested plot.
func (h *Handler) Chart(format chart.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		series, err := sess.PlotSeries()
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		var buf bytes.Buffer
		if err := chart.Render(&buf, format, chart.ForSeries(series)); err != nil {
			slog.Warn("render chart failed", slog.String("column", series.Name), slog.String("error", err.Error()))
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		etag := checksum.ETag(buf.Bytes())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "no-cache")
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = w.Write(buf.Bytes())
	}
}
