package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/offbalance/internal/chart"
	"github.com/starford/offbalance/internal/session"
	"github.com/starford/offbalance/internal/sse"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Sessions  *session.Manager
	Fetcher   session.Fetcher
	Snapshots SnapshotLister // optional
	Broker    *sse.Broker
	UI        UIOptions

	AuthEnabled bool
	AuthToken   string
}

// NewRouter creates a chi router serving the page, its form actions, the
// chart images and the JSON API under /api.
func NewRouter(d Deps) chi.Router {
	if d.UI.Title == "" {
		d.UI.Title = DefaultTitle
	}
	if d.UI.TableRows <= 0 {
		d.UI.TableRows = 200
	}
	if d.UI.ChartFormat == "" {
		d.UI.ChartFormat = chart.PNG
	}
	if d.Broker == nil {
		d.Broker = sse.NewBroker(0)
	}
	h := &Handler{
		sessions:  d.Sessions,
		fetcher:   d.Fetcher,
		snapshots: d.Snapshots,
		broker:    d.Broker,
		ui:        d.UI,
	}

	r := chi.NewRouter()
	r.Use(LoadSession(d.Sessions))
	ensure := EnsureSession(d.Sessions)

	// Page and form actions. Only Download starts a session.
	r.Get("/", h.Page)
	r.With(ensure).Post("/download", h.DownloadForm)
	r.Post("/select", h.SelectForm)
	r.Post("/plot", h.PlotForm)
	r.Post("/reset", h.ResetForm)
	r.Get("/chart.png", h.Chart(chart.PNG))
	r.Get("/chart.svg", h.Chart(chart.SVG))
	r.Get("/events", h.Events)

	// JSON API.
	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(d.AuthEnabled, d.AuthToken))

		r.With(ensure).Post("/session", h.CreateSession)
		r.With(ensure).Post("/session/download", h.Download)
		r.Get("/snapshots", h.Snapshots)

		r.Group(func(r chi.Router) {
			r.Use(RequireSession)
			r.Get("/session", h.GetSession)
			r.Delete("/session", h.DeleteSession)
			r.Post("/session/select", h.Select)
			r.Post("/session/plot", h.Plot)

			r.Get("/columns", h.Columns)
			r.Get("/series/{column}", h.Series)
			r.Get("/rows", h.Rows)
			r.Get("/events", h.Events)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	})

	return r
}
