// Package http wires the server surface: routing, middleware and the
// static dashboard bundle.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/dutydesk/internal/http/controllers"
	"github.com/dropDatabas3/dutydesk/internal/metrics"
)

// Deps collects everything the router needs.
type Deps struct {
	Slack  *controllers.SlackController
	Redeem *controllers.RedeemController
	Admin  *controllers.AdminController

	Metrics   http.Handler
	StaticDir string
}

// NewRouter assembles the chi router.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithAccessLog)
	r.Use(metrics.Instrument)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Post("/slack", deps.Slack.Webhook)
	r.Post("/redeem/{id}", deps.Redeem.Redeem)

	if deps.Admin != nil {
		r.Get("/admin/stats", deps.Admin.Stats)
	}

	r.Get("/home.html", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/", http.StatusFound)
	})

	// dashboard bundle
	if deps.StaticDir != "" {
		fs := http.FileServer(http.Dir(deps.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}
