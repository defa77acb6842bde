package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/location"
	"github.com/phbpx/leadadmin/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// Deps is everything the router needs to serve the API.
type Deps struct {
	ServerName string
	Leads      *service.LeadService
	Identity   leadadmin.Identity
	Accounts   Accounts
	// Objects, when set, serves stored images under /objects.
	Objects     http.Handler
	Log         *otelzap.SugaredLogger
	StatusCheck func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	leadHandler := NewLeadHandler(d.Leads, d.Log)
	uploadHandler := NewUploadHandler(d.Leads, d.Log)
	authHandler := NewAuthHandler(d.Identity, d.Accounts, d.Log)
	requireSession := RequireSession(d.Identity)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(otelchi.Middleware(d.ServerName, otelchi.WithChiRoutes(r)))

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if d.StatusCheck != nil {
			if err := d.StatusCheck(r.Context()); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "db not ready"}
			}
		}
		respond(r.Context(), rw, status, body)
	})
	r.Handle("/metrics", promhttp.Handler())

	if d.Objects != nil {
		r.Handle("/objects/*", http.StripPrefix("/objects", d.Objects))
	}

	r.Get("/locations", func(rw http.ResponseWriter, r *http.Request) {
		respond(r.Context(), rw, http.StatusOK, location.Cities())
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.With(requireSession).Post("/logout", authHandler.Logout)
		r.With(requireSession).Get("/session", authHandler.Session)

		if d.Accounts != nil {
			r.With(requireSession).Post("/signup", authHandler.SignUp)
			r.Post("/confirm", authHandler.Confirm)
			r.Post("/reset", authHandler.RequestReset)
			r.Post("/reset/confirm", authHandler.Reset)
		}
	})

	r.Route("/leads", func(r chi.Router) {
		r.Use(requireSession)
		r.Get("/", leadHandler.List)
		r.Post("/", leadHandler.Create)
		r.Get("/{id}", leadHandler.GetByID)
		r.Delete("/{id}", leadHandler.Delete)
	})

	r.Route("/uploads", func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/", uploadHandler.Stage)
		r.Post("/remove", uploadHandler.Remove)
	})

	return r
}
