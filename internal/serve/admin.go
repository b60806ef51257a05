package serve

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/monitor"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httphandler"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/middleware"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/settings"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/stkpending"
)

// AdminOptions wires the host-facing control mux.
type AdminOptions struct {
	Models         *data.Models
	Sandboxes      httphandler.SandboxController
	Registry       *stkpending.Registry
	SettingsStore  *settings.Store
	MonitorService *monitor.Service
	Version        string
}

// NewAdminHandler builds the admin mux: no auth, it binds to localhost and
// the host process is the only client.
func NewAdminHandler(opts AdminOptions) (http.Handler, error) {
	if opts.Models == nil {
		return nil, fmt.Errorf("models is required")
	}
	if opts.Sandboxes == nil {
		return nil, fmt.Errorf("sandbox controller is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("stk pending registry is required")
	}

	adminHandler := httphandler.AdminHandler{
		Models:    opts.Models,
		Sandboxes: opts.Sandboxes,
		Registry:  opts.Registry,
	}

	mux := chi.NewMux()
	mux.Use(middleware.RecoverHandler)
	mux.Use(cors.AllowAll().Handler)

	mux.Method(http.MethodGet, "/health", httphandler.HealthHandler{Version: opts.Version, Service: "admin"})
	mux.Method(http.MethodGet, "/metrics", opts.MonitorService.Handler())

	mux.Route("/projects", func(r chi.Router) {
		r.Get("/", adminHandler.ListProjects)
		r.Post("/", adminHandler.CreateProject)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Patch("/", adminHandler.UpdateProject)
			r.Post("/sandbox/start", adminHandler.StartSandbox)
			r.Post("/sandbox/stop", adminHandler.StopSandbox)
			r.Get("/logs/api", adminHandler.ListAPILogs)
			r.Get("/logs/callbacks", adminHandler.ListCallbackLogs)
		})
	})

	mux.Get("/sandboxes", adminHandler.ListSandboxes)
	mux.Post("/stk/resolve", adminHandler.ResolveStk)

	if opts.SettingsStore != nil {
		settingsHandler := httphandler.SettingsHandler{Store: opts.SettingsStore}
		mux.Get("/settings", settingsHandler.Get)
		mux.Patch("/settings", settingsHandler.Update)
	}

	return mux, nil
}
