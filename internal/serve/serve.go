// Package serve assembles the per-project sandbox HTTP surface: the OAuth
// token endpoint plus the simulated Daraja APIs, scoped to one project.
package serve

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/callbacks"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/monitor"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/asyncop"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httphandler"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httpjson"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/middleware"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/stkpending"
)

// ServeOptions wires one project's sandbox server.
type ServeOptions struct {
	ProjectID       int64
	Models          *data.Models
	Orchestrator    *callbacks.Orchestrator
	Registry        *stkpending.Registry
	Emitter         events.Emitter
	MonitorService  *monitor.Service
	Version         string
	StkSafetyWindow time.Duration
}

func (opts *ServeOptions) validate() error {
	if opts.Models == nil {
		return fmt.Errorf("models is required")
	}
	if opts.Orchestrator == nil {
		return fmt.Errorf("callback orchestrator is required")
	}
	if opts.Registry == nil {
		return fmt.Errorf("stk pending registry is required")
	}
	return nil
}

func (opts *ServeOptions) setDefaults() {
	if opts.Emitter == nil {
		opts.Emitter = events.LogEmitter{}
	}
	if opts.StkSafetyWindow == 0 {
		opts.StkSafetyWindow = httphandler.DefaultStkSafetyWindow
	}
}

// NewSandboxHandler builds the project-scoped router. Middleware order
// matters: recover outermost, then the API log so even panics get a row, then
// bearer auth on the Daraja routes only.
func NewSandboxHandler(opts ServeOptions) (http.Handler, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("validating sandbox server options: %w", err)
	}
	opts.setDefaults()

	notifier := &events.TransactionNotifier{Emitter: opts.Emitter}

	mux := chi.NewMux()
	mux.Use(middleware.RecoverHandler)
	mux.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}).Handler)
	mux.Use(middleware.RequestLogMiddleware(opts.Models, opts.ProjectID, opts.Emitter, opts.MonitorService))

	mux.Get("/", func(rw http.ResponseWriter, req *http.Request) {
		httpjson.Render(rw, map[string]string{"service": "daraja-sandbox", "project": fmt.Sprintf("%d", opts.ProjectID)})
	})
	mux.Method(http.MethodGet, "/health", httphandler.HealthHandler{Version: opts.Version, Service: "sandbox"})

	oauthHandler := httphandler.OAuthHandler{Models: opts.Models, ProjectID: opts.ProjectID}
	mux.Get("/oauth/v1/generate", oauthHandler.GenerateToken)

	mux.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuthMiddleware(opts.Models, opts.ProjectID, middleware.NewTokenCache()))

		r.Post("/mpesa/stkpush/v1/processrequest", asyncop.Handler[httphandler.STKPushRequest, httphandler.STKPushAck, httphandler.STKJob, httphandler.STKCallbackEnvelope](
			httphandler.STKPushHandler{
				Models:       opts.Models,
				Project:      opts.ProjectID,
				Registry:     opts.Registry,
				Notifier:     notifier,
				SafetyWindow: opts.StkSafetyWindow,
			}, opts.Orchestrator))

		r.Post("/mpesa/b2c/v1/paymentrequest", asyncop.Handler[httphandler.B2CRequest, httphandler.B2CAck, httphandler.B2CJob, httphandler.B2CResultEnvelope](
			httphandler.B2CHandler{
				Models:   opts.Models,
				Project:  opts.ProjectID,
				Notifier: notifier,
			}, opts.Orchestrator))

		c2bHandler := httphandler.C2BHandler{
			Models:       opts.Models,
			ProjectID:    opts.ProjectID,
			Orchestrator: opts.Orchestrator,
			Notifier:     notifier,
		}
		r.Post("/mpesa/c2b/v1/registerurl", c2bHandler.RegisterURL)
		r.Post("/mpesa/c2b/v1/simulate", c2bHandler.Simulate)
	})

	return mux, nil
}
