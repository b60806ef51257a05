package httphandler

import (
	"net/http"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httpjson"
)

// HealthHandler answers liveness probes on both the admin mux and each
// sandbox server.
type HealthHandler struct {
	Version string
	Service string
}

func (h HealthHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	httpjson.Render(rw, map[string]string{
		"status":  "pass",
		"service": h.Service,
		"version": h.Version,
	})
}
