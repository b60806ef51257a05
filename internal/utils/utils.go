package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
)

// GetRoutePattern returns the matched chi route template, falling back to the
// raw path when the router has no match for the request.
func GetRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}

	routePath := r.URL.Path
	tctx := chi.NewRouteContext()
	routes := rctx.Routes
	if routes != nil && routes.Match(tctx, r.Method, routePath) {
		return tctx.RoutePattern()
	}
	return routePath
}

// FormatBody renders a request/response body for the API log; binary bodies
// are summarized instead of stored raw.
func FormatBody(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	return fmt.Sprintf("<binary data: %d bytes>", len(body))
}

// HeadersToJSON flattens an http.Header into a JSON object of first values.
func HeadersToJSON(h http.Header) string {
	flat := make(map[string]string, len(h))
	for name := range h {
		flat[name] = h.Get(name)
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(out)
}
