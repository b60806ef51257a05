// Package monitor exposes prometheus collectors for the sandbox supervisor
// and its per-project servers.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Service struct {
	registry            *prometheus.Registry
	httpRequestDuration *prometheus.SummaryVec
	callbackDeliveries  *prometheus.CounterVec
	runningSandboxes    prometheus.Gauge
}

func NewService() *Service {
	registry := prometheus.NewRegistry()

	s := &Service{
		registry: registry,
		httpRequestDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: "sandbox",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of inbound sandbox API requests.",
		}, []string{"method", "route", "status"}),
		callbackDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandbox",
			Name:      "callback_deliveries_total",
			Help:      "Callback delivery outcomes by type.",
		}, []string{"type", "outcome"}),
		runningSandboxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sandbox",
			Name:      "running_sandboxes",
			Help:      "Number of live per-project sandbox servers.",
		}),
	}

	registry.MustRegister(s.httpRequestDuration, s.callbackDeliveries, s.runningSandboxes)
	return s
}

// ObserveHTTPRequest records one served sandbox request. Safe on a nil
// receiver so wiring stays optional in tests.
func (s *Service) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	if s == nil {
		return
	}
	s.httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func (s *Service) ObserveCallback(callbackType string, delivered bool) {
	if s == nil {
		return
	}
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	s.callbackDeliveries.WithLabelValues(callbackType, outcome).Inc()
}

func (s *Service) SetRunningSandboxes(n int) {
	if s == nil {
		return
	}
	s.runningSandboxes.Set(float64(n))
}

// Handler serves the /metrics endpoint on the admin mux.
func (s *Service) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
