// Package metrics holds the Prometheus collectors of the clinic server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	patientsRegistered prometheus.Counter
	patientsDeleted    prometheus.Counter
	visitsRegistered   prometheus.Counter
	visitsDeleted      prometheus.Counter
	counterOverwrites  prometheus.Counter
	counterRepairs     prometheus.Counter
	eventFailures      *prometheus.CounterVec
	logins             *prometheus.CounterVec
}

// New creates a registry with the Go and process collectors plus every
// application metric.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		patientsRegistered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patients_registered_total",
			Help:      "Patients registered",
		}),
		patientsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patients_deleted_total",
			Help:      "Patients deleted",
		}),
		visitsRegistered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_registered_total",
			Help:      "Visits registered, including first visits",
		}),
		visitsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_deleted_total",
			Help:      "Visits deleted",
		}),
		counterOverwrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visit_count_overwrites_total",
			Help:      "Manual visit counter overwrites",
		}),
		counterRepairs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visit_count_repairs_total",
			Help:      "Visit counters changed by reconciliation",
		}),
		eventFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Events that could not be published",
		}, []string{"type"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) PatientRegistered() {
	if m == nil {
		return
	}
	m.patientsRegistered.Inc()
	m.visitsRegistered.Inc()
}

func (m *Metrics) PatientDeleted() {
	if m == nil {
		return
	}
	m.patientsDeleted.Inc()
}

func (m *Metrics) VisitRegistered() {
	if m == nil {
		return
	}
	m.visitsRegistered.Inc()
}

func (m *Metrics) VisitDeleted() {
	if m == nil {
		return
	}
	m.visitsDeleted.Inc()
}

func (m *Metrics) VisitCountOverwritten() {
	if m == nil {
		return
	}
	m.counterOverwrites.Inc()
}

func (m *Metrics) VisitCountsRepaired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.counterRepairs.Add(float64(n))
}

func (m *Metrics) EventPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Login(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}
