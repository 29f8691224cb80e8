// Package metrics exposes targetd's Prometheus metrics.
//
// All methods are safe to call on a nil *Metrics, so components can take an
// optional metrics pointer without guarding every call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "targetd"

// Metrics holds the service's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	devices            *prometheus.GaugeVec
	devicePublishes    prometheus.Counter
	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	launches           *prometheus.CounterVec
	launchRequests     *prometheus.CounterVec

	selectionChanges *prometheus.CounterVec
	persistWrites    *prometheus.CounterVec

	provisionMessages *prometheus.CounterVec
	relayFailures     *prometheus.CounterVec
	wsClients         prometheus.Gauge
}

// New creates a fresh registry with every targetd collector registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the last published list by state",
		}, []string{"state"}),
		devicePublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_list_publishes_total",
			Help:      "Number of device lists published by the aggregator",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compatibility_evaluations_total",
			Help:      "Compatibility evaluations by result",
		}, []string{"result"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compatibility_evaluation_duration_seconds",
			Help:      "Duration of compatibility evaluations",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launchable_handle_lookups_total",
			Help:      "Launchable handle lookups by outcome",
		}, []string{"outcome"}),
		launchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_requests_total",
			Help:      "Targets requested through the launch endpoint by result",
		}, []string{"result"}),
		selectionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_changes_total",
			Help:      "Selection changes by origin",
		}, []string{"origin"}),
		persistWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_persist_total",
			Help:      "Selection state persistence attempts by result",
		}, []string{"op", "result"}),
		provisionMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_messages_total",
			Help:      "Provisioning messages received by kind and result",
		}, []string{"kind", "result"}),
		relayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_failures_total",
			Help:      "Output relay sink failures",
		}, []string{"sink"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.devices,
		m.devicePublishes,
		m.evaluations,
		m.evaluationDuration,
		m.launches,
		m.launchRequests,
		m.selectionChanges,
		m.persistWrites,
		m.provisionMessages,
		m.relayFailures,
		m.wsClients,
	)
	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveDeviceList records the composition of a published device list.
func (m *Metrics) ObserveDeviceList(online, offline, templates int) {
	if m == nil {
		return
	}
	m.devicePublishes.Inc()
	m.devices.WithLabelValues("online").Set(float64(online))
	m.devices.WithLabelValues("offline").Set(float64(offline))
	m.devices.WithLabelValues("template").Set(float64(templates))
}

// ObserveEvaluation records one compatibility evaluation. Result is the
// verdict name, or "failed" when the evaluator returned an error.
func (m *Metrics) ObserveEvaluation(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(result).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

// IncLaunch counts a launchable-handle lookup by outcome: how the handle
// was obtained, or why it could not be.
func (m *Metrics) IncLaunch(outcome string) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(outcome).Inc()
}

// IncLaunchRequest counts one target of a launch request. Result is "ok",
// "failed" or "unresolved".
func (m *Metrics) IncLaunchRequest(result string) {
	if m == nil {
		return
	}
	m.launchRequests.WithLabelValues(result).Inc()
}

// IncSelectionChange counts a selection change. Origin is "user" or "reconcile".
func (m *Metrics) IncSelectionChange(origin string) {
	if m == nil {
		return
	}
	m.selectionChanges.WithLabelValues(origin).Inc()
}

// ObservePersist counts a persistence attempt.
func (m *Metrics) ObservePersist(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persistWrites.WithLabelValues(op, result).Inc()
}

// IncProvisionMessage counts a provisioning message.
func (m *Metrics) IncProvisionMessage(kind, result string) {
	if m == nil {
		return
	}
	m.provisionMessages.WithLabelValues(kind, result).Inc()
}

// IncRelayFailure counts a failed delivery to an output sink.
func (m *Metrics) IncRelayFailure(sink string) {
	if m == nil {
		return
	}
	m.relayFailures.WithLabelValues(sink).Inc()
}

// SetWebSocketClients records the number of connected WebSocket clients.
func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
