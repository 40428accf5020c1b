package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation. All observers are
// safe to call on a nil receiver so instrumentation can be disabled by
// simply not wiring the service.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	forwardedTotal  prometheus.Counter
	sweepProcessed  *prometheus.CounterVec
	decisionTotal   *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	dispatchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_messages_enqueued_total",
		Help: "Sync messages written to the outbox, by action",
	}, []string{"action"})

	forwardedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_messages_forwarded_total",
		Help: "Sync messages delivered to device streams",
	})

	sweepProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_sweep_processed_total",
		Help: "Announcements advanced by scheduler sweeps, by phase",
	}, []string{"phase"})

	decisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_decisions_total",
		Help: "Reviewer decisions applied to requests, by action and outcome",
	}, []string{"action", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, dispatchTotal, forwardedTotal, sweepProcessed, decisionTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		dispatchTotal:   dispatchTotal,
		forwardedTotal:  forwardedTotal,
		sweepProcessed:  sweepProcessed,
		decisionTotal:   decisionTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveDispatch counts sync messages written to the outbox.
func (m *MetricsService) ObserveDispatch(action string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dispatchTotal.WithLabelValues(action).Add(float64(count))
}

// ObserveForwarded counts sync messages delivered to device streams.
func (m *MetricsService) ObserveForwarded(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.forwardedTotal.Add(float64(count))
}

// ObserveSweep counts announcements advanced by a scheduler sweep phase.
func (m *MetricsService) ObserveSweep(phase string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepProcessed.WithLabelValues(phase).Add(float64(count))
}

// ObserveDecision counts one applied reviewer decision.
func (m *MetricsService) ObserveDecision(action, outcome string) {
	if m == nil {
		return
	}
	m.decisionTotal.WithLabelValues(action, outcome).Inc()
}
