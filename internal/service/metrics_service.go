package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the portal.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	bookings        *prometheus.CounterVec
	cancellations   prometheus.Counter
	transitions     *prometheus.CounterVec
	intents         *prometheus.CounterVec
	archiveItems    *prometheus.CounterVec
	slotsReserved   prometheus.Gauge
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appointment_bookings_total",
		Help: "Appointment booking attempts by outcome",
	}, []string{"outcome"})

	cancellations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appointment_cancellations_total",
		Help: "Appointments removed by cancellation or archival",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_transitions_total",
		Help: "Request lifecycle transitions by event and outcome",
	}, []string{"event", "outcome"})

	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_intents_total",
		Help: "Dispatched intents by kind and final status",
	}, []string{"kind", "status"})

	archiveItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_items_total",
		Help: "Archived appointments by outcome",
	}, []string{"outcome"})

	slotsReserved := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "slot_index_reserved",
		Help: "Slots currently held in the slot index",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		bookings, cancellations, transitions, intents, archiveItems, slotsReserved, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		bookings:        bookings,
		cancellations:   cancellations,
		transitions:     transitions,
		intents:         intents,
		archiveItems:    archiveItems,
		slotsReserved:   slotsReserved,
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

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordBooking counts a booking attempt. Outcome is one of booked, conflict, invalid or error.
func (m *MetricsService) RecordBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

// RecordCancellation counts a removed appointment.
func (m *MetricsService) RecordCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// RecordTransition counts a lifecycle event.
func (m *MetricsService) RecordTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

// RecordIntent counts an intent reaching a final dispatch status.
func (m *MetricsService) RecordIntent(kind, status string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(kind, status).Inc()
}

// RecordArchiveItem counts one archived item outcome.
func (m *MetricsService) RecordArchiveItem(outcome string) {
	if m == nil {
		return
	}
	m.archiveItems.WithLabelValues(outcome).Inc()
}

// SetReservedSlots publishes the slot index size.
func (m *MetricsService) SetReservedSlots(n int) {
	if m == nil {
		return
	}
	m.slotsReserved.Set(float64(n))
}
