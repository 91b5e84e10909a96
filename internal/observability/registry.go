package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// so components do not touch the global Prometheus collectors directly.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Parsing metrics
	IncrementParses(outcome string)
	RecordParseLatency(duration time.Duration)
	IncrementDocumentFetches(outcome string)
	IncrementWrapperHops()
	IncrementUnsupportedMacros(macro string)

	// Tracking metrics
	IncrementBeacons(event, outcome string)
	RecordBeaconLatency(duration time.Duration)
	AddBeaconsInFlight(delta float64)
	IncrementSuppressedEvents(event string)

	// Session metrics
	SetActiveSessions(n int)

	// Error reporting metrics
	IncrementErrorReports(outcome string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementParses(outcome string) {
	ParseCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordParseLatency(duration time.Duration) {
	ParseLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementDocumentFetches(outcome string) {
	DocumentFetches.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementWrapperHops() {
	WrapperHops.Inc()
}

func (r *PrometheusRegistry) IncrementUnsupportedMacros(macro string) {
	UnsupportedMacros.WithLabelValues(macro).Inc()
}

func (r *PrometheusRegistry) IncrementBeacons(event, outcome string) {
	BeaconCount.WithLabelValues(event, outcome).Inc()
}

func (r *PrometheusRegistry) RecordBeaconLatency(duration time.Duration) {
	BeaconLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) AddBeaconsInFlight(delta float64) {
	BeaconsInFlight.Add(delta)
}

func (r *PrometheusRegistry) IncrementSuppressedEvents(event string) {
	SuppressedEvents.WithLabelValues(event).Inc()
}

func (r *PrometheusRegistry) SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

func (r *PrometheusRegistry) IncrementErrorReports(outcome string) {
	ErrorReports.WithLabelValues(outcome).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementParses(outcome string)                                       {}
func (r *NoOpRegistry) RecordParseLatency(duration time.Duration)                            {}
func (r *NoOpRegistry) IncrementDocumentFetches(outcome string)                              {}
func (r *NoOpRegistry) IncrementWrapperHops()                                                {}
func (r *NoOpRegistry) IncrementUnsupportedMacros(macro string)                              {}
func (r *NoOpRegistry) IncrementBeacons(event, outcome string)                               {}
func (r *NoOpRegistry) RecordBeaconLatency(duration time.Duration)                           {}
func (r *NoOpRegistry) AddBeaconsInFlight(delta float64)                                     {}
func (r *NoOpRegistry) IncrementSuppressedEvents(event string)                               {}
func (r *NoOpRegistry) SetActiveSessions(n int)                                              {}
func (r *NoOpRegistry) IncrementErrorReports(outcome string)                                 {}
