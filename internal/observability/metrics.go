package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvast_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openvast_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// completed parses labelled by outcome (ok or the failure kind)
	ParseCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvast_parses_total",
			Help: "Total VAST parses by outcome",
		},
		[]string{"outcome"},
	)

	// end-to-end parse latency including every wrapper hop
	ParseLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "openvast_parse_duration_seconds",
			Help:    "Duration of VAST parses including wrapper resolution",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// document fetches labelled by outcome (ok, error, cache_hit)
	DocumentFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvast_document_fetches_total",
			Help: "Total VAST document fetches",
		},
		[]string{"outcome"},
	)

	// wrapper redirections followed
	WrapperHops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openvast_wrapper_hops_total",
			Help: "Total wrapper redirections followed",
		},
	)

	// placeholders in parsed documents that no registered macro handles
	UnsupportedMacros = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvast_unsupported_macros_total",
			Help: "Macro placeholders found in documents with no registered expansion",
		},
		[]string{"macro"},
	)

	// tracking beacons labelled by event and outcome
	BeaconCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvast_beacons_total",
			Help: "Total tracking beacons dispatched",
		},
		[]string{"event", "outcome"},
	)

	// beacon round trip latency
	BeaconLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "openvast_beacon_duration_seconds",
			Help:    "Duration of tracking beacon requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// beacon requests currently in flight
	BeaconsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openvast_beacons_in_flight",
			Help: "Tracking beacons currently in flight",
		},
	)

	// repeated trackEvent calls suppressed by the fired set
	SuppressedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvast_suppressed_events_total",
			Help: "Tracking events suppressed because they already fired",
		},
		[]string{"event"},
	)

	// live server-side tracking sessions
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openvast_active_sessions",
			Help: "Server-side tracking sessions currently open",
		},
	)

	// client error reports labelled by outcome
	ErrorReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvast_error_reports_total",
			Help: "Total client error reports sent",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		ParseCount,
		ParseLatency,
		DocumentFetches,
		WrapperHops,
		UnsupportedMacros,
		BeaconCount,
		BeaconLatency,
		BeaconsInFlight,
		SuppressedEvents,
		ActiveSessions,
		ErrorReports,
	)
}
