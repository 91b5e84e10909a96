package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records metric calls as counters keyed by name and labels
// so tests can assert on what a component reported.
type MockMetricsRegistry struct {
	mu       sync.Mutex
	counts   map[string]int
	inFlight float64
	sessions int
}

// NewMockMetricsRegistry creates an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{counts: make(map[string]int)}
}

func (m *MockMetricsRegistry) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[key]++
}

// Count returns how many times key was recorded, e.g. "beacons:start:ok".
func (m *MockMetricsRegistry) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// InFlight returns the current value of the in-flight gauge.
func (m *MockMetricsRegistry) InFlight() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// ActiveSessions returns the last reported session count.
func (m *MockMetricsRegistry) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc("requests:" + endpoint + ":" + method + ":" + status)
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementParses(outcome string) {
	m.inc("parses:" + outcome)
}

func (m *MockMetricsRegistry) RecordParseLatency(duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementDocumentFetches(outcome string) {
	m.inc("fetches:" + outcome)
}

func (m *MockMetricsRegistry) IncrementWrapperHops() {
	m.inc("wrapper_hops")
}

func (m *MockMetricsRegistry) IncrementUnsupportedMacros(macro string) {
	m.inc("unsupported_macros:" + macro)
}

func (m *MockMetricsRegistry) IncrementBeacons(event, outcome string) {
	m.inc("beacons:" + event + ":" + outcome)
}

func (m *MockMetricsRegistry) RecordBeaconLatency(duration time.Duration) {}

func (m *MockMetricsRegistry) AddBeaconsInFlight(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight += delta
}

func (m *MockMetricsRegistry) IncrementSuppressedEvents(event string) {
	m.inc("suppressed:" + event)
}

func (m *MockMetricsRegistry) SetActiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = n
}

func (m *MockMetricsRegistry) IncrementErrorReports(outcome string) {
	m.inc("error_reports:" + outcome)
}
