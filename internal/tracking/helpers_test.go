package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/patrickwarner/openvast/internal/macros"
	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/vast"
	"go.uber.org/zap/zaptest"
)

type sentBatch struct {
	urls []string
	info BeaconInfo
}

// recordingSender captures batches instead of sending them.
type recordingSender struct {
	mu      sync.Mutex
	batches []sentBatch
}

func (s *recordingSender) Dispatch(_ context.Context, urls []string, info BeaconInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, sentBatch{urls: append([]string(nil), urls...), info: info})
}

func (s *recordingSender) sent() []sentBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentBatch(nil), s.batches...)
}

// memRecorder keeps beacon records in memory.
type memRecorder struct {
	mu   sync.Mutex
	recs []BeaconRecord
}

func (m *memRecorder) RecordBeacon(_ context.Context, rec BeaconRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) records() []BeaconRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BeaconRecord(nil), m.recs...)
}

// beaconServer records the request URIs it receives in arrival order.
type beaconServer struct {
	*httptest.Server
	mu   sync.Mutex
	uris []string
}

func newBeaconServer(t *testing.T, status int) *beaconServer {
	t.Helper()
	bs := &beaconServer{}
	bs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bs.mu.Lock()
		bs.uris = append(bs.uris, r.URL.RequestURI())
		bs.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("GIF89a"))
	}))
	t.Cleanup(bs.Close)
	return bs
}

func (bs *beaconServer) received() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return append([]string(nil), bs.uris...)
}

func newTestProcessor(t *testing.T, table map[vast.Event][]string, delegate Delegate, sender Sender) (*EventProcessor, *observability.MockMetricsRegistry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMockMetricsRegistry()
	expander := macros.NewExpanderForTesting(logger, false)
	return NewEventProcessor(table, delegate, sender, expander, logger, metrics, WithSessionID("sess-1")), metrics
}
