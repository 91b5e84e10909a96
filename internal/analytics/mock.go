package analytics

import (
	"context"
	"sync"

	"github.com/patrickwarner/openvast/internal/tracking"
)

var _ tracking.BeaconRecorder = (*MockBeaconLog)(nil)

// MockBeaconLog keeps beacon records in memory for tests.
type MockBeaconLog struct {
	mu      sync.Mutex
	records []tracking.BeaconRecord
	// Err, when set, is returned from RecordBeacon.
	Err error
}

// NewMockBeaconLog creates an empty mock.
func NewMockBeaconLog() *MockBeaconLog {
	return &MockBeaconLog{}
}

// RecordBeacon stores rec.
func (m *MockBeaconLog) RecordBeacon(ctx context.Context, rec tracking.BeaconRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns the stored records, optionally filtered by session.
func (m *MockBeaconLog) Records(sessionID string) []tracking.BeaconRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tracking.BeaconRecord
	for _, r := range m.records {
		if sessionID == "" || r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}
