package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/tracking"
	"github.com/patrickwarner/openvast/internal/vast"
)

// sessionEntry is a server-side tracking session and what the API reports
// about it.
type sessionEntry struct {
	ID         string
	Session    *tracking.Session
	Model      *vast.Model
	Media      *vast.MediaFile
	DeviceType string
	CreatedAt  time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (e *sessionEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *sessionEntry) idleSince(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastSeen)
}

// sessionRegistry holds live sessions keyed by ID.
type sessionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
	metrics observability.MetricsRegistry
	now     func() time.Time
}

func newSessionRegistry(metrics observability.MetricsRegistry) *sessionRegistry {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &sessionRegistry{
		entries: make(map[string]*sessionEntry),
		metrics: metrics,
		now:     time.Now,
	}
}

func newSessionID() string {
	return uuid.New().String()
}

func (r *sessionRegistry) add(e *sessionEntry) {
	now := r.now()
	e.CreatedAt = now
	e.lastSeen = now
	r.mu.Lock()
	r.entries[e.ID] = e
	n := len(r.entries)
	r.mu.Unlock()
	r.metrics.SetActiveSessions(n)
}

func (r *sessionRegistry) get(id string) (*sessionEntry, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		e.touch(r.now())
	}
	return e, ok
}

// remove deletes the session and abandons it so no further beacons leave.
func (r *sessionRegistry) remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.Session.Abandon()
	r.metrics.SetActiveSessions(n)
	return true
}

func (r *sessionRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// reap abandons sessions idle longer than ttl and returns how many it removed.
func (r *sessionRegistry) reap(ttl time.Duration) int {
	now := r.now()
	var stale []string
	r.mu.RLock()
	for id, e := range r.entries {
		if e.idleSince(now) > ttl {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if r.remove(id) {
			removed++
		}
	}
	return removed
}

// StartSessionReaper abandons idle sessions every interval until ctx is done.
func (s *Server) StartSessionReaper(ctx context.Context, interval time.Duration) {
	ttl := s.Config.SessionTTL
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sessions.reap(ttl); n > 0 {
					s.Logger.Info("abandoned idle sessions",
						zap.Int("count", n),
						zap.Int("remaining", s.sessions.len()))
				}
			}
		}
	}()
}

// AbandonAll abandons every live session. Used on shutdown.
func (s *Server) AbandonAll() {
	s.sessions.mu.RLock()
	ids := make([]string, 0, len(s.sessions.entries))
	for id := range s.sessions.entries {
		ids = append(ids, id)
	}
	s.sessions.mu.RUnlock()
	for _, id := range ids {
		s.sessions.remove(id)
	}
}
