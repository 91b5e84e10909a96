package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openvast/internal/middleware"
)

type healthResponse struct {
	Status   string            `json:"status"`
	Sessions int               `json:"sessions"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// HealthHandler responds with a status check. Configured Redis and ClickHouse
// backends are pinged; a failing backend degrades the status to 503.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Sessions: s.sessions.len(), Checks: map[string]string{}}
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			logger.Warn("health check failed", zap.String("backend", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			return
		}
		resp.Checks[name] = "ok"
	}
	if s.Store != nil {
		check("redis", s.Store.Ping)
	}
	if s.BeaconLog != nil {
		check("clickhouse", s.BeaconLog.Ping)
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, logger, status, resp)
	s.observe(endpoint, method, status, start)
}
