package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/openvast/internal/analytics"
	"github.com/patrickwarner/openvast/internal/config"
	"github.com/patrickwarner/openvast/internal/db"
	"github.com/patrickwarner/openvast/internal/errreport"
	"github.com/patrickwarner/openvast/internal/macros"
	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/tracking"
	"github.com/patrickwarner/openvast/internal/vast"
)

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Parser    *vast.Parser
	Sender    tracking.Sender
	Expander  *macros.Expander
	Reporter  *errreport.Reporter
	Store     *db.RedisStore
	BeaconLog *analytics.BeaconLog
	Metrics   observability.MetricsRegistry
	Config    config.Config

	sessions *sessionRegistry
}

// NewServer constructs a Server. store and beaconLog may be nil.
func NewServer(logger *zap.Logger, parser *vast.Parser, sender tracking.Sender, expander *macros.Expander, reporter *errreport.Reporter, store *db.RedisStore, beaconLog *analytics.BeaconLog, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	return &Server{
		Logger:    logger,
		Parser:    parser,
		Sender:    sender,
		Expander:  expander,
		Reporter:  reporter,
		Store:     store,
		BeaconLog: beaconLog,
		Metrics:   metrics,
		Config:    cfg,
		sessions:  newSessionRegistry(metrics),
	}
}

// Router registers the vastd routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/parse", s.ParseHandler).Methods("POST")
	r.HandleFunc("/v1/sessions", s.CreateSessionHandler).Methods("POST")
	r.HandleFunc("/v1/sessions/{id}", s.GetSessionHandler).Methods("GET")
	r.HandleFunc("/v1/sessions/{id}", s.DeleteSessionHandler).Methods("DELETE")
	r.HandleFunc("/v1/sessions/{id}/signals", s.SignalHandler).Methods("POST")
	r.HandleFunc("/v1/sessions/{id}/beacons", s.BeaconsHandler).Methods("GET")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	return r
}

// observe records request count and latency.
func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, errorResponse{Error: msg})
}
