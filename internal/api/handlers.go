package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/openvast/internal/errreport"
	"github.com/patrickwarner/openvast/internal/middleware"
	"github.com/patrickwarner/openvast/internal/tracking"
	"github.com/patrickwarner/openvast/internal/vast"
)

// maxRequestBytes bounds inline XML and JSON request bodies.
const maxRequestBytes = 2 << 20

// sourceRequest is the JSON form of a parse or session request.
type sourceRequest struct {
	URL string `json:"url"`
	XML string `json:"xml"`
}

type parseResponse struct {
	SessionID     string          `json:"session_id,omitempty"`
	Model         *vast.Model     `json:"model"`
	SelectedMedia *vast.MediaFile `json:"selected_media,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
}

type parseErrorResponse struct {
	Error         string   `json:"error"`
	Kind          string   `json:"kind"`
	VASTErrorCode int      `json:"vast_error_code"`
	Depth         int      `json:"depth"`
	ErrorURLs     []string `json:"error_urls,omitempty"`
}

type signalRequest struct {
	Signal     string `json:"signal"`
	PositionMs int64  `json:"position_ms"`
	DurationMs int64  `json:"duration_ms"`
	ErrorCode  int    `json:"error_code"`
}

type sessionResponse struct {
	SessionID       string       `json:"session_id"`
	State           string       `json:"state"`
	DeviceType      string       `json:"device_type"`
	Fired           []vast.Event `json:"fired"`
	NewlyFired      []vast.Event `json:"newly_fired,omitempty"`
	ClickThroughURL string       `json:"click_through_url,omitempty"`
}

// readSource decodes a request body into a VAST source. JSON bodies carry a
// url or inline xml; anything else is taken as the document itself.
func readSource(r *http.Request) (vast.Source, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return vast.Source{}, fmt.Errorf("read body: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return vast.Source{}, errors.New("empty body")
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") && trimmed[0] != '{' {
		return vast.Source{Data: body}, nil
	}
	var req sourceRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return vast.Source{}, fmt.Errorf("invalid JSON: %w", err)
	}
	switch {
	case req.XML != "":
		return vast.Source{Data: []byte(req.XML)}, nil
	case req.URL != "":
		return vast.Source{URL: req.URL}, nil
	default:
		return vast.Source{}, errors.New("url or xml is required")
	}
}

func (s *Server) parse(ctx context.Context, src vast.Source) (*vast.Model, error) {
	var (
		model *vast.Model
		err   error
	)
	if src.Data != nil {
		model, err = s.Parser.ParseBytes(ctx, src.Data)
	} else {
		model, err = s.Parser.Parse(ctx, src.URL)
	}
	if err != nil {
		return nil, err
	}
	s.checkMacros(model)
	return model, nil
}

// checkMacros counts the placeholders in the expanded URL sets that no
// registered macro handles. Tracking-event URLs are sent verbatim and are
// not checked.
func (s *Server) checkMacros(m *vast.Model) {
	if s.Expander == nil {
		return
	}
	seen := make(map[string]struct{})
	for _, set := range [][]string{m.ImpressionURLs, m.ClickTrackingURLs, m.ErrorURLs} {
		for _, u := range set {
			for _, name := range s.Expander.ValidateURL(u) {
				s.Metrics.IncrementUnsupportedMacros(name)
				seen[name] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	s.Logger.Debug("document uses unsupported macros",
		zap.String("ad_id", m.AdID),
		zap.Strings("macros", names))
}

func (s *Server) selectMedia(m *vast.Model) *vast.MediaFile {
	mf, ok := m.SelectMediaFile(s.Config.PlayableMIMETypes)
	if !ok {
		return nil
	}
	return &mf
}

func (s *Server) writeParseError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, sessionID string) {
	resp := parseErrorResponse{
		Error:         err.Error(),
		Kind:          vast.KindName(err),
		VASTErrorCode: vast.ErrorCode(err),
	}
	var pe *vast.ParseError
	if errors.As(err, &pe) {
		resp.Depth = pe.Depth
		resp.ErrorURLs = pe.ErrorURLs
	}
	s.Reporter.ReportError(err, errreport.ClientError{
		SessionID:    sessionID,
		BrowserAgent: r.UserAgent(),
		DeviceType:   DeviceClass(r.UserAgent()),
	})
	writeJSON(w, logger, http.StatusUnprocessableEntity, resp)
}

// ParseHandler resolves a VAST document and returns the model with the media
// file a typical player would pick.
func (s *Server) ParseHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "parse"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	src, err := readSource(r)
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, err.Error())
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	model, err := s.parse(r.Context(), src)
	if err != nil {
		logger.Info("parse failed",
			zap.String("url", src.URL),
			zap.String("kind", vast.KindName(err)),
			zap.Error(err))
		s.writeParseError(w, r, logger, err, "")
		s.observe(endpoint, method, http.StatusUnprocessableEntity, start)
		return
	}

	writeJSON(w, logger, http.StatusOK, parseResponse{
		Model:         model,
		SelectedMedia: s.selectMedia(model),
		DurationMs:    model.Duration.Milliseconds(),
	})
	s.observe(endpoint, method, http.StatusOK, start)
}

// fireParseErrors reports a failed chain to the error URLs of the wrappers
// already parsed, as a player would.
func (s *Server) fireParseErrors(err error, sessionID, ua, device string) {
	var pe *vast.ParseError
	if !errors.As(err, &pe) || len(pe.ErrorURLs) == 0 {
		return
	}
	proc := tracking.NewEventProcessor(nil, nil, s.Sender, s.Expander, s.Logger, s.Metrics,
		tracking.WithSessionID(sessionID),
		tracking.WithDeviceType(device),
		tracking.WithUserAgent(ua),
	)
	proc.SendError(pe.ErrorURLs, pe.Code())
}

// sessionDelegate logs session callbacks and reports playback failures.
func (s *Server) sessionDelegate(logger *zap.Logger, sessionID, ua, device string) tracking.Delegate {
	return tracking.DelegateFuncs{
		OnWillShow: func() { logger.Debug("ad showing") },
		OnDidHide:  func() { logger.Debug("ad hidden") },
		OnClickThrough: func(url string) {
			logger.Debug("click through", zap.String("url", url))
		},
		OnError: func(err error) {
			logger.Info("playback failed", zap.Error(err))
			s.Reporter.ReportError(err, errreport.ClientError{
				SessionID:    sessionID,
				BrowserAgent: ua,
				DeviceType:   device,
			})
		},
	}
}

// CreateSessionHandler parses a document and opens a server-side tracking
// session for it. Beacons carry the caller's User-Agent.
func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "create_session"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	src, err := readSource(r)
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, err.Error())
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	id := newSessionID()
	ua := r.UserAgent()
	device := DeviceClass(ua)
	model, err := s.parse(r.Context(), src)
	if err != nil {
		s.fireParseErrors(err, id, ua, device)
		s.writeParseError(w, r, logger, err, id)
		s.observe(endpoint, method, http.StatusUnprocessableEntity, start)
		return
	}

	sessLogger := s.Logger.With(zap.String("session_id", id))
	proc := tracking.NewEventProcessor(
		model.TrackingTable(),
		s.sessionDelegate(sessLogger, id, ua, device),
		s.Sender,
		s.Expander,
		s.Logger,
		s.Metrics,
		tracking.WithSessionID(id),
		tracking.WithDeviceType(device),
		tracking.WithUserAgent(ua),
	)
	media := s.selectMedia(model)
	asset := ""
	if media != nil {
		asset = media.URL
	}
	entry := &sessionEntry{
		ID:         id,
		Session:    tracking.NewSession(model, proc, asset, sessLogger),
		Model:      model,
		Media:      media,
		DeviceType: device,
	}
	s.sessions.add(entry)
	logger.Info("session created",
		zap.String("session_id", id),
		zap.String("ad_id", model.AdID),
		zap.String("device_type", device),
		zap.Int("wrapper_depth", model.WrapperDepth))

	writeJSON(w, logger, http.StatusCreated, parseResponse{
		SessionID:     id,
		Model:         model,
		SelectedMedia: media,
		DurationMs:    model.Duration.Milliseconds(),
	})
	s.observe(endpoint, method, http.StatusCreated, start)
}

func (s *Server) describe(e *sessionEntry) sessionResponse {
	return sessionResponse{
		SessionID:  e.ID,
		State:      e.Session.State().String(),
		DeviceType: e.DeviceType,
		Fired:      e.Session.Processor().FiredEvents(),
	}
}

// GetSessionHandler reports a session's state and fired events.
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "get_session"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	e, ok := s.sessions.get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, logger, http.StatusNotFound, "session not found")
		s.observe(endpoint, method, http.StatusNotFound, start)
		return
	}
	writeJSON(w, logger, http.StatusOK, s.describe(e))
	s.observe(endpoint, method, http.StatusOK, start)
}

// DeleteSessionHandler abandons a session. Pending beacons are canceled.
func (s *Server) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "delete_session"
	const method = "DELETE"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	id := mux.Vars(r)["id"]
	if !s.sessions.remove(id) {
		writeError(w, logger, http.StatusNotFound, "session not found")
		s.observe(endpoint, method, http.StatusNotFound, start)
		return
	}
	logger.Info("session abandoned", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
	s.observe(endpoint, method, http.StatusNoContent, start)
}

// applySignal forwards one player signal to the session.
func applySignal(e *sessionEntry, req signalRequest) (sessionResponse, error) {
	var resp sessionResponse
	sess := e.Session
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Signal)) {
	case "rendered", "impression":
		err = sess.Rendered()
	case "pause":
		err = sess.Pause()
	case "resume":
		err = sess.Resume()
	case "progress":
		resp.NewlyFired, err = sess.Progress(
			time.Duration(req.PositionMs)*time.Millisecond,
			time.Duration(req.DurationMs)*time.Millisecond)
	case "complete":
		err = sess.Complete()
	case "close":
		err = sess.Close()
	case "click":
		if err = sess.Click(); err == nil {
			resp.ClickThroughURL = e.Model.ClickThroughURL
		}
	case "error":
		code := req.ErrorCode
		if code == 0 {
			code = vast.CodeUndefinedError
		}
		err = sess.Fail(code, nil)
	default:
		return resp, errUnknownSignal
	}
	return resp, err
}

var errUnknownSignal = errors.New("unknown signal")

// SignalHandler applies a player signal such as rendered, progress or click.
func (s *Server) SignalHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "signal"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	e, ok := s.sessions.get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, logger, http.StatusNotFound, "session not found")
		s.observe(endpoint, method, http.StatusNotFound, start)
		return
	}

	var req signalRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, logger, http.StatusBadRequest, "invalid JSON")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	result, err := applySignal(e, req)
	switch {
	case errors.Is(err, errUnknownSignal):
		writeError(w, logger, http.StatusBadRequest, fmt.Sprintf("unknown signal %q", req.Signal))
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	case errors.Is(err, tracking.ErrInvalidSignal):
		writeError(w, logger, http.StatusConflict, err.Error())
		s.observe(endpoint, method, http.StatusConflict, start)
		return
	case err != nil:
		logger.Error("signal failed", zap.String("signal", req.Signal), zap.Error(err))
		writeError(w, logger, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}

	resp := s.describe(e)
	resp.NewlyFired = result.NewlyFired
	resp.ClickThroughURL = result.ClickThroughURL
	writeJSON(w, logger, http.StatusOK, resp)
	s.observe(endpoint, method, http.StatusOK, start)
}

// BeaconsHandler lists the beacon log for a session.
func (s *Server) BeaconsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "beacons"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.BeaconLog == nil {
		writeError(w, logger, http.StatusServiceUnavailable, "beacon log disabled")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}

	id := mux.Vars(r)["id"]
	records, err := s.BeaconLog.GetBeaconsBySession(r.Context(), id, 0)
	if err != nil {
		logger.Error("beacon query failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, logger, http.StatusInternalServerError, "beacon query failed")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	if records == nil {
		records = []tracking.BeaconRecord{}
	}
	writeJSON(w, logger, http.StatusOK, records)
	s.observe(endpoint, method, http.StatusOK, start)
}
