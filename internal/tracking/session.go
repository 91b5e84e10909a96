package tracking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickwarner/openvast/internal/macros"
	"github.com/patrickwarner/openvast/internal/vast"
	"go.uber.org/zap"
)

// State is a point in the playback lifecycle.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateCompleted
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidSignal is returned for a signal the current state does not accept.
// The signal has no effect.
var ErrInvalidSignal = errors.New("signal not valid in current state")

var quartiles = []struct {
	ratio float64
	event vast.Event
}{
	{0.25, vast.EventFirstQuartile},
	{0.50, vast.EventMidpoint},
	{0.75, vast.EventThirdQuartile},
}

// Session maps playback signals from an external player onto tracking
// events for one ad. Methods are safe for concurrent use. Delegate callbacks
// run after the session lock is released.
type Session struct {
	model    *vast.Model
	proc     *EventProcessor
	assetURI string
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	shown    bool
	position time.Duration
}

// NewSession creates a session in StateIdle. assetURI is the media file the
// player renders and feeds [ASSETURI].
func NewSession(model *vast.Model, proc *EventProcessor, assetURI string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		model:    model,
		proc:     proc,
		assetURI: assetURI,
		logger:   logger.Named("session"),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Processor returns the session's event processor.
func (s *Session) Processor() *EventProcessor {
	return s.proc
}

func (s *Session) reject(signal string) error {
	s.logger.Debug("ignoring signal",
		zap.String("signal", signal),
		zap.String("state", s.state.String()))
	return fmt.Errorf("%s in state %s: %w", signal, s.state, ErrInvalidSignal)
}

func (s *Session) playback() *macros.Context {
	return macros.NewPlaybackContext(s.position, s.assetURI)
}

// Rendered fires impressions and start and tells the delegate the ad is
// showing.
func (s *Session) Rendered() error {
	s.mu.Lock()
	if s.state != StateIdle {
		defer s.mu.Unlock()
		return s.reject("rendered")
	}
	s.state = StatePlaying
	s.shown = true
	s.proc.send(LabelImpression, s.model.ImpressionURLs, s.playback())
	s.proc.TrackEvent(vast.EventStart)
	s.mu.Unlock()

	s.proc.delegate.WillShow()
	return nil
}

// Pause tracks pause and moves to StatePaused.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return s.reject("pause")
	}
	s.state = StatePaused
	s.proc.TrackEvent(vast.EventPause)
	return nil
}

// Resume tracks resume and moves back to StatePlaying.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return s.reject("resume")
	}
	s.state = StatePlaying
	s.proc.TrackEvent(vast.EventResume)
	return nil
}

// Progress reports the playback position. Every quartile threshold at or
// below position/duration fires, in order, if it has not fired before; seeking
// back and crossing again fires nothing. A zero duration falls back to the
// ad's advertised duration. It returns the events fired by this call.
func (s *Session) Progress(position, duration time.Duration) ([]vast.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying && s.state != StatePaused {
		return nil, s.reject("progress")
	}
	if duration <= 0 {
		duration = s.model.Duration
	}
	if duration <= 0 {
		s.logger.Debug("progress without a known duration", zap.Duration("position", position))
		return nil, nil
	}
	if position < 0 {
		position = 0
	}
	s.position = position
	return s.crossQuartiles(float64(position) / float64(duration)), nil
}

func (s *Session) crossQuartiles(ratio float64) []vast.Event {
	var fired []vast.Event
	for _, q := range quartiles {
		if ratio < q.ratio {
			break
		}
		if s.proc.TrackEvent(q.event) {
			fired = append(fired, q.event)
		}
	}
	return fired
}

// Complete tracks any quartiles not yet reached, then complete.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying && s.state != StatePaused {
		return s.reject("complete")
	}
	s.state = StateCompleted
	if s.model.Duration > 0 {
		s.position = s.model.Duration
	}
	s.crossQuartiles(1)
	s.proc.TrackEvent(vast.EventComplete)
	return nil
}

// Close tracks close and tells the delegate the ad is hidden.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.shown || s.state == StateClosed {
		defer s.mu.Unlock()
		return s.reject("close")
	}
	s.state = StateClosed
	s.proc.TrackEvent(vast.EventClose)
	s.mu.Unlock()

	s.proc.delegate.DidHide()
	return nil
}

// Click sends click tracking and asks the delegate to open the click-through
// URL. Each click is reported.
func (s *Session) Click() error {
	s.mu.Lock()
	switch s.state {
	case StatePlaying, StatePaused, StateCompleted:
	default:
		defer s.mu.Unlock()
		return s.reject("click")
	}
	s.proc.send(LabelClick, s.model.ClickTrackingURLs, s.playback())
	s.mu.Unlock()

	if s.model.ClickThroughURL != "" {
		s.proc.delegate.NotifyClickThrough(s.model.ClickThroughURL)
	}
	return nil
}

// Fail fires every accumulated error URL with code and notifies the delegate.
func (s *Session) Fail(code int, cause error) error {
	s.mu.Lock()
	if s.state == StateFailed || s.state == StateClosed {
		defer s.mu.Unlock()
		return s.reject("error")
	}
	s.state = StateFailed
	mctx := s.playback()
	mctx.ErrorCode = code
	s.proc.send(LabelError, s.model.ErrorURLs, mctx)
	s.mu.Unlock()

	if cause == nil {
		cause = fmt.Errorf("playback error %d", code)
	}
	s.proc.delegate.NotifyError(cause)
	return nil
}

// Abandon ends the session without further tracking and cancels in-flight
// beacons.
func (s *Session) Abandon() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.proc.Abandon()
}
