package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/patrickwarner/openvast/internal/macros"
	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/vast"
	"go.uber.org/zap"
)

// Sender delivers a batch of beacons without blocking. *Dispatcher
// satisfies it.
type Sender interface {
	Dispatch(ctx context.Context, urls []string, info BeaconInfo)
}

// Labels for beacons that are not tracking events.
const (
	LabelImpression = "impression"
	LabelClick      = "click"
	LabelError      = "error"
	LabelCustom     = "custom"
)

// EventProcessor fires the tracking URLs of one playback session. Each
// event kind fires at most once; the kind is marked before any request is
// issued, and the mark survives dispatch failures and Abandon.
type EventProcessor struct {
	table    map[vast.Event][]string
	delegate Delegate
	sender   Sender
	expander *macros.Expander
	logger   *zap.Logger
	metrics  observability.MetricsRegistry

	sessionID  string
	deviceType string
	userAgent  string

	mu    sync.Mutex
	fired map[vast.Event]struct{}
	order []vast.Event

	ctx    context.Context
	cancel context.CancelFunc
}

// ProcessorOption customizes an EventProcessor.
type ProcessorOption func(*EventProcessor)

// WithSessionID labels every beacon of the session.
func WithSessionID(id string) ProcessorOption {
	return func(p *EventProcessor) { p.sessionID = id }
}

// WithDeviceType records the player's device class on every beacon.
func WithDeviceType(deviceType string) ProcessorOption {
	return func(p *EventProcessor) { p.deviceType = deviceType }
}

// WithUserAgent sends ua on the session's beacons instead of the
// dispatcher default.
func WithUserAgent(ua string) ProcessorOption {
	return func(p *EventProcessor) { p.userAgent = ua }
}

// NewEventProcessor creates a processor over a private copy of table.
// delegate may be nil.
func NewEventProcessor(table map[vast.Event][]string, delegate Delegate, sender Sender, expander *macros.Expander, logger *zap.Logger, metrics observability.MetricsRegistry, opts ...ProcessorOption) *EventProcessor {
	if delegate == nil {
		delegate = DelegateFuncs{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if expander == nil {
		expander = macros.NewExpander(logger)
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &EventProcessor{
		table:    vast.CloneTable(table),
		delegate: delegate,
		sender:   sender,
		expander: expander,
		logger:   logger.Named("processor"),
		metrics:  metrics,
		fired:    make(map[vast.Event]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sessionID != "" {
		p.logger = p.logger.With(zap.String("session_id", p.sessionID))
	}
	return p
}

// SessionID returns the session label, if any.
func (p *EventProcessor) SessionID() string {
	return p.sessionID
}

// Delegate returns the notification sink.
func (p *EventProcessor) Delegate() Delegate {
	return p.delegate
}

// TrackEvent fires the URLs registered for e unless e already fired in this
// session. The URLs go out exactly as the document registered them; no
// macros are substituted. It reports whether this call fired the event.
func (p *EventProcessor) TrackEvent(e vast.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, done := p.fired[e]; done {
		p.metrics.IncrementSuppressedEvents(string(e))
		p.logger.Debug("event already fired", zap.String("event", string(e)))
		return false
	}
	p.fired[e] = struct{}{}
	p.order = append(p.order, e)

	p.dispatch(string(e), p.table[e], 0)
	return true
}

// SendURLs fires urls after macro substitution. It does not deduplicate.
func (p *EventProcessor) SendURLs(urls []string, mctx *macros.Context) {
	p.send(LabelCustom, urls, mctx)
}

// SendError fires error URL templates with [ERRORCODE] set to code.
func (p *EventProcessor) SendError(urls []string, code int) {
	p.send(LabelError, urls, macros.NewErrorContext(code))
}

func (p *EventProcessor) send(label string, urls []string, mctx *macros.Context) {
	if mctx == nil {
		mctx = &macros.Context{Timestamp: time.Now()}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(urls) == 0 || p.abandoned(label, len(urls)) {
		return
	}

	expanded := make([]string, 0, len(urls))
	for _, u := range urls {
		out, err := p.expander.ExpandURL(u, mctx)
		if err != nil {
			p.logger.Warn("dropping tracking URL", zap.String("url", u), zap.Error(err))
			continue
		}
		if out != "" {
			expanded = append(expanded, out)
		}
	}
	p.dispatch(label, expanded, mctx.ErrorCode)
}

func (p *EventProcessor) abandoned(label string, count int) bool {
	if p.ctx.Err() == nil {
		return false
	}
	p.logger.Debug("session abandoned, not sending",
		zap.String("event", label),
		zap.Int("count", count))
	return true
}

// dispatch hands urls to the sender in order. Callers hold mu so batches
// leave in the order they were requested.
func (p *EventProcessor) dispatch(label string, urls []string, errorCode int) {
	if len(urls) == 0 || p.sender == nil || p.abandoned(label, len(urls)) {
		return
	}
	p.sender.Dispatch(p.ctx, urls, BeaconInfo{
		SessionID:  p.sessionID,
		Event:      label,
		ErrorCode:  errorCode,
		DeviceType: p.deviceType,
		UserAgent:  p.userAgent,
	})
}

// HasFired reports whether e fired in this session.
func (p *EventProcessor) HasFired(e vast.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.fired[e]
	return ok
}

// FiredEvents returns the fired kinds in firing order.
func (p *EventProcessor) FiredEvents() []vast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]vast.Event, len(p.order))
	copy(out, p.order)
	return out
}

// Abandon cancels in-flight beacons. The fired set is kept, so later calls
// still honor it but send nothing.
func (p *EventProcessor) Abandon() {
	p.cancel()
}

// Abandoned reports whether Abandon was called.
func (p *EventProcessor) Abandoned() bool {
	return p.ctx.Err() != nil
}
