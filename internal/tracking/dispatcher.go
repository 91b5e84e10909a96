package tracking

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/patrickwarner/openvast/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Beacon outcomes recorded in metrics and the beacon log.
const (
	OutcomeSuccess   = "success"
	OutcomeBadStatus = "bad_status"
	OutcomeTimeout   = "timeout"
	OutcomeFailure   = "failure"
	OutcomeCanceled  = "canceled"
)

// BeaconInfo labels a batch of beacons.
type BeaconInfo struct {
	SessionID  string
	Event      string
	ErrorCode  int
	DeviceType string
	// UserAgent overrides the dispatcher's agent, e.g. to forward the
	// player's own.
	UserAgent string
}

// BeaconRecord is the result of one beacon request.
type BeaconRecord struct {
	Timestamp  time.Time     `json:"timestamp"`
	SessionID  string        `json:"session_id"`
	Event      string        `json:"event"`
	URL        string        `json:"url"`
	Outcome    string        `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	ErrorCode  int           `json:"error_code,omitempty"`
	DeviceType string        `json:"device_type,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// BeaconRecorder persists beacon results. Implementations must be safe for
// concurrent use.
type BeaconRecorder interface {
	RecordBeacon(ctx context.Context, rec BeaconRecord) error
}

// DispatcherConfig controls beacon delivery.
type DispatcherConfig struct {
	// Timeout bounds each request.
	Timeout time.Duration
	// MaxInFlight caps simultaneous requests across all sessions. A batch
	// holds one slot while it sends its URLs one after another.
	MaxInFlight int
	// UserAgent is sent on every beacon when set.
	UserAgent string
}

// DefaultDispatcherConfig returns a 5s timeout and eight concurrent requests.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Timeout: 5 * time.Second, MaxInFlight: 8}
}

// Dispatcher issues fire-and-forget beacon GETs with bounded concurrency.
// Failures are logged, counted and recorded, never returned.
type Dispatcher struct {
	cfg        DispatcherConfig
	httpClient *http.Client
	sem        *semaphore.Weighted
	recorder   BeaconRecorder
	logger     *zap.Logger
	metrics    observability.MetricsRegistry

	mu     sync.Mutex // guards closed and wg.Add against Close
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher. recorder may be nil.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger, metrics observability.MetricsRegistry, recorder BeaconRecorder) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		recorder: recorder,
		logger:   logger.Named("dispatcher"),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// FireAndForget sends a single unlabeled beacon.
func (d *Dispatcher) FireAndForget(ctx context.Context, rawURL string) {
	d.Dispatch(ctx, []string{rawURL}, BeaconInfo{})
}

// Dispatch sends urls in the background and returns immediately. The URLs
// of one batch are requested sequentially in slice order, so each request
// starts only after the previous one settled. Separate batches run
// concurrently up to MaxInFlight. Canceling ctx abandons requests that have
// not finished.
func (d *Dispatcher) Dispatch(ctx context.Context, urls []string, info BeaconInfo) {
	if len(urls) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("dispatcher closed, dropping beacons",
			zap.String("event", info.Event),
			zap.Int("count", len(urls)))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	batch := make([]string, len(urls))
	copy(batch, urls)

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(d.ctx, cancel)
		defer func() {
			stop()
			cancel()
		}()

		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.skip(batch, info, err)
			return
		}
		defer d.sem.Release(1)

		for i, rawURL := range batch {
			if err := ctx.Err(); err != nil {
				d.skip(batch[i:], info, err)
				return
			}
			d.send(ctx, rawURL, info)
		}
	}()
}

// skip records urls as canceled without requesting them.
func (d *Dispatcher) skip(urls []string, info BeaconInfo, err error) {
	for _, u := range urls {
		d.finish(BeaconRecord{
			Timestamp: time.Now(),
			URL:       u,
			Outcome:   OutcomeCanceled,
			Error:     err.Error(),
		}, info)
	}
}

func (d *Dispatcher) send(ctx context.Context, rawURL string, info BeaconInfo) {
	start := time.Now()
	d.metrics.AddBeaconsInFlight(1)
	defer d.metrics.AddBeaconsInFlight(-1)

	rec := BeaconRecord{Timestamp: start, URL: rawURL}
	defer func() {
		rec.Latency = time.Since(start)
		d.finish(rec, info)
	}()

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		rec.Outcome = OutcomeFailure
		rec.Error = err.Error()
		return
	}
	if ua := info.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	} else if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		rec.Error = err.Error()
		switch {
		case ctx.Err() != nil:
			rec.Outcome = OutcomeCanceled
		case errors.Is(err, context.DeadlineExceeded):
			rec.Outcome = OutcomeTimeout
		default:
			rec.Outcome = OutcomeFailure
		}
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		d.logger.Warn("failed to close response body", zap.Error(err))
	}

	rec.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rec.Outcome = OutcomeBadStatus
		return
	}
	rec.Outcome = OutcomeSuccess
}

func (d *Dispatcher) finish(rec BeaconRecord, info BeaconInfo) {
	rec.SessionID = info.SessionID
	rec.Event = info.Event
	rec.ErrorCode = info.ErrorCode
	rec.DeviceType = info.DeviceType

	label := rec.Event
	if label == "" {
		label = "adhoc"
	}
	d.metrics.IncrementBeacons(label, rec.Outcome)
	if rec.Outcome != OutcomeCanceled {
		d.metrics.RecordBeaconLatency(rec.Latency)
	}

	if rec.Outcome == OutcomeSuccess {
		if observability.ShouldSample(observability.GetSamplingRate()) {
			d.logger.Debug("beacon delivered",
				zap.String("event", label),
				zap.String("url", rec.URL),
				zap.Duration("latency", rec.Latency))
		}
	} else {
		d.logger.Warn("beacon failed",
			zap.String("event", label),
			zap.String("session_id", rec.SessionID),
			zap.String("url", rec.URL),
			zap.String("outcome", rec.Outcome),
			zap.Int("status", rec.StatusCode),
			zap.String("error", rec.Error))
	}

	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.recorder.RecordBeacon(ctx, rec); err != nil {
		d.logger.Debug("beacon log write failed", zap.Error(err))
	}
}

// Wait blocks until every dispatched beacon has settled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels outstanding beacons and waits for them to settle. Later
// dispatches are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
