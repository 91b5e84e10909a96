package errreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/vast"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ClientError is the JSON body posted to the error collector.
type ClientError struct {
	Message      string `json:"message"`
	CreatedAt    string `json:"created_at"`
	Code         int    `json:"code,omitempty"`
	Kind         string `json:"kind,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	BrowserAgent string `json:"browser_agent,omitempty"`
	DeviceType   string `json:"device_type,omitempty"`
}

// Reporter posts parse and playback failures to a collector endpoint.
// Reports are fire-and-forget; a nil or disabled Reporter drops them.
type Reporter struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
	wg         sync.WaitGroup
}

// NewReporter creates a reporter for url. An empty url disables reporting.
func NewReporter(url string, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reporter{
		url: url,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger.Named("errreport"),
		metrics: metrics,
	}
}

// Enabled reports whether a collector URL is configured.
func (r *Reporter) Enabled() bool {
	return r != nil && r.url != ""
}

// ReportError sends err, filling code and kind from a parse failure.
func (r *Reporter) ReportError(err error, fields ClientError) {
	if err == nil {
		return
	}
	fields.Message = err.Error()
	if fields.Code == 0 {
		fields.Code = vast.ErrorCode(err)
	}
	if fields.Kind == "" {
		fields.Kind = vast.KindName(err)
	}
	r.Report(fields)
}

// Report posts ce in the background.
func (r *Reporter) Report(ce ClientError) {
	if !r.Enabled() {
		return
	}
	if ce.CreatedAt == "" {
		ce.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		outcome := "success"
		if err := r.post(context.Background(), ce); err != nil {
			outcome = "failure"
			r.logger.Warn("error report failed", zap.Error(err))
		}
		r.metrics.IncrementErrorReports(outcome)
	}()
}

func (r *Reporter) post(ctx context.Context, ce ClientError) error {
	body, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until queued reports have been sent.
func (r *Reporter) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
