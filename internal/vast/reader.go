package vast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickwarner/openvast/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DocumentReader fetches the raw bytes of a VAST document.
type DocumentReader interface {
	ReadDocument(ctx context.Context, rawURL string) ([]byte, error)
}

// ReaderFunc adapts a function to DocumentReader.
type ReaderFunc func(ctx context.Context, rawURL string) ([]byte, error)

func (f ReaderFunc) ReadDocument(ctx context.Context, rawURL string) ([]byte, error) {
	return f(ctx, rawURL)
}

// ErrDocumentTooLarge is returned when a response body exceeds the reader limit.
var ErrDocumentTooLarge = errors.New("document too large")

// HTTPReader retrieves documents with HTTP GET.
type HTTPReader struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// NewHTTPReader creates a reader whose requests are bounded by timeout and
// whose bodies are limited to maxBytes. A non-positive maxBytes disables
// the limit.
func NewHTTPReader(timeout time.Duration, maxBytes int64, userAgent string, logger *zap.Logger, metrics observability.MetricsRegistry) *HTTPReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &HTTPReader{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes:  maxBytes,
		userAgent: userAgent,
		logger:    logger.Named("reader"),
		metrics:   metrics,
	}
}

// ReadDocument performs the GET. Non-2xx responses return a *StatusError.
func (r *HTTPReader) ReadDocument(ctx context.Context, rawURL string) ([]byte, error) {
	outcome := "success"
	defer func() {
		r.metrics.IncrementDocumentFetches(outcome)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "bad_status"
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if r.maxBytes > 0 {
		// one extra byte tells an exact-limit body from an oversized one
		body = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("read body: %w", err)
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		outcome = "too_large"
		return nil, fmt.Errorf("%w: limit %d bytes", ErrDocumentTooLarge, r.maxBytes)
	}
	return data, nil
}

// DocumentCache stores fetched documents keyed by URL.
type DocumentCache interface {
	GetDocument(ctx context.Context, rawURL string) ([]byte, bool, error)
	PutDocument(ctx context.Context, rawURL string, data []byte) error
}

// CachingReader wraps another reader with an optional document cache and
// collapses concurrent fetches of the same URL into one request.
//
// A collapsed fetch runs detached from any single caller so one caller
// giving up does not fail the others; it is bounded by timeout instead.
// Each caller still returns as soon as its own context ends.
type CachingReader struct {
	next    DocumentReader
	cache   DocumentCache
	timeout time.Duration
	group   singleflight.Group
	logger  *zap.Logger
}

// NewCachingReader creates a CachingReader. cache may be nil, in which case
// only fetch collapsing applies.
func NewCachingReader(next DocumentReader, cache DocumentCache, timeout time.Duration, logger *zap.Logger) *CachingReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CachingReader{
		next:    next,
		cache:   cache,
		timeout: timeout,
		logger:  logger.Named("caching_reader"),
	}
}

func (c *CachingReader) ReadDocument(ctx context.Context, rawURL string) ([]byte, error) {
	if c.cache != nil {
		data, ok, err := c.cache.GetDocument(ctx, rawURL)
		if err != nil {
			c.logger.Warn("document cache lookup failed", zap.String("url", rawURL), zap.Error(err))
		} else if ok {
			return data, nil
		}
	}

	ch := c.group.DoChan(rawURL, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		data, err := c.next.ReadDocument(fetchCtx, rawURL)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if err := c.cache.PutDocument(fetchCtx, rawURL, data); err != nil {
				c.logger.Warn("document cache store failed", zap.String("url", rawURL), zap.Error(err))
			}
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
