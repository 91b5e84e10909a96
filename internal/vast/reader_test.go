package vast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPReaderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	metrics := observability.NewMockMetricsRegistry()
	r := NewHTTPReader(time.Second, 1024, "", zaptest.NewLogger(t), metrics)

	_, err := r.ReadDocument(context.Background(), srv.URL)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, 1, metrics.Count("fetches:bad_status"))
}

func TestHTTPReaderSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := 50
		if r.URL.Path == "/big" {
			n = 51
		}
		_, _ = w.Write([]byte(strings.Repeat("x", n)))
	}))
	defer srv.Close()

	r := NewHTTPReader(time.Second, 50, "", zaptest.NewLogger(t), nil)

	data, err := r.ReadDocument(context.Background(), srv.URL+"/exact")
	require.NoError(t, err)
	assert.Len(t, data, 50)

	_, err = r.ReadDocument(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestHTTPReaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	r := NewHTTPReader(50*time.Millisecond, 0, "", zaptest.NewLogger(t), nil)
	_, err := r.ReadDocument(context.Background(), srv.URL)
	assert.Error(t, err)
}

type memoryCache struct {
	mu   sync.Mutex
	docs map[string][]byte
	puts int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{docs: make(map[string][]byte)}
}

func (c *memoryCache) GetDocument(_ context.Context, rawURL string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.docs[rawURL]
	return data, ok, nil
}

func (c *memoryCache) PutDocument(_ context.Context, rawURL string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[rawURL] = data
	c.puts++
	return nil
}

func TestCachingReaderCollapsesConcurrentFetches(t *testing.T) {
	var fetches atomic.Int32
	gate := make(chan struct{})
	next := ReaderFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		fetches.Add(1)
		<-gate
		return []byte("doc"), nil
	})
	cr := NewCachingReader(next, nil, time.Second, zaptest.NewLogger(t))

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := cr.ReadDocument(context.Background(), "https://ads.example/vast")
			assert.NoError(t, err)
			results <- string(data)
		}()
	}

	// give every caller time to join the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	for r := range results {
		assert.Equal(t, "doc", r)
	}
	assert.Equal(t, int32(1), fetches.Load())
}

func TestCachingReaderUsesCache(t *testing.T) {
	var fetches atomic.Int32
	next := ReaderFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		fetches.Add(1)
		return []byte("doc:" + rawURL), nil
	})
	cache := newMemoryCache()
	cr := NewCachingReader(next, cache, time.Second, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		data, err := cr.ReadDocument(context.Background(), "https://ads.example/a")
		require.NoError(t, err)
		assert.Equal(t, "doc:https://ads.example/a", string(data))
	}
	assert.Equal(t, int32(1), fetches.Load())
	assert.Equal(t, 1, cache.puts)
}

func TestCachingReaderDoesNotCacheFailures(t *testing.T) {
	var fetches atomic.Int32
	next := ReaderFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		fetches.Add(1)
		return nil, &StatusError{StatusCode: http.StatusBadGateway}
	})
	cache := newMemoryCache()
	cr := NewCachingReader(next, cache, time.Second, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := cr.ReadDocument(context.Background(), "https://ads.example/a")
		var se *StatusError
		require.True(t, errors.As(err, &se))
	}
	assert.Equal(t, int32(2), fetches.Load())
	assert.Equal(t, 0, cache.puts)
}

func TestCachingReaderCallerCancel(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	next := ReaderFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		select {
		case <-gate:
			return []byte("late"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	cr := NewCachingReader(next, nil, time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := cr.ReadDocument(ctx, "https://ads.example/slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
