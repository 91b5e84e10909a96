package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/openvast/internal/config"
	"github.com/patrickwarner/openvast/internal/macros"
	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/tracking"
	"github.com/patrickwarner/openvast/internal/vast"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"

const inlineDoc = `<?xml version="1.0" encoding="UTF-8"?>
<VAST version="2.0">
  <Ad id="ad-7">
    <InLine>
      <AdSystem>Acme</AdSystem>
      <AdTitle>Spring Sale</AdTitle>
      <Error>https://t.example/error?code=[ERRORCODE]</Error>
      <Impression>https://t.example/imp</Impression>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>00:00:20</Duration>
            <TrackingEvents>
              <Tracking event="start">https://t.example/start</Tracking>
              <Tracking event="firstQuartile">https://t.example/q1</Tracking>
              <Tracking event="midpoint">https://t.example/mid</Tracking>
              <Tracking event="thirdQuartile">https://t.example/q3</Tracking>
              <Tracking event="complete">https://t.example/complete</Tracking>
              <Tracking event="close">https://t.example/close</Tracking>
            </TrackingEvents>
            <VideoClicks>
              <ClickThrough>https://advertiser.example/landing</ClickThrough>
              <ClickTracking>https://t.example/click</ClickTracking>
            </VideoClicks>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/webm" bitrate="3000" width="1280" height="720">https://cdn.example/ad.webm</MediaFile>
              <MediaFile delivery="progressive" type="video/mp4" bitrate="1200" width="640" height="360">https://cdn.example/ad.mp4</MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

type sentBatch struct {
	URLs []string
	Info tracking.BeaconInfo
}

// captureSender records batches instead of sending them.
type captureSender struct {
	mu      sync.Mutex
	batches []sentBatch
}

func (c *captureSender) Dispatch(ctx context.Context, urls []string, info tracking.BeaconInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, sentBatch{URLs: append([]string(nil), urls...), Info: info})
}

func (c *captureSender) labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.batches))
	for _, b := range c.batches {
		out = append(out, b.Info.Event)
	}
	return out
}

func (c *captureSender) all() []sentBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentBatch(nil), c.batches...)
}

func newTestServer(t *testing.T) (*Server, *captureSender, *observability.MockMetricsRegistry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMockMetricsRegistry()
	reader := vast.NewHTTPReader(0, 0, "openvast-test", logger, metrics)
	sender := &captureSender{}
	cfg := config.Config{
		PlayableMIMETypes: config.DefaultPlayableMIMETypes,
		SessionTTL:        time.Minute,
	}
	s := NewServer(logger,
		vast.NewParser(reader, 3, logger, metrics),
		sender,
		macros.NewExpanderForTesting(logger, false),
		nil, nil, nil,
		metrics,
		cfg,
	)
	return s, sender, metrics
}

func doRequest(t *testing.T, h http.Handler, method, path, contentType string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
