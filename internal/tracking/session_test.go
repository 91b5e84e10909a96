package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/patrickwarner/openvast/internal/vast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type delegateLog struct {
	calls  []string
	clicks []string
	errs   []error
}

func (l *delegateLog) delegate() Delegate {
	return DelegateFuncs{
		OnWillShow:     func() { l.calls = append(l.calls, "will_show") },
		OnDidHide:      func() { l.calls = append(l.calls, "did_hide") },
		OnClickThrough: func(url string) { l.clicks = append(l.clicks, url) },
		OnError:        func(err error) { l.errs = append(l.errs, err) },
	}
}

func testModel() *vast.Model {
	return &vast.Model{
		ImpressionURLs: []string{"https://t.example/imp/wrapper", "https://t.example/imp/inline"},
		ErrorURLs:      []string{"https://t.example/err/wrapper?c=[ERRORCODE]", "https://t.example/err/inline?c=[ERRORCODE]"},
		TrackingEvents: map[vast.Event][]string{
			vast.EventStart:         {"https://t.example/start"},
			vast.EventFirstQuartile: {"https://t.example/q1"},
			vast.EventMidpoint:      {"https://t.example/mid"},
			vast.EventThirdQuartile: {"https://t.example/q3"},
			vast.EventComplete:      {"https://t.example/complete"},
			vast.EventPause:         {"https://t.example/pause"},
			vast.EventResume:        {"https://t.example/resume"},
			vast.EventClose:         {"https://t.example/close"},
		},
		ClickThroughURL:   "https://advertiser.example/landing",
		ClickTrackingURLs: []string{"https://t.example/click"},
		Duration:          10 * time.Second,
		MediaFiles:        []vast.MediaFile{{URL: "https://cdn.example/ad.mp4", Type: "video/mp4"}},
	}
}

func newTestSession(t *testing.T) (*Session, *recordingSender, *delegateLog) {
	t.Helper()
	sender := &recordingSender{}
	dl := &delegateLog{}
	m := testModel()
	p, _ := newTestProcessor(t, m.TrackingEvents, dl.delegate(), sender)
	return NewSession(m, p, m.MediaFiles[0].URL, zaptest.NewLogger(t)), sender, dl
}

func labels(batches []sentBatch) []string {
	out := make([]string, len(batches))
	for i, b := range batches {
		out[i] = b.info.Event
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	s, sender, dl := newTestSession(t)

	require.NoError(t, s.Rendered())
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, []string{"will_show"}, dl.calls)

	batches := sender.sent()
	require.Len(t, batches, 2)
	assert.Equal(t, LabelImpression, batches[0].info.Event)
	assert.Equal(t, []string{"https://t.example/imp/wrapper", "https://t.example/imp/inline"}, batches[0].urls)
	assert.Equal(t, "start", batches[1].info.Event)

	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())
	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())

	_, err := s.Progress(10*time.Second, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Complete())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{"will_show", "did_hide"}, dl.calls)

	assert.Equal(t, []string{
		"impression", "start", "pause", "resume",
		"firstQuartile", "midpoint", "thirdQuartile",
		"complete", "close",
	}, labels(sender.sent()))

	assert.ErrorIs(t, s.Rendered(), ErrInvalidSignal)
	assert.ErrorIs(t, s.Close(), ErrInvalidSignal)
}

func TestQuartilesFireOnceUnderSeekOscillation(t *testing.T) {
	s, sender, _ := newTestSession(t)
	require.NoError(t, s.Rendered())

	const d = 10 * time.Second
	steps := []struct {
		pos  time.Duration
		want []vast.Event
	}{
		{2 * time.Second, nil},
		{2500 * time.Millisecond, []vast.Event{vast.EventFirstQuartile}},
		{2 * time.Second, nil},
		{3 * time.Second, nil},
		{1 * time.Second, nil},
		{6 * time.Second, []vast.Event{vast.EventMidpoint}},
		{4 * time.Second, nil},
		{5 * time.Second, nil},
		{9 * time.Second, []vast.Event{vast.EventThirdQuartile}},
		{7 * time.Second, nil},
		{8 * time.Second, nil},
	}
	for _, step := range steps {
		fired, err := s.Progress(step.pos, d)
		require.NoError(t, err)
		assert.Equal(t, step.want, fired, "position %s", step.pos)
	}

	counts := map[string]int{}
	for _, b := range sender.sent() {
		counts[b.info.Event]++
	}
	assert.Equal(t, 1, counts["firstQuartile"])
	assert.Equal(t, 1, counts["midpoint"])
	assert.Equal(t, 1, counts["thirdQuartile"])
}

func TestProgressJumpFiresCrossedQuartilesInOrder(t *testing.T) {
	s, sender, _ := newTestSession(t)
	require.NoError(t, s.Rendered())

	// zero duration falls back to the advertised 10s
	fired, err := s.Progress(8*time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, []vast.Event{vast.EventFirstQuartile, vast.EventMidpoint, vast.EventThirdQuartile}, fired)
	assert.Equal(t, []string{"impression", "start", "firstQuartile", "midpoint", "thirdQuartile"}, labels(sender.sent()))
}

func TestProgressWhilePaused(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.Rendered())
	require.NoError(t, s.Pause())

	fired, err := s.Progress(5*time.Second, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []vast.Event{vast.EventFirstQuartile, vast.EventMidpoint}, fired)
}

func TestPlayheadMacroUsesLastPosition(t *testing.T) {
	sender := &recordingSender{}
	m := testModel()
	m.TrackingEvents[vast.EventMidpoint] = []string{"https://t.example/mid?ph=[CONTENTPLAYHEAD]"}
	m.ClickTrackingURLs = []string{"https://t.example/click?ph=[CONTENTPLAYHEAD]&a=[ASSETURI]"}
	p, _ := newTestProcessor(t, m.TrackingEvents, nil, sender)
	s := NewSession(m, p, "https://cdn.example/ad.mp4", zaptest.NewLogger(t))

	require.NoError(t, s.Rendered())
	_, err := s.Progress(5*time.Second, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Click())

	batches := sender.sent()
	require.GreaterOrEqual(t, len(batches), 2)
	mid, click := batches[len(batches)-2], batches[len(batches)-1]
	assert.Equal(t, "midpoint", mid.info.Event)
	assert.Equal(t, []string{"https://t.example/mid?ph=[CONTENTPLAYHEAD]"}, mid.urls)
	assert.Equal(t, LabelClick, click.info.Event)
	assert.Equal(t, []string{"https://t.example/click?ph=00%3A00%3A05.000&a=https%3A%2F%2Fcdn.example%2Fad.mp4"}, click.urls)
}

func TestInvalidSignalsAreIgnored(t *testing.T) {
	s, sender, dl := newTestSession(t)

	assert.ErrorIs(t, s.Pause(), ErrInvalidSignal)
	assert.ErrorIs(t, s.Resume(), ErrInvalidSignal)
	assert.ErrorIs(t, s.Complete(), ErrInvalidSignal)
	assert.ErrorIs(t, s.Close(), ErrInvalidSignal)
	assert.ErrorIs(t, s.Click(), ErrInvalidSignal)
	_, err := s.Progress(time.Second, time.Second)
	assert.ErrorIs(t, err, ErrInvalidSignal)

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, sender.sent())
	assert.Empty(t, dl.calls)

	require.NoError(t, s.Rendered())
	assert.ErrorIs(t, s.Resume(), ErrInvalidSignal)
}

func TestClickSendsTrackingAndNotifies(t *testing.T) {
	s, sender, dl := newTestSession(t)
	require.NoError(t, s.Rendered())

	require.NoError(t, s.Click())
	require.NoError(t, s.Click())

	assert.Equal(t, []string{"https://advertiser.example/landing", "https://advertiser.example/landing"}, dl.clicks)
	var clicks int
	for _, b := range sender.sent() {
		if b.info.Event == LabelClick {
			clicks++
			assert.Equal(t, []string{"https://t.example/click"}, b.urls)
		}
	}
	assert.Equal(t, 2, clicks)
}

func TestFailSendsAllErrorURLsWithOneCode(t *testing.T) {
	s, sender, dl := newTestSession(t)
	require.NoError(t, s.Rendered())

	cause := errors.New("decoder stalled")
	require.NoError(t, s.Fail(vast.CodeMediaTimeout, cause))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, []error{cause}, dl.errs)

	batches := sender.sent()
	last := batches[len(batches)-1]
	assert.Equal(t, LabelError, last.info.Event)
	assert.Equal(t, 402, last.info.ErrorCode)
	assert.Equal(t, []string{
		"https://t.example/err/wrapper?c=402",
		"https://t.example/err/inline?c=402",
	}, last.urls)

	assert.ErrorIs(t, s.Fail(405, nil), ErrInvalidSignal)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"will_show", "did_hide"}, dl.calls)
}

func TestFailBeforeRender(t *testing.T) {
	s, _, dl := newTestSession(t)

	require.NoError(t, s.Fail(vast.CodeUndefinedError, nil))
	require.Len(t, dl.errs, 1)
	assert.ErrorIs(t, s.Close(), ErrInvalidSignal, "an ad that never showed cannot close")
}

func TestSessionAbandon(t *testing.T) {
	s, sender, _ := newTestSession(t)
	require.NoError(t, s.Rendered())
	s.Abandon()

	assert.Equal(t, StateClosed, s.State())
	assert.True(t, s.Processor().Abandoned())
	assert.Len(t, sender.sent(), 2)
}
