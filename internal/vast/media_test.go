package vast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectMediaFile(t *testing.T) {
	files := []MediaFile{
		{URL: "https://cdn.example/a.webm", Type: "video/webm", Bitrate: 5000},
		{URL: "https://cdn.example/b.mp4", Type: "video/mp4", Bitrate: 800},
		{URL: "https://cdn.example/c.mp4", Type: "VIDEO/MP4", Bitrate: 1200},
		{URL: "https://cdn.example/d.mp4", Type: "video/mp4; codecs=\"avc1\"", Bitrate: 1200},
		{URL: "https://cdn.example/e.3gp", Type: "video/3gpp", Bitrate: 300},
	}

	tests := []struct {
		name     string
		files    []MediaFile
		playable []string
		want     string
		ok       bool
	}{
		{"highest playable bitrate, first wins ties", files, []string{"video/mp4"}, "https://cdn.example/c.mp4", true},
		{"multiple playable types", files, []string{"video/3gpp", "video/webm"}, "https://cdn.example/a.webm", true},
		{"nothing playable falls back to first", files, []string{"video/ogg"}, "https://cdn.example/a.webm", true},
		{"no playable list falls back to first", files, nil, "https://cdn.example/a.webm", true},
		{"no files", nil, []string{"video/mp4"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Model{MediaFiles: tt.files}
			got, ok := m.SelectMediaFile(tt.playable)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.URL)
		})
	}
}

func TestModelAccessorsReturnCopies(t *testing.T) {
	m := &Model{
		ImpressionURLs: []string{"https://a.example/imp"},
		TrackingEvents: map[Event][]string{EventStart: {"https://a.example/start"}},
	}

	urls := m.TrackingURLs(EventStart)
	urls[0] = "changed"
	table := m.TrackingTable()
	table[EventStart][0] = "changed"
	table[EventClose] = []string{"added"}
	imps := m.Impressions()
	imps[0] = "changed"

	assert.Equal(t, "https://a.example/start", m.TrackingEvents[EventStart][0])
	assert.NotContains(t, m.TrackingEvents, EventClose)
	assert.Equal(t, "https://a.example/imp", m.ImpressionURLs[0])
	assert.Nil(t, m.TrackingURLs(EventPause))
}

func TestParseEvent(t *testing.T) {
	e, ok := ParseEvent("FirstQuartile")
	assert.True(t, ok)
	assert.Equal(t, EventFirstQuartile, e)

	_, ok = ParseEvent("creativeView")
	assert.False(t, ok)
}

func TestCleanURL(t *testing.T) {
	tests := map[string]string{
		"  https://t.example/p?a=1  ":       "https://t.example/p?a=1",
		"http://t.example/[ERRORCODE]":      "http://t.example/[ERRORCODE]",
		"https://t.example/x?e=[ERRORCODE]": "https://t.example/x?e=[ERRORCODE]",
		"/relative/path":                    "",
		"javascript:void(0)":                "",
		"https://":                          "",
		"http://bad host/":                  "",
		"":                                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanURL(in), "input %q", in)
	}
}
