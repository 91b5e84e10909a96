package vast

import (
	"strings"
	"time"
)

// Event is a playback tracking event kind.
type Event string

const (
	EventStart         Event = "start"
	EventFirstQuartile Event = "firstQuartile"
	EventMidpoint      Event = "midpoint"
	EventThirdQuartile Event = "thirdQuartile"
	EventComplete      Event = "complete"
	EventClose         Event = "close"
	EventPause         Event = "pause"
	EventResume        Event = "resume"
)

// Events lists every tracked kind in playback order.
var Events = []Event{
	EventStart,
	EventFirstQuartile,
	EventMidpoint,
	EventThirdQuartile,
	EventComplete,
	EventClose,
	EventPause,
	EventResume,
}

// ParseEvent maps a Tracking event attribute to an Event. Matching ignores
// case; unsupported names report false.
func ParseEvent(name string) (Event, bool) {
	name = strings.TrimSpace(name)
	for _, e := range Events {
		if strings.EqualFold(string(e), name) {
			return e, true
		}
	}
	return "", false
}

// Delivery modes for media files.
const (
	DeliveryProgressive = "progressive"
	DeliveryStreaming   = "streaming"
)

// MediaFile is one rendition of the linear creative.
type MediaFile struct {
	ID           string `json:"id,omitempty"`
	URL          string `json:"url"`
	Type         string `json:"type"`
	Bitrate      int    `json:"bitrate"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Delivery     string `json:"delivery"`
	APIFramework string `json:"api_framework,omitempty"`
}

// Model is a fully resolved VAST ad. Wrapper redirections have been followed
// and their impression, error, tracking and click-tracking URLs merged ahead of
// the InLine ad's own. A Model is never mutated after parsing and may be
// shared between goroutines; callers must treat its slices and map as read-only
// and use the accessors when they need a private copy.
type Model struct {
	AdID              string             `json:"ad_id,omitempty"`
	AdSystem          string             `json:"ad_system"`
	AdTitle           string             `json:"ad_title"`
	Description       string             `json:"description,omitempty"`
	ImpressionURLs    []string           `json:"impression_urls"`
	ErrorURLs         []string           `json:"error_urls"`
	MediaFiles        []MediaFile        `json:"media_files"`
	TrackingEvents    map[Event][]string `json:"tracking_events"`
	ClickThroughURL   string             `json:"click_through_url,omitempty"`
	ClickTrackingURLs []string           `json:"click_tracking_urls"`
	Duration          time.Duration      `json:"duration"`
	WrapperDepth      int                `json:"wrapper_depth"`
}

// TrackingURLs returns a copy of the URLs registered for e.
func (m *Model) TrackingURLs(e Event) []string {
	return cloneStrings(m.TrackingEvents[e])
}

// TrackingTable returns a deep copy of the tracking-event table.
func (m *Model) TrackingTable() map[Event][]string {
	return CloneTable(m.TrackingEvents)
}

// Impressions returns a copy of the impression URLs.
func (m *Model) Impressions() []string {
	return cloneStrings(m.ImpressionURLs)
}

// Errors returns a copy of the error URL templates.
func (m *Model) Errors() []string {
	return cloneStrings(m.ErrorURLs)
}

// ClickTracking returns a copy of the click-tracking URLs.
func (m *Model) ClickTracking() []string {
	return cloneStrings(m.ClickTrackingURLs)
}

// CloneTable deep-copies a tracking-event table.
func CloneTable(table map[Event][]string) map[Event][]string {
	out := make(map[Event][]string, len(table))
	for e, urls := range table {
		out[e] = cloneStrings(urls)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
