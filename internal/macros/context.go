package macros

import (
	"fmt"
	"time"
)

// Context carries the values available when a tracking URL is fired.
type Context struct {
	// ErrorCode is the VAST error code; zero means none.
	ErrorCode int
	// Timestamp defaults to the time of expansion when zero.
	Timestamp time.Time
	// CacheBuster overrides the random [CACHEBUSTING] value.
	CacheBuster string
	// ContentPlayhead is the playback position; nil when unknown.
	ContentPlayhead *time.Duration
	// AssetURI is the media file being played.
	AssetURI string
	// Custom resolves additional upper-case macros by name.
	Custom map[string]string
}

// NewErrorContext returns a context for firing error URL templates with code.
func NewErrorContext(code int) *Context {
	return &Context{ErrorCode: code, Timestamp: time.Now()}
}

// NewPlaybackContext returns a context for events fired at a playback position.
func NewPlaybackContext(position time.Duration, assetURI string) *Context {
	return &Context{Timestamp: time.Now(), ContentPlayhead: &position, AssetURI: assetURI}
}

func (c *Context) timestamp() time.Time {
	if c.Timestamp.IsZero() {
		return time.Now()
	}
	return c.Timestamp
}

// FormatPlayhead renders d as HH:MM:SS.mmm.
func FormatPlayhead(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3600000
	m := (ms / 60000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
