package vast

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SelectMediaFile picks the highest-bitrate file whose MIME type is in
// playable, keeping document order on ties. When nothing is playable it falls
// back to the first file. It reports false only for a model without media.
func (m *Model) SelectMediaFile(playable []string) (MediaFile, bool) {
	if len(m.MediaFiles) == 0 {
		return MediaFile{}, false
	}

	best := -1
	for i, mf := range m.MediaFiles {
		if !isPlayable(mf.Type, playable) {
			continue
		}
		if best < 0 || mf.Bitrate > m.MediaFiles[best].Bitrate {
			best = i
		}
	}
	if best < 0 {
		return m.MediaFiles[0], true
	}
	return m.MediaFiles[best], true
}

func isPlayable(mimeType string, playable []string) bool {
	// drop parameters such as codecs="avc1"
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(mimeType)
	for _, p := range playable {
		if strings.EqualFold(mimeType, strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}

// cleanURL trims whitespace and returns the URL when it is an absolute
// http(s) URL with a host, or "" otherwise.
func cleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return raw
}

// parseDuration reads HH:MM:SS or HH:MM:SS.mmm. Unparseable input yields zero
// since the duration is advisory.
func parseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0
	}
	if !isSeconds(parts[2]) {
		return 0
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s >= 60 {
		return 0
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s*float64(time.Second)).Round(time.Millisecond)
}

// isSeconds accepts SS or SS.mmm written with plain digits.
func isSeconds(raw string) bool {
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if !allDigits(whole) {
		return false
	}
	return !hasFrac || allDigits(frac)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func atoiOrZero(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
