package api

import "github.com/avct/uasurfer"

// DeviceClass maps a player User-Agent to desktop, mobile, tablet, tv, bot
// or other.
func DeviceClass(ua string) string {
	if ua == "" {
		return "other"
	}
	u := uasurfer.Parse(ua)
	if u.IsBot() {
		return "bot"
	}
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		return "desktop"
	case uasurfer.DevicePhone:
		return "mobile"
	case uasurfer.DeviceTablet:
		return "tablet"
	case uasurfer.DeviceTV:
		return "tv"
	default:
		return "other"
	}
}
