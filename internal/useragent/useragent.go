// Package useragent classifies browsers, operating systems and device
// classes with deterministic substring matching. This is intentionally
// not a full UA grammar: first keyword match wins, in a fixed order.
package useragent

import (
	"strings"
)

// Info holds the parsed user-agent classification.
type Info struct {
	Device  string // Mobile, Tablet or Desktop
	OS      string
	Browser string
}

const Unknown = "Unknown"

var browserChecks = []struct{ keyword, name string }{
	{"Chrome", "Chrome"},
	{"Firefox", "Firefox"},
	{"Safari", "Safari"},
	{"Edge", "Edge"},
	{"MSIE", "Internet Explorer"},
	{"Trident", "Internet Explorer"},
}

var osChecks = []struct{ keyword, name string }{
	{"Windows", "Windows"},
	{"Mac OS", "Mac OS"},
	{"Linux", "Linux"},
	{"Android", "Android"},
	{"iPhone", "iOS"},
	{"iPad", "iOS"},
	{"iOS", "iOS"},
}

// Parse classifies a raw user-agent string. Empty input yields Unknown
// browser/OS and a Desktop device.
func Parse(ua string) Info {
	info := Info{Device: "Desktop", OS: Unknown, Browser: Unknown}
	if ua == "" {
		return info
	}

	for _, c := range browserChecks {
		if strings.Contains(ua, c.keyword) {
			info.Browser = c.name
			break
		}
	}

	for _, c := range osChecks {
		if strings.Contains(ua, c.keyword) {
			info.OS = c.name
			break
		}
	}

	switch {
	case strings.Contains(ua, "Tablet") || strings.Contains(ua, "iPad"):
		info.Device = "Tablet"
	case strings.Contains(ua, "Mobile"):
		info.Device = "Mobile"
	}

	return info
}
