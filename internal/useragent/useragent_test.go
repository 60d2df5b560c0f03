package useragent

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		os      string
		browser string
	}{
		{
			name:    "chrome on windows desktop",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			device:  "Desktop",
			os:      "Windows",
			browser: "Chrome",
		},
		{
			name:    "firefox on linux",
			ua:      "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
			device:  "Desktop",
			os:      "Linux",
			browser: "Firefox",
		},
		{
			name:    "chrome on android mobile",
			ua:      "Mozilla/5.0 (Android 14; Mobile) Chrome/120.0 Mobile Safari/537.36",
			device:  "Mobile",
			os:      "Android",
			browser: "Chrome",
		},
		{
			name:    "safari on ipad",
			ua:      "Mozilla/5.0 (iPad; CPU OS 17_0) Version/17.0 Safari/604.1",
			device:  "Tablet",
			os:      "iOS",
			browser: "Safari",
		},
		{
			name:    "internet explorer via trident",
			ua:      "Mozilla/5.0 (Windows NT 6.1; Trident/7.0; rv:11.0) like Gecko",
			device:  "Desktop",
			os:      "Windows",
			browser: "Internet Explorer",
		},
		{
			name:    "empty",
			ua:      "",
			device:  "Desktop",
			os:      Unknown,
			browser: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.ua)
			if got.Device != tt.device || got.OS != tt.os || got.Browser != tt.browser {
				t.Errorf("Parse() = %+v, want device=%s os=%s browser=%s", got, tt.device, tt.os, tt.browser)
			}
		})
	}
}
