package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// ClientInfo holds what the attempt log and request logs need about a caller
type ClientInfo struct {
	Platform   string `json:"platform"`    // android, ios, web, windows, mac, linux, unknown
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, unknown
	IsBot      bool   `json:"is_bot"`
}

// ParseClient parses a User-Agent string. The mobile client sends okhttp
// (Android) or CFNetwork/Darwin (iOS) agents which the parser does not
// classify, so those are matched first.
func ParseClient(userAgent string) ClientInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return ClientInfo{Platform: "unknown", DeviceType: "unknown"}
	}

	lower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(lower, "okhttp"):
		return ClientInfo{Platform: "android", DeviceType: "mobile"}
	case strings.Contains(lower, "cfnetwork"), strings.Contains(lower, "darwin"):
		return ClientInfo{Platform: "ios", DeviceType: "mobile"}
	}

	parser := ua.New(userAgent)
	return ClientInfo{
		Platform:   getPlatform(parser),
		DeviceType: getDeviceType(parser),
		IsBot:      parser.Bot(),
	}
}

// ClientPlatform resolves the platform, preferring an explicit header value
func ClientPlatform(header, userAgent string) string {
	switch p := strings.ToLower(strings.TrimSpace(header)); p {
	case "android", "ios", "web":
		return p
	}
	return ParseClient(userAgent).Platform
}

func getDeviceType(parser *ua.UserAgent) string {
	if !parser.Mobile() {
		return "desktop"
	}
	lower := strings.ToLower(parser.UA())
	for _, indicator := range []string{"ipad", "tablet", "kindle", "sm-t", "nexus 7", "nexus 9", "nexus 10"} {
		if strings.Contains(lower, indicator) {
			return "tablet"
		}
	}
	return "mobile"
}

func getPlatform(parser *ua.UserAgent) string {
	osName := strings.ToLower(parser.OSInfo().Name)

	// ordered: "iphone os" must win over the generic checks
	platforms := []struct{ key, platform string }{
		{"android", "android"},
		{"iphone os", "ios"},
		{"ios", "ios"},
		{"chrome os", "chromeos"},
		{"windows", "windows"},
		{"mac os x", "mac"},
		{"macos", "mac"},
		{"linux", "linux"},
		{"ubuntu", "linux"},
	}
	for _, p := range platforms {
		if strings.Contains(osName, p.key) {
			return p.platform
		}
	}
	return "unknown"
}
