package tracking

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device classes
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// UserAgent is the coarse classification stored with each event
type UserAgent struct {
	Browser string
	OS      string
	Device  string
	Bot     bool
}

// vendorTokens name Chromium and WebKit forks the parser reports as their base browser.
// Checked in order against the product tokens of the header.
var vendorTokens = []struct {
	token string
	name  string
}{
	{"Edg/", "Edge"},
	{"EdgA/", "Edge"},
	{"EdgiOS/", "Edge"},
	{"OPR/", "Opera"},
	{"SamsungBrowser/", "Samsung Internet"},
	{"FxiOS/", "Firefox"},
	{"CriOS/", "Chrome"},
}

var browserNames = map[string]string{
	"Chrome":   "Chrome",
	"Chromium": "Chrome",
	"Edge":     "Edge",
	"Firefox":  "Firefox",
	"Opera":    "Opera",
	"Safari":   "Safari",
}

// automation clients that present a browser UA but are never visitors
var automation = map[string]bool{
	"Headless Chrome": true,
	"PhantomJS":       true,
}

// ParseUserAgent classifies a User-Agent header. An empty header counts as a bot.
func ParseUserAgent(header string) UserAgent {
	if strings.TrimSpace(header) == "" {
		return UserAgent{Browser: "Other", OS: "Other", Device: DeviceDesktop, Bot: true}
	}

	ua := useragent.New(header)
	name, _ := ua.Browser()

	result := UserAgent{
		Browser: browserName(header, name),
		OS:      osName(ua, header),
		Device:  DeviceDesktop,
	}

	// Clients without a Mozilla product token are scripts and HTTP libraries.
	// Presto-era Opera is the one real browser that omits it.
	scripted := ua.Mozilla() == "" && name != "Opera"
	result.Bot = ua.Bot() || scripted || automation[name]

	switch platform := ua.Platform(); {
	case platform == "iPad":
		result.Device = DeviceTablet
	case platform == "iPhone" || platform == "iPod":
		result.Device = DeviceMobile
	case result.OS == "Android":
		// Android tablets leave the Mobile token out
		if strings.Contains(header, "Mobile") {
			result.Device = DeviceMobile
		} else {
			result.Device = DeviceTablet
		}
	case ua.Mobile():
		result.Device = DeviceMobile
	}

	return result
}

func browserName(header, parsed string) string {
	for _, v := range vendorTokens {
		if strings.Contains(header, v.token) {
			return v.name
		}
	}
	if name, ok := browserNames[parsed]; ok {
		return name
	}
	return "Other"
}

func osName(ua *useragent.UserAgent, header string) string {
	system := ua.OS()
	switch platform := ua.Platform(); {
	case platform == "Windows" || strings.HasPrefix(system, "Windows"):
		return "Windows"
	case platform == "iPhone" || platform == "iPad" || platform == "iPod":
		return "iOS"
	case platform == "Android" || strings.Contains(system, "Android"):
		return "Android"
	case platform == "Macintosh":
		return "macOS"
	case strings.Contains(system, "CrOS") || strings.Contains(header, "CrOS "):
		return "ChromeOS"
	case platform == "X11" || platform == "Linux" || strings.Contains(system, "Linux"):
		return "Linux"
	}
	return "Other"
}

// DeviceForWidth classifies a viewport width in CSS pixels
func DeviceForWidth(w int) string {
	switch {
	case w <= 0:
		return ""
	case w < 576:
		return DeviceMobile
	case w < 992:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}
