package detect

import (
	"strings"

	"github.com/mileusna/useragent"
)

// Device is the coarse device class used for targeting.
type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
	DeviceDesktop Device = "desktop"
)

// Attributes is the normalized per-request tuple the targeting rules
// evaluate against. Empty string means the attribute is unknown for this
// request; an unknown attribute never satisfies a condition.
type Attributes struct {
	Geo     string
	Device  Device
	Browser string
	OS      string
}

// FromRequest derives Attributes from the raw request metadata: the
// CDN-provided country header and the User-Agent string. Deterministic for
// identical input; an empty or unparseable User-Agent degrades to
// desktop with unknown browser/os rather than failing.
func FromRequest(country, userAgent string) Attributes {
	a := Attributes{
		Geo:    strings.ToUpper(strings.TrimSpace(country)),
		Device: DeviceDesktop,
	}

	ua := useragent.Parse(userAgent)
	switch {
	case ua.Tablet:
		a.Device = DeviceTablet
	case ua.Mobile:
		a.Device = DeviceMobile
	}
	a.Browser = strings.ToLower(strings.TrimSpace(ua.Name))
	a.OS = strings.ToLower(strings.TrimSpace(ua.OS))
	return a
}

// Value returns the named attribute and whether the request carries it.
// Recognized names: geo, device, browser, os. Anything else (including
// "domain", which this serving path does not derive) reports absent.
func (a Attributes) Value(name string) (string, bool) {
	switch name {
	case "geo":
		return a.Geo, a.Geo != ""
	case "device":
		return string(a.Device), a.Device != ""
	case "browser":
		return a.Browser, a.Browser != ""
	case "os":
		return a.OS, a.OS != ""
	}
	return "", false
}
