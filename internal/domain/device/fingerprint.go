package device

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mileusna/useragent"
	"golang.org/x/crypto/blake2b"
)

// Class is the coarse device category
type Class string

const (
	ClassMobile  Class = "mobile"
	ClassTablet  Class = "tablet"
	ClassDesktop Class = "desktop"
	ClassBot     Class = "bot"
)

const unknown = "Unknown"

const (
	ReasonNewDeviceUnknownLocation = "new device from unknown location"
	ReasonNewDevice                = "new device detected"
)

// Descriptor is the human-facing view of a user agent
type Descriptor struct {
	Class          Class
	OSName         string
	OSVersion      string
	BrowserName    string
	BrowserVersion string
	Label          string
}

// Engine derives device fingerprints. The secret keys the digest so the same
// user agent fingerprints differently across deployments.
type Engine struct {
	key       []byte
	includeIP bool
}

// NewEngine creates an engine keyed with secret. includeIP sets the default
// used by Identify; Fingerprint always takes it explicitly.
func NewEngine(secret string, includeIP bool) *Engine {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Engine{key: key, includeIP: includeIP}
}

// Fingerprint returns a deterministic hex digest of the user agent and,
// when includeIP is set, the client IP
func (e *Engine) Fingerprint(userAgent, ip string, includeIP bool) string {
	h, err := blake2b.New256(e.key)
	if err != nil {
		// only reachable with a key longer than 64 bytes, which NewEngine prevents
		panic(fmt.Sprintf("blake2b: %v", err))
	}

	h.Write([]byte(strings.ToLower(strings.TrimSpace(userAgent))))
	if includeIP {
		h.Write([]byte{'|'})
		h.Write([]byte(strings.TrimSpace(ip)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Identify computes the fingerprint with the engine default plus the descriptor
func (e *Engine) Identify(userAgent, ip string) (string, Descriptor) {
	return e.Fingerprint(userAgent, ip, e.includeIP), Describe(userAgent)
}

// Describe parses a user agent. It never fails: anything it cannot make sense
// of is reported as a generic desktop.
func Describe(userAgent string) Descriptor {
	if strings.TrimSpace(userAgent) == "" {
		return genericDesktop()
	}

	ua := useragent.Parse(userAgent)
	if ua.Name == "" && ua.OS == "" && !ua.Bot {
		return genericDesktop()
	}

	d := Descriptor{
		Class:          classify(ua),
		OSName:         orUnknown(ua.OS),
		OSVersion:      ua.OSVersion,
		BrowserName:    orUnknown(ua.Name),
		BrowserVersion: ua.Version,
	}
	d.Label = label(d, ua.Device)
	return d
}

func classify(ua useragent.UserAgent) Class {
	switch {
	case ua.Bot:
		return ClassBot
	case ua.Tablet:
		return ClassTablet
	case ua.Mobile:
		return ClassMobile
	default:
		return ClassDesktop
	}
}

func label(d Descriptor, model string) string {
	if d.Class == ClassBot {
		return d.BrowserName + " (bot)"
	}

	var b strings.Builder
	b.WriteString(d.BrowserName)
	b.WriteString(" on ")
	b.WriteString(d.OSName)
	if d.OSVersion != "" {
		b.WriteString(" ")
		b.WriteString(d.OSVersion)
	}
	if model != "" {
		b.WriteString(" (")
		b.WriteString(model)
		b.WriteString(")")
	}
	return b.String()
}

func genericDesktop() Descriptor {
	return Descriptor{
		Class:       ClassDesktop,
		OSName:      unknown,
		BrowserName: unknown,
		Label:       "Desktop",
	}
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

// IsSuspicious flags a login from a fingerprint the user has never used.
// A known fingerprint is never suspicious, whatever the IP.
func IsSuspicious(fingerprint, ip string, knownFingerprints, knownIPs map[string]struct{}) (bool, string) {
	if _, ok := knownFingerprints[fingerprint]; ok {
		return false, ""
	}
	if _, ok := knownIPs[ip]; !ok {
		return true, ReasonNewDeviceUnknownLocation
	}
	return true, ReasonNewDevice
}
