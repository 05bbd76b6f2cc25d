package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Device is the set of browser features a fingerprint is derived from.
type Device struct {
	Screen   string `json:"screen,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Device   string `json:"device,omitempty"`
	OS       string `json:"os,omitempty"`
	Browser  string `json:"browser,omitempty"`
}

func (d Device) empty() bool {
	return strings.TrimSpace(d.Screen+d.Timezone+d.Device+d.OS+d.Browser) == ""
}

// Fingerprint hashes the normalized features. Empty features give an empty fingerprint,
// never a hash of nothing that every anonymous visitor would share.
func Fingerprint(d Device) string {
	if d.empty() {
		return ""
	}
	parts := []string{d.Screen, d.Timezone, d.Device, d.OS, d.Browser}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
