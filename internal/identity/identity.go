// Package identity derives the agent's stable device fingerprint and
// default display name from the local environment.
package identity

import (
	"os"
	"os/user"
	"strings"
)

// DeviceFingerprint is username and hostname joined with an underscore.
// It stays stable across reinstalls on the same account and machine, which
// is what lets the collector fall back to it when no developer id was ever
// assigned.
func DeviceFingerprint() string {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = sanitize(u.Username)
	}
	hostname := "unknown"
	if h, err := os.Hostname(); err == nil && h != "" {
		hostname = sanitize(h)
	}
	return username + "_" + hostname
}

// DisplayName prefers the account's real name, falling back to the login
// name.
func DisplayName() string {
	u, err := user.Current()
	if err != nil {
		return "Unknown"
	}
	if u.Name != "" {
		return u.Name
	}
	if u.Username != "" {
		return u.Username
	}
	return "Unknown"
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	// Windows-style DOMAIN\user collapses to the user part.
	if i := strings.LastIndexByte(s, '\\'); i >= 0 {
		s = s[i+1:]
	}
	return strings.ReplaceAll(s, " ", "-")
}
