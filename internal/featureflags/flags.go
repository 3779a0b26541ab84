package featureflags

import (
	"os"
	"strings"
)

// StrictLoopback removes the quota and abuse bypass for loopback clients
const StrictLoopback = "strict_loopback"

// Enabled returns true if a flag is enabled via environment variable.
// Flags are read from env as FLAG_<NAME>=true/1/yes (case-insensitive)
func Enabled(name string) bool {
	return parse(os.Getenv("FLAG_" + strings.ToUpper(name)))
}

// LoopbackBypass reports whether loopback clients skip quota and abuse checks
func LoopbackBypass() bool {
	return !Enabled(StrictLoopback)
}

func parse(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
