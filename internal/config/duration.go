package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts "10ms", "1s", "5m", "1h" style strings, falling
// back to bare milliseconds when the string carries no unit — the
// format used throughout packet_defaults and automation delay/startup
// fields. An empty string yields zero with no error.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	ms, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("duration: invalid value %q", s)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
