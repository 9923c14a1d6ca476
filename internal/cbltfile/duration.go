package cbltfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses the Cbltfile duration grammar from spec.md §6: an
// integer followed by "s", "ms", or "m". time.ParseDuration already
// accepts this exact suffix set (plus more, which we reject to keep the
// grammar as specified).
func ParseDuration(s string) (time.Duration, error) {
	suffix := ""
	switch {
	case strings.HasSuffix(s, "ms"):
		suffix = "ms"
	case strings.HasSuffix(s, "s"):
		suffix = "s"
	case strings.HasSuffix(s, "m"):
		suffix = "m"
	default:
		return 0, fmt.Errorf("cbltfile: invalid duration %q: must end in s, ms, or m", s)
	}
	numPart := strings.TrimSuffix(s, suffix)
	if _, err := strconv.Atoi(numPart); err != nil {
		return 0, fmt.Errorf("cbltfile: invalid duration %q: %w", s, err)
	}
	return time.ParseDuration(s)
}
