package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var clockPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// QuietHours is a daily window during which proactive messages are suppressed
type QuietHours struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
}

// ParseClock parses "HH:MM" into minutes since midnight
func ParseClock(s string) (int, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return hour*60 + minute, nil
}

// IsQuiet reports whether now falls inside the window. Bounds are inclusive.
// A window whose start is after its end wraps past midnight.
// On a malformed window it returns false together with the parse error.
func (q QuietHours) IsQuiet(now time.Time) (bool, error) {
	start, err := ParseClock(q.Start)
	if err != nil {
		return false, fmt.Errorf("quiet start: %w", err)
	}
	end, err := ParseClock(q.End)
	if err != nil {
		return false, fmt.Errorf("quiet end: %w", err)
	}

	current := now.Hour()*60 + now.Minute()
	if start > end {
		return current >= start || current <= end, nil
	}
	return start <= current && current <= end, nil
}

// String implements fmt.Stringer
func (q QuietHours) String() string {
	return q.Start + "-" + q.End
}

// Enabled reports whether a window is configured at all
func (q QuietHours) Enabled() bool {
	return q.Start != "" || q.End != ""
}
