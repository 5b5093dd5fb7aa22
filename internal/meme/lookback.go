package meme

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

var lookbackUnits = map[string]string{
	"s": "s", "sec": "s", "secs": "s", "second": "s", "seconds": "s",
	"m": "m", "min": "m", "mins": "m", "minute": "m", "minutes": "m",
	"h": "h", "hr": "h", "hrs": "h", "hour": "h", "hours": "h",
	"d": "d", "day": "d", "days": "d",
	"w": "w", "week": "w", "weeks": "w",
}

var lookbackComponent = regexp.MustCompile(`^\s*(\d+)\s*([a-zA-Z]+)`)

// ParseLookback parses a human duration such as "7d", "36h", "2w" or
// "1day 12h". Components are whole numbers followed by a unit and may be
// separated by spaces. Durations that do not fit a time.Duration are
// rejected.
func ParseLookback(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var compact strings.Builder
	rest := s
	for strings.TrimSpace(rest) != "" {
		m := lookbackComponent.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("duration %q: expected number and unit at %q", s, strings.TrimSpace(rest))
		}
		unit, ok := lookbackUnits[strings.ToLower(m[2])]
		if !ok {
			return 0, fmt.Errorf("duration %q: unknown unit %q", s, m[2])
		}
		compact.WriteString(m[1])
		compact.WriteString(unit)
		rest = rest[len(m[0]):]
	}

	d, err := str2duration.ParseDuration(compact.String())
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	return d, nil
}
