package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var numberWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "fifteen": 15,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "ninety": 90,
}

func unitOf(w string) (time.Duration, bool) {
	switch w {
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "s", "sec", "secs", "second", "seconds":
		return time.Second, true
	}
	return 0, false
}

// ParseSpokenDuration understands "5 minutes", "an hour and 30 minutes",
// "half an hour", "an hour and a half", "one and a half hours" and Go
// syntax such as "1h30m". Zero and negative durations are rejected.
func ParseSpokenDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(strings.ReplaceAll(s, " ", "")); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", s)
		}
		return d, nil
	}

	var (
		total    time.Duration
		lastUnit time.Duration

		pending     float64
		havePending bool
		article     bool // pending is the "a"/"an" before a unit
		fraction    bool // pending is the "a half" after a unit
		halfOf      bool // "half" came before its quantity
	)
	for _, w := range strings.Fields(s) {
		switch w {
		case "and", "for":
			continue
		case "a", "an":
			if !havePending {
				pending, havePending, article = 1, true, true
			}
			continue
		case "half":
			switch {
			case havePending && article:
				pending, article, fraction = 0.5, false, true
			case havePending:
				pending += 0.5
			default:
				halfOf = true
			}
			continue
		}

		if unit, ok := unitOf(w); ok {
			n := 1.0
			if havePending {
				n = pending
			}
			if halfOf {
				n *= 0.5
			}
			total += time.Duration(n * float64(unit))
			lastUnit = unit
			pending, havePending, article, fraction, halfOf = 0, false, false, false, false
			continue
		}

		n, ok := numberWords[w]
		if !ok {
			var err error
			if n, err = strconv.ParseFloat(w, 64); err != nil {
				return 0, fmt.Errorf("cannot understand duration %q", s)
			}
		}
		if n < 0 {
			return 0, fmt.Errorf("duration %q must be positive", s)
		}
		pending, havePending, article, fraction = n, true, false, false
	}

	switch {
	case havePending && fraction && lastUnit > 0:
		// "an hour and a half"
		total += time.Duration(pending * float64(lastUnit))
	case halfOf && !havePending && lastUnit > 0:
		total += lastUnit / 2
	case havePending:
		return 0, fmt.Errorf("duration %q has a number without a unit", s)
	}
	if total <= 0 {
		return 0, fmt.Errorf("cannot understand duration %q", s)
	}
	return total, nil
}
