package soap

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrFormat is returned by ParseTime for text that is not a non-negative
// H:MM:SS duration.
var ErrFormat = errors.New("invalid time format")

// FormatTime renders whole seconds as H:MM:SS. Hours are not zero padded.
// Negative input renders as 0:00:00.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// maxHours keeps h*3600+59*60+59 within int.
const maxHours = (math.MaxInt - 3599) / 3600

// ParseTime parses H+:MM:SS with an optional fractional part, which is
// truncated. Minutes and seconds must be two digits below 60. Zero-padded
// hours and fractions are accepted, so FormatTime(ParseTime(s)) == s holds
// only for the canonical H:MM:SS form FormatTime produces.
func ParseTime(text string) (int, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrFormat)
	}
	// ".F+" or ".F0/F1" fractions are accepted and dropped.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if !allDigits(strings.ReplaceAll(s[i+1:], "/", "")) {
			return 0, fmt.Errorf("%w: %q", ErrFormat, text)
		}
		s = s[:i]
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrFormat, text)
	}
	if !allDigits(parts[0]) || len(parts[1]) != 2 || len(parts[2]) != 2 ||
		!allDigits(parts[1]) || !allDigits(parts[2]) {
		return 0, fmt.Errorf("%w: %q", ErrFormat, text)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h > maxHours {
		return 0, fmt.Errorf("%w: %q", ErrFormat, text)
	}
	m, _ := strconv.Atoi(parts[1])
	sec, _ := strconv.Atoi(parts[2])
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("%w: %q", ErrFormat, text)
	}
	return h*3600 + m*60 + sec, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
