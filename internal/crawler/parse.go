package crawler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var countChars = regexp.MustCompile(`[^0-9.KMB]`)

// ParseCount converts a human-readable counter ("1.2M", "52.3K", "12,345")
// into an absolute value. It never fails: anything unparseable is 0.
func ParseCount(text string) int64 {
	text = strings.ToUpper(strings.TrimSpace(text))
	text = strings.ReplaceAll(text, ",", "")
	text = countChars.ReplaceAllString(text, "")
	if text == "" {
		return 0
	}

	multipliers := []struct {
		suffix string
		factor float64
	}{
		{"K", 1e3},
		{"M", 1e6},
		{"B", 1e9},
	}
	for _, m := range multipliers {
		if strings.Contains(text, m.suffix) {
			n, err := strconv.ParseFloat(strings.ReplaceAll(text, m.suffix, ""), 64)
			if err != nil {
				return 0
			}
			return int64(n * m.factor)
		}
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	return int64(n)
}

// millisecondFloor is the smallest timestamp treated as milliseconds rather
// than seconds: epoch seconds never exceed ten digits within the platform's
// lifetime.
const millisecondFloor = 9_999_999_999

// TimestampToDate converts an epoch timestamp (seconds or milliseconds,
// detected by magnitude) into a YYYY-MM-DD date. Results outside the
// plausible [minYear, maxYear] window come back empty rather than as a
// nonsensical date.
func TimestampToDate(ts int64, minYear, maxYear int) string {
	if ts <= 0 {
		return ""
	}
	if ts > millisecondFloor {
		ts /= 1000
	}
	t := time.Unix(ts, 0).UTC()
	if t.Year() < minYear || t.Year() > maxYear {
		return ""
	}
	return t.Format("2006-01-02")
}

// IsValidDate reports whether s is a well-formed YYYY-MM-DD date. Used by the
// publish-date preservation policy: an already-valid stored date always wins
// over a freshly scraped one.
func IsValidDate(s string) bool {
	if len(s) != 10 {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
