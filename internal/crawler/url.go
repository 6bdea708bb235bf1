package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Validation failures. ErrInvalidTarget is the sentinel all of them wrap so
// callers can test with errors.Is.
var (
	ErrInvalidTarget = errors.New("invalid target url")

	errEmptyURL    = fmt.Errorf("%w: empty", ErrInvalidTarget)
	errShortURL    = fmt.Errorf("%w: too short", ErrInvalidTarget)
	errWrongSite   = fmt.Errorf("%w: not a tiktok url", ErrInvalidTarget)
	errWrongDomain = fmt.Errorf("%w: unrecognized tiktok domain", ErrInvalidTarget)
	errProfileURL  = fmt.Errorf("%w: profile url, not a video", ErrInvalidTarget)
	errNoVideoID   = fmt.Errorf("%w: no numeric video id", ErrInvalidTarget)
)

var videoIDPattern = regexp.MustCompile(`/video/(\d+)`)

// validHosts are the domains a video link may resolve against. Short-link
// hosts (vt, vm) carry no /video/ path segment and are accepted as-is.
var validHosts = []string{
	"tiktok.com",
	"www.tiktok.com",
	"vt.tiktok.com",
	"m.tiktok.com",
	"vm.tiktok.com",
}

// ValidateURL normalizes and vets a raw video link before any browser work is
// spent on it. It is a pure function: no I/O, no side effects. On success it
// returns the canonical URL (https scheme guaranteed); on failure the error
// wraps ErrInvalidTarget with the rejection reason.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errEmptyURL
	}
	if len(raw) < 10 {
		return "", fmt.Errorf("%w: %q", errShortURL, raw)
	}
	if !strings.Contains(strings.ToLower(raw), "tiktok") {
		return "", fmt.Errorf("%w: %q", errWrongSite, raw)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse: %v", ErrInvalidTarget, err)
	}

	host := strings.ToLower(parsed.Hostname())
	if !knownHost(host) {
		return "", fmt.Errorf("%w: %q", errWrongDomain, host)
	}

	switch {
	case strings.Contains(parsed.Path, "/video/"):
		if !videoIDPattern.MatchString(parsed.Path) {
			return "", fmt.Errorf("%w: %q", errNoVideoID, raw)
		}
	case host == "vt.tiktok.com" || host == "vm.tiktok.com":
		// Short links redirect to the full video URL in the browser.
	case strings.Contains(parsed.Path, "/@"):
		return "", fmt.Errorf("%w: %q", errProfileURL, raw)
	}

	return raw, nil
}

// VideoID extracts the numeric id from a full video URL, or "" when the link
// has no /video/ segment (short links).
func VideoID(canonical string) string {
	m := videoIDPattern.FindStringSubmatch(canonical)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

func knownHost(host string) bool {
	for _, h := range validHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
