package plurl

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidURL for URLs with no parseable host.
var ErrInvalidURL = errors.New("invalid URL")

// ValidateURL defaults the scheme to https and rejects URLs without a
// host. Returns the normalized URL.
func ValidateURL(raw string) (string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", errors.Wrap(ErrInvalidURL, raw)
	}
	return raw, nil
}

// ParseEndpoints splits a comma-separated endpoint list and resolves
// each entry against base.
func ParseEndpoints(list, base string) []string {
	if list == "" {
		return []string{}
	}
	endpoints := strings.Split(list, ",")
	for i, ep := range endpoints {
		endpoints[i] = strings.TrimSpace(ep)
	}
	return ResolveEndpoints(endpoints, base)
}

// ResolveEndpoints turns relative endpoints into full URLs against
// base; absolute entries pass through untouched.
func ResolveEndpoints(endpoints []string, base string) []string {
	baseURL, err := url.Parse(base)
	full := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
			full = append(full, ep)
			continue
		}
		if !strings.HasPrefix(ep, "/") {
			ep = "/" + ep
		}
		if err != nil {
			full = append(full, ep)
			continue
		}
		ref, perr := url.Parse(ep)
		if perr != nil {
			full = append(full, ep)
			continue
		}
		full = append(full, baseURL.ResolveReference(ref).String())
	}
	return full
}

// FormatDuration renders a duration the way a human reads one: ms under
// a second, fractional seconds under a minute, minutes above.
func FormatDuration(d time.Duration) string {
	seconds := d.Seconds()
	if seconds < 1 {
		return fmt.Sprintf("%.0fms", seconds*1000)
	}
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	minutes := int(seconds) / 60
	return fmt.Sprintf("%dm %.1fs", minutes, seconds-float64(minutes*60))
}

// DefaultLogFile names a session log after the wall clock.
func DefaultLogFile() string {
	return fmt.Sprintf("plurl_session_%s.log", time.Now().Format("20060102_150405"))
}
