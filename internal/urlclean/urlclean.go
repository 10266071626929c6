// Package urlclean normalizes source image URLs before they are fetched:
// it restricts the scheme to http/https and strips known tracking
// query parameters and path segments.
package urlclean

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingNames is the fixed tracker vocabulary, matched case-insensitively
// against both query parameter names and path segments. Parameters with a
// "utm_" prefix are always stripped.
var trackingNames = map[string]struct{}{
	"fbclid":     {},
	"gclid":      {},
	"dclid":      {},
	"msclkid":    {},
	"twclid":     {},
	"yclid":      {},
	"igshid":     {},
	"mc_eid":     {},
	"ref":        {},
	"referrer":   {},
	"referral":   {},
	"click_id":   {},
	"clickid":    {},
	"click-id":   {},
	"session_id": {},
	"sessionid":  {},
	"_ga":        {},
	"_gl":        {},
}

func isTracking(name string) bool {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, "utm_") {
		return true
	}
	_, ok := trackingNames[name]
	return ok
}

// Clean parses raw as an absolute http(s) URL, removes tracking query
// parameters and path segments, and returns the reconstructed URL.
// It performs no network access.
func Clean(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q (only http and https are allowed)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}

	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if isTracking(name) {
				q.Del(name)
			}
		}
		u.RawQuery = q.Encode()
	}

	if strings.Contains(u.Path, "/") {
		segments := strings.Split(u.Path, "/")
		kept := segments[:0]
		for _, seg := range segments {
			if seg != "" && isTracking(seg) {
				continue
			}
			kept = append(kept, seg)
		}
		u.Path = strings.Join(kept, "/")
	}

	// Fragments are never sent to the origin.
	u.Fragment = ""

	return u.String(), nil
}
