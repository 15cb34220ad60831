package model

import (
	"net/url"
	"strings"
)

// CanonicalWebpage reduces a company URL to "https://" plus the lower-cased
// host without "www." and the lower-cased path without a trailing slash.
// Query and fragment are dropped. Spellings of the same site compare equal,
// so the result is both the stored value and the dedupe key. Values that do
// not parse as a URL are only trimmed and lower-cased.
func CanonicalWebpage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	s := raw
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return "https://" + host + strings.TrimSuffix(strings.ToLower(u.Path), "/")
}
