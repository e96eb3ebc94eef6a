package frontier

import (
	"net/url"
	"strings"
)

// CanonicalizeURL normalizes a URL into the form used for deduplication:
// lowercased scheme and host, default port dropped, fragment stripped, empty
// path forced to "/", a single trailing slash removed from non-root paths,
// and query parameters re-encoded in lexicographic key order. Two URLs that
// canonicalize identically are the same work item. ok is false for input
// that does not parse or lacks a scheme or host.
func CanonicalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch u.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), true
}

// ExtractDomain yields the lowercased host component of a URL, ignoring any
// port. Empty for input that does not parse as a host-bearing URL.
func ExtractDomain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// normalizePattern prepares a blocked-domain pattern for matching: lowercase,
// with any "*." prefix stripped.
func normalizePattern(pattern string) string {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	pattern = strings.TrimPrefix(pattern, "*.")
	return strings.Trim(pattern, ".")
}

// matchesPattern reports whether a domain equals the pattern or sits under
// it ("example.com" matches itself and "sub.example.com").
func matchesPattern(domain, pattern string) bool {
	if pattern == "" {
		return false
	}
	return domain == pattern || strings.HasSuffix(domain, "."+pattern)
}
