package collector

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so identity comparisons are exact-string
// comparisons. It lowercases the scheme and host, removes default ports,
// collapses duplicate path separators, drops fragments, and sorts query
// parameters by key.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	// Collapse separators on the escaped form so percent escapes pass
	// through untouched, then keep Path and RawPath consistent so
	// String re-emits the original encoding instead of escaping twice.
	escaped := u.EscapedPath()
	if escaped == "" {
		escaped = "/"
	}
	for strings.Contains(escaped, "//") {
		escaped = strings.ReplaceAll(escaped, "//", "/")
	}
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("decode path: %w", err)
	}
	u.Path = decoded
	u.RawPath = escaped

	// Values.Encode emits keys in sorted order.
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// HostOf extracts the lowercased hostname of a URL, without port.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

// PathOf returns the normalized, percent-decoded, lower-cased path of a
// URL, defaulting to "/". This is the form the persistence policy matches
// rules against.
func PathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return strings.ToLower("/" + strings.TrimLeft(u.Path, "/"))
}
