package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so that equivalent addresses dedupe to
// the same key. It resolves the URL against base when relative, lowercases
// the scheme and host, removes default ports, and drops the query string
// and fragment. Query and fragment are intentionally not part of a page's
// identity here: the sites this crawler targets key pages by path.
func NormalizeURL(rawURL, base string) (string, error) {
	if base != "" && !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		rel, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("parse relative url: %w", err)
		}
		rawURL = baseURL.ResolveReference(rel).String()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// Host returns the lowercased host of a URL, or "" when it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// PathSlashCount counts '/' occurrences in the URL path. Used by the
// path-length priority policy.
func PathSlashCount(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	return strings.Count(u.Path, "/")
}

// PathSegments splits the URL path into its non-empty segments.
func PathSegments(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var segments []string
	for _, part := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
