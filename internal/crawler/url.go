package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// canonicalFlags are the generic normalizations applied to every frontier key.
const canonicalFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagSortQuery |
	purell.FlagRemoveEmptyQuerySeparator

// CanonicalURL standardizes a URL so it can serve as the frontier dedup key.
// It lowercases the scheme and host, removes default ports and the fragment,
// rewrites spaces in the path to underscores (MediaWiki titles), re-encodes the
// path from its decoded form and sorts query parameters. Path case and trailing
// slashes are kept because wiki titles are case sensitive.
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q in %q", ErrInvalidURL, u.Scheme, rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}

	u.User = nil
	u.Path = strings.ReplaceAll(u.Path, " ", "_")
	if u.Path == "" {
		u.Path = "/"
	}
	// Dropping RawPath forces re-encoding from Path, so equivalent
	// percent-encodings converge.
	u.RawPath = ""
	u.RawFragment = ""

	return purell.NormalizeURL(u, canonicalFlags), nil
}

// Resolve turns href (possibly relative) into a canonical absolute URL using base.
func Resolve(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return CanonicalURL(baseURL.ResolveReference(ref).String())
}

// TitleFromURL derives a human readable page title from the last path segment,
// e.g. "/w/50%25_Luke" becomes "50% Luke".
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

// Host returns the lowercase hostname of rawURL or "unknown".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
