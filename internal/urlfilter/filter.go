// Package urlfilter turns raw hyperlinks into canonical frontier URLs and
// decides which URLs the crawl is allowed to visit.
package urlfilter

import (
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// Config lists the crawl boundaries. Matching is case-insensitive.
type Config struct {
	AllowedDomains     []string
	ExcludedExtensions []string
	BlacklistPatterns  []string
}

// Filter resolves and admits URLs. It holds no mutable state and is safe for
// concurrent use.
type Filter struct {
	domains    []string
	extensions []string
	patterns   []string
}

var rejectedSchemes = []string{"mailto:", "tel:", "javascript:"}

// New builds a Filter from cfg.
func New(cfg Config) *Filter {
	return &Filter{
		domains:    normalizeList(cfg.AllowedDomains, func(s string) string { return strings.TrimPrefix(s, ".") }),
		extensions: normalizeList(cfg.ExcludedExtensions, nil),
		patterns:   normalizeList(cfg.BlacklistPatterns, nil),
	}
}

func normalizeList(values []string, extra func(string) string) []string {
	cleaned := lo.Map(values, func(v string, _ int) string {
		v = strings.ToLower(strings.TrimSpace(v))
		if extra != nil {
			v = extra(v)
		}
		return v
	})
	return lo.Uniq(lo.Compact(cleaned))
}

// Resolve canonicalizes rawHref relative to base. It strips any query or
// fragment, surrounding whitespace and one trailing slash, resolves the
// result against base, and returns it only if the host is allowed and the
// URL is not excluded. ok is false for anything rejected.
func (f *Filter) Resolve(rawHref, base string) (string, bool) {
	href := rawHref
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimSpace(href)
	href = strings.TrimSuffix(href, "/")
	if href == "" {
		return "", false
	}
	lowerHref := strings.ToLower(href)
	for _, scheme := range rejectedSchemes {
		if strings.HasPrefix(lowerHref, scheme) {
			return "", false
		}
	}

	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if !f.HostAllowed(resolved.Hostname()) {
		return "", false
	}
	candidate := resolved.String()
	if _, ok := f.Admit(candidate); !ok {
		return "", false
	}
	return candidate, true
}

// HostAllowed reports whether host equals an allowed domain or is a
// subdomain of one.
func (f *Filter) HostAllowed(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	for _, domain := range f.domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Admit applies the extension and pattern deny-lists to an already canonical
// URL. When the URL is rejected the reason names the rule that matched.
func (f *Filter) Admit(rawURL string) (string, bool) {
	lower := strings.ToLower(rawURL)
	for _, ext := range f.extensions {
		if strings.HasSuffix(lower, ext) {
			return "excluded extension " + ext, false
		}
	}
	for _, pattern := range f.patterns {
		if strings.Contains(lower, pattern) {
			return "blacklisted pattern " + pattern, false
		}
	}
	return "", true
}

// ArtifactBase maps a URL to the base name its artifacts are stored under:
// the https:// prefix is removed and every '/' and '.' becomes '_'. Case is
// preserved.
func ArtifactBase(rawURL string) string {
	trimmed := strings.TrimPrefix(rawURL, "https://")
	return artifactReplacer.Replace(trimmed)
}

var artifactReplacer = strings.NewReplacer("/", "_", ".", "_")
