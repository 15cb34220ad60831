package scrape

import (
	"net/url"
	"path"
	"strings"
)

// Paths that never hold portfolio listings.
var defaultExcludePatterns = []string{
	"/careers/*",
	"/privacy*",
	"/terms*",
	"/*.pdf",
}

// PathMatcher filters URLs by glob-style path patterns. A trailing "/*"
// also matches deeper paths, so "/careers/*" excludes "/careers/a/b".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher lower-cases patterns once. An empty list selects the
// defaults.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL is unparseable, not http(s), or matches
// an exclude pattern.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if dir, ok := strings.CutSuffix(pattern, "/*"); ok {
		return urlPath == dir || strings.HasPrefix(urlPath, dir+"/")
	}
	// "/*.pdf" should match at any depth.
	if strings.HasPrefix(pattern, "/*.") {
		ok, _ := path.Match("*"+pattern[2:], path.Base(urlPath))
		return ok
	}
	return false
}
