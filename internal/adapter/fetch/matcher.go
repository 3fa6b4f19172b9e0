package fetch

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher selects product URLs by glob patterns on the URL path.
type Matcher struct {
	includes []string
	excludes []string
}

func NewMatcher(includes, excludes []string) *Matcher {
	if len(includes) == 0 {
		includes = []string{"**"}
	}
	return &Matcher{
		includes: includes,
		excludes: excludes,
	}
}

// Match reports whether rawURL passes the include and exclude patterns.
// Patterns are matched against the path without its leading slash.
func (m *Matcher) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.TrimPrefix(u.Path, "/")
	return m.shouldInclude(path) && !m.shouldExclude(path)
}

func (m *Matcher) shouldInclude(path string) bool {
	for _, pattern := range m.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (m *Matcher) shouldExclude(path string) bool {
	for _, pattern := range m.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
