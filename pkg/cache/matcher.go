package cache

import (
	"fmt"
	"regexp"

	"github.com/marmos91/dittocache/pkg/lru"
)

// KeyMatcher selects the keys that match a pattern.
type KeyMatcher interface {
	Match(pattern string, keys []string) ([]string, error)
}

// compiledPatterns is the number of compiled expressions kept per matcher.
const compiledPatterns = 64

// RegexMatcher matches keys against a regular expression anchored at both
// ends, so "user:.*" matches "user:1" but not "olduser:1".
type RegexMatcher struct {
	compiled *lru.Map[string, *regexp.Regexp]
}

// NewRegexMatcher returns a matcher with a small cache of compiled patterns.
func NewRegexMatcher() *RegexMatcher {
	return &RegexMatcher{compiled: lru.New[string, *regexp.Regexp](compiledPatterns, nil)}
}

func (m *RegexMatcher) Match(pattern string, keys []string) ([]string, error) {
	re, ok := m.compiled.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
		}
		m.compiled.Put(pattern, re)
	}

	var out []string
	for _, k := range keys {
		if re.MatchString(k) {
			out = append(out, k)
		}
	}
	return out, nil
}
