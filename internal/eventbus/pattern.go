package eventbus

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// matcherCacheSize bounds how many compiled wildcard patterns are kept
// around; event names are low-cardinality in practice (colon-delimited
// lifecycle segments) so this rarely evicts.
const matcherCacheSize = 256

// matcher compiles "*"-wildcard patterns into regular expressions and
// caches the result, so repeated emit calls against a stable subscription
// table never recompile the same pattern twice.
type matcher struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

func newMatcher() *matcher {
	cache, _ := lru.New[string, *regexp.Regexp](matcherCacheSize)
	return &matcher{cache: cache}
}

// Match reports whether name satisfies pattern. A pattern with no "*" must
// equal name exactly; "*" matches any run of characters including colons;
// a bare "*" matches every name. All other regex metacharacters in the
// pattern are treated literally.
func (m *matcher) Match(name, pattern string) bool {
	if pattern == name {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	re, ok := m.cache.Get(pattern)
	if !ok {
		re = compileWildcard(pattern)
		m.cache.Add(pattern, re)
	}
	return re.MatchString(name)
}

func compileWildcard(pattern string) *regexp.Regexp {
	segments := strings.Split(pattern, "*")
	for i, seg := range segments {
		segments[i] = regexp.QuoteMeta(seg)
	}
	return regexp.MustCompile("^" + strings.Join(segments, ".*") + "$")
}
