package cache

import (
	"regexp"
	"strings"
	"sync"
)

// globMatch supports Redis-style glob patterns ("*" and "?") used by
// Invalidate's pattern argument (§4.2). Unlike filepath.Match, "*" also
// matches path separators, since cache keys routinely embed "owner/repo".
func globMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	re := globToRegexp(pattern)
	return re.MatchString(s)
}

var globCache sync.Map // pattern -> *regexp.Regexp

func globToRegexp(pattern string) *regexp.Regexp {
	if v, ok := globCache.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}

	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	globCache.Store(pattern, re)
	return re
}
