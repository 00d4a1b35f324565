// Package pathmatch evaluates URL paths against glob or regex pattern
// lists.
package pathmatch

import (
	"regexp"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

type pattern struct {
	glob glob.Glob
	re   *regexp.Regexp
}

func (p pattern) matches(path string) bool {
	if p.glob != nil && p.glob.Match(path) {
		return true
	}
	return p.re != nil && p.re.MatchString(path)
}

// Matcher matches paths against patterns, caching compiled forms. Each
// rule is interpreted both as a shell glob and as an anchored regular
// expression; a path matches if either form does. Matching is
// case-insensitive: callers pass lowercased paths and patterns are
// lowercased before compilation.
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]pattern
}

// New creates a Matcher.
func New() *Matcher {
	return &Matcher{compiled: make(map[string]pattern)}
}

// Matches reports whether path matches any of the rules. Rules that
// compile in neither form are ignored.
func (m *Matcher) Matches(path string, rules []string) bool {
	for _, rule := range rules {
		if m.compile(strings.ToLower(rule)).matches(path) {
			return true
		}
	}
	return false
}

func (m *Matcher) compile(rule string) pattern {
	m.mu.RLock()
	p, ok := m.compiled[rule]
	m.mu.RUnlock()
	if ok {
		return p
	}

	if g, err := glob.Compile(rule); err == nil {
		p.glob = g
	}
	if re, err := regexp.Compile("^(?:" + rule + ")$"); err == nil {
		p.re = re
	}

	m.mu.Lock()
	m.compiled[rule] = p
	m.mu.Unlock()
	return p
}
