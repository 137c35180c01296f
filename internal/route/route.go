// Package route matches requests against tables of (method, URI pattern) pairs.
package route

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single pattern evaluation.
const matchTimeout = 50 * time.Millisecond

// Pattern is one compiled (method, URI regex) pair.
type Pattern struct {
	Method string
	URI    string
	re     *regexp2.Regexp
}

// Matcher is an ordered set of patterns. The zero value and nil match nothing.
type Matcher struct {
	patterns []Pattern
}

// Compile builds a matcher from [method, uri-regex] pairs. Each regex must
// match the whole URI, not a prefix of it.
func Compile(pairs [][]string) (*Matcher, error) {
	m := &Matcher{patterns: make([]Pattern, 0, len(pairs))}
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("route %d: want [method, uri], got %d elements", i, len(pair))
		}
		method := strings.TrimSpace(pair[0])
		if method == "" {
			return nil, fmt.Errorf("route %d: empty method", i)
		}
		re, err := regexp2.Compile(`^(?:`+pair[1]+`)\z`, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("route %d: compile %q: %w", i, pair[1], err)
		}
		re.MatchTimeout = matchTimeout
		m.patterns = append(m.patterns, Pattern{Method: method, URI: pair[1], re: re})
	}
	return m, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pairs [][]string) *Matcher {
	m, err := Compile(pairs)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether method equals (ignoring case) and uri fully matches
// at least one pattern. Empty methods or URIs never match.
func (m *Matcher) Match(method, uri string) bool {
	if m == nil || method == "" || uri == "" {
		return false
	}
	for _, p := range m.patterns {
		if !strings.EqualFold(p.Method, method) {
			continue
		}
		ok, err := p.re.MatchString(uri)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// Len returns the number of patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Patterns returns a copy of the compiled patterns.
func (m *Matcher) Patterns() []Pattern {
	if m == nil {
		return nil
	}
	return append([]Pattern(nil), m.patterns...)
}
