// Package whitelist provides allow-lists of user names.
package whitelist

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// List is an in-memory allow-list. It is safe for concurrent use.
type List struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// New creates a list holding users. Blank names are ignored.
func New(users ...string) *List {
	l := &List{}
	l.Replace(users)
	return l
}

// Contains implements interceptor.Whitelist.
func (l *List) Contains(_ context.Context, username string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.users[username]
	return ok, nil
}

// Replace swaps the list contents.
func (l *List) Replace(users []string) {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u = strings.TrimSpace(u); u != "" {
			set[u] = struct{}{}
		}
	}
	l.mu.Lock()
	l.users = set
	l.mu.Unlock()
}

// Users returns the sorted list contents.
func (l *List) Users() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.users))
	for u := range l.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of users.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.users)
}

// Parse reads one user name per line. Blank lines and lines starting with
// '#' are skipped.
func Parse(r io.Reader) ([]string, error) {
	var users []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		users = append(users, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
