package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/reqguard/internal/storage"
)

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu       sync.RWMutex
	users    map[string]time.Time
	activity map[string]map[string]*storage.Activity
	now      func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		users:    make(map[string]time.Time),
		activity: make(map[string]map[string]*storage.Activity),
		now:      time.Now,
	}
}

// SetClock overrides the clock used to stamp activity.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) AddUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; !exists {
		s.users[username] = s.now().UTC()
	}
	return nil
}

func (s *Store) RemoveUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; !exists {
		return storage.ErrUserNotFound
	}
	delete(s.users, username)
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.users))
	for u := range s.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) Contains(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[username]
	return ok, nil
}

func (s *Store) RecordAccess(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	day := storage.Day(now)
	byIP, ok := s.activity[day]
	if !ok {
		byIP = make(map[string]*storage.Activity)
		s.activity[day] = byIP
	}
	a, ok := byIP[ip]
	if !ok {
		a = &storage.Activity{Day: day, IP: ip, FirstSeen: now}
		byIP[ip] = a
	}
	a.Hits++
	a.LastSeen = now
	return nil
}

func (s *Store) DailyActivity(ctx context.Context, day string) ([]storage.Activity, error) {
	if _, err := storage.ParseDay(day); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Activity, 0, len(s.activity[day]))
	for _, a := range s.activity[day] {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
