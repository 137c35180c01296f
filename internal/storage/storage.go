// Package storage defines persistence for whitelisted users and daily
// access activity.
package storage

import (
	"context"
	"time"

	"github.com/tjfontaine/reqguard/internal/apperr"
)

// DayLayout is the format of activity days.
const DayLayout = "2006-01-02"

// ErrUserNotFound is returned when removing a user that is not stored.
var ErrUserNotFound = apperr.NotFound("user not found").WithCode("user_not_found")

// Activity is the access summary for one client IP on one day.
type Activity struct {
	Day       string    `json:"day"`
	IP        string    `json:"ip"`
	Hits      int64     `json:"hits"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// WhitelistStore persists whitelisted user names.
type WhitelistStore interface {
	AddUser(ctx context.Context, username string) error
	RemoveUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]string, error)
	Contains(ctx context.Context, username string) (bool, error)
}

// ActivityStore persists per-day access counts.
type ActivityStore interface {
	// RecordAccess counts one request from ip on the current UTC day.
	RecordAccess(ctx context.Context, ip string) error
	// DailyActivity returns the activity for day (DayLayout), ordered by IP.
	DailyActivity(ctx context.Context, day string) ([]Activity, error)
}

// Store combines every persistence capability.
type Store interface {
	WhitelistStore
	ActivityStore
	Close() error
}

// Day returns the activity day of t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// ParseDay validates a day string.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.KindInvalidParameter, "day must be formatted as "+DayLayout, err)
	}
	return t, nil
}
