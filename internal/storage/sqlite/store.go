package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp activity.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new SQLite store
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS whitelist_users (
			username TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_activity (
			day TEXT NOT NULL,
			ip TEXT NOT NULL,
			hits INTEGER NOT NULL,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			PRIMARY KEY (day, ip)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_activity_day ON daily_activity(day)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func dbErr(op string, err error) error {
	return apperr.Wrap(apperr.KindDatabase, op, err)
}

func (s *Store) AddUser(ctx context.Context, username string) error {
	query := `INSERT INTO whitelist_users (username, created_at) VALUES (?, ?)
		ON CONFLICT(username) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, username, s.now().UTC()); err != nil {
		return dbErr("failed to add whitelist user", err)
	}
	return nil
}

func (s *Store) RemoveUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM whitelist_users WHERE username = ?`, username)
	if err != nil {
		return dbErr("failed to remove whitelist user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("failed to remove whitelist user", err)
	}
	if n == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM whitelist_users ORDER BY username`)
	if err != nil {
		return nil, dbErr("failed to list whitelist users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, dbErr("failed to scan whitelist user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("failed to list whitelist users", err)
	}
	return users, nil
}

func (s *Store) Contains(ctx context.Context, username string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM whitelist_users WHERE username = ?`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dbErr("failed to query whitelist", err)
	}
	return true, nil
}

func (s *Store) RecordAccess(ctx context.Context, ip string) error {
	now := s.now().UTC()
	query := `INSERT INTO daily_activity (day, ip, hits, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(day, ip) DO UPDATE SET hits = hits + 1, last_seen = excluded.last_seen`
	if _, err := s.db.ExecContext(ctx, query, storage.Day(now), ip, now, now); err != nil {
		return dbErr("failed to record access", err)
	}
	return nil
}

func (s *Store) DailyActivity(ctx context.Context, day string) ([]storage.Activity, error) {
	if _, err := storage.ParseDay(day); err != nil {
		return nil, err
	}

	query := `SELECT day, ip, hits, first_seen, last_seen FROM daily_activity
		WHERE day = ? ORDER BY ip`
	rows, err := s.db.QueryContext(ctx, query, day)
	if err != nil {
		return nil, dbErr("failed to query activity", err)
	}
	defer rows.Close()

	out := []storage.Activity{}
	for rows.Next() {
		var a storage.Activity
		if err := rows.Scan(&a.Day, &a.IP, &a.Hits, &a.FirstSeen, &a.LastSeen); err != nil {
			return nil, dbErr("failed to scan activity", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("failed to query activity", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
