// Package store persists user records and login-event audit rows in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// User is a portal user keyed by the stable Dezi number.
type User struct {
	ID          string
	DeziNummer  string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LoginEvent is one audit row per completed login.
type LoginEvent struct {
	ID            string
	UserID        string
	AbonneeNummer string
	RolCode       string
	RolNaam       string
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			dezi_nummer TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS login_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			abonnee_nummer TEXT NOT NULL,
			rol_code TEXT NOT NULL,
			rol_naam TEXT NOT NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_login_events_user ON login_events(user_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// UpsertUser creates or updates the user record keyed by Dezi number. An
// empty display name never overwrites an existing one.
func (s *Store) UpsertUser(ctx context.Context, deziNummer, displayName string) (User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, dezi_nummer, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dezi_nummer) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			updated_at = excluded.updated_at`,
		uuid.NewString(), deziNummer, displayName, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}

	var u User
	var created, updated string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, dezi_nummer, display_name, created_at, updated_at FROM users WHERE dezi_nummer = ?`,
		deziNummer,
	).Scan(&u.ID, &u.DeziNummer, &u.DisplayName, &created, &updated)
	if err != nil {
		return User{}, fmt.Errorf("load user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return u, nil
}

// RecordLogin appends one audit row for a completed login.
func (s *Store) RecordLogin(ctx context.Context, ev LoginEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_events (id, user_id, abonnee_nummer, rol_code, rol_naam, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.AbonneeNummer, ev.RolCode, ev.RolNaam, ev.IPAddress, ev.UserAgent,
		ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// RecentLogins lists the newest audit rows for a user.
func (s *Store) RecentLogins(ctx context.Context, userID string, limit int) ([]LoginEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, abonnee_nummer, rol_code, rol_naam, ip_address, user_agent, created_at
		FROM login_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list logins: %w", err)
	}
	defer rows.Close()

	var events []LoginEvent
	for rows.Next() {
		var ev LoginEvent
		var created string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.AbonneeNummer, &ev.RolCode, &ev.RolNaam,
			&ev.IPAddress, &ev.UserAgent, &created); err != nil {
			return nil, err
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		events = append(events, ev)
	}
	return events, rows.Err()
}
