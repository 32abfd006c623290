// Package metadata resolves session and photo metadata owned by the main
// application database. The vector store never joins against it; every
// association is checked here by explicit lookup.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Session is the subset of a photo session the search service cares about.
type Session struct {
	ID              string
	Name            string
	Status          string
	FacepassEnabled bool
}

// Reader looks up sessions and photos. Get returns (nil, nil) for a missing session.
type Reader interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	PhotoInSession(ctx context.Context, photoID, sessionID string) (bool, error)
	Ping(ctx context.Context) error
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectMySQL
)

// Store reads the metadata database. PostgreSQL URLs use lib/pq, anything
// else is treated as a MySQL/MariaDB DSN.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the metadata database.
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("metadata database URL is required")
	}

	driver, d := "mysql", dialectMySQL
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		driver, d = "postgres", dialectPostgres
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping metadata database: %w", err)
	}

	return &Store{db: db, dialect: d}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing metadata database: %w", err)
	}
	return nil
}

// Get retrieves a session by ID, returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	query := s.rebind(`
		SELECT ` + s.text("id") + `, name, status, facepass_enabled
		FROM photo_sessions
		WHERE ` + s.text("id") + ` = ?
	`)

	var sess Session
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&sess.ID, &sess.Name, &sess.Status, &sess.FacepassEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &sess, nil
}

// PhotoInSession reports whether the photo is registered under the session.
func (s *Store) PhotoInSession(ctx context.Context, photoID, sessionID string) (bool, error) {
	query := s.rebind(`
		SELECT EXISTS(
			SELECT 1 FROM photos
			WHERE ` + s.text("id") + ` = ? AND ` + s.text("session_id") + ` = ?
		)
	`)

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, photoID, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check photo: %w", err)
	}
	return exists, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping metadata database: %w", err)
	}
	return nil
}

// text renders a column as text. Session ids are UUID columns in PostgreSQL
// but callers pass arbitrary strings, which must not fail the cast.
func (s *Store) text(column string) string {
	if s.dialect == dialectPostgres {
		return column + "::text"
	}
	return column
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AllowAll is the Reader used when no metadata database is configured.
// Every non-empty session exists and is enabled, and every photo belongs to it.
type AllowAll struct{}

// Get returns an enabled session for any ID.
func (AllowAll) Get(_ context.Context, sessionID string) (*Session, error) {
	return &Session{ID: sessionID, Status: "active", FacepassEnabled: true}, nil
}

// PhotoInSession always reports true.
func (AllowAll) PhotoInSession(context.Context, string, string) (bool, error) {
	return true, nil
}

// Ping always succeeds.
func (AllowAll) Ping(context.Context) error { return nil }

var (
	_ Reader = (*Store)(nil)
	_ Reader = AllowAll{}
)
