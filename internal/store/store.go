// Package store persists the entities the content handlers create and the
// accounts the pipeline authenticates against. It speaks MySQL, PostgreSQL,
// and SQLite through sqlx; queries are written with "?" placeholders and
// rebound per driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle and exposes the entity stores.
type Store struct {
	db *sqlx.DB

	Users    *UserStore
	Comments *CommentStore
	Topics   *TopicStore
	Outbox   *OutboxStore
}

// Open connects to the database and configures the pool. Supported drivers
// are "mysql", "postgres", and "sqlite3".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "mysql", "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	s.Users = &UserStore{db: db}
	s.Comments = &CommentStore{db: db}
	s.Topics = &TopicStore{db: db}
	s.Outbox = &OutboxStore{db: db}
	return s, nil
}

// DB returns the underlying handle for advanced callers.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.db.DriverName()) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// schema returns the CREATE statements with the driver's auto-increment
// primary key spelling.
func schema(driver string) []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	switch driver {
	case "mysql":
		pk = "INT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	case "postgres":
		pk = "SERIAL PRIMARY KEY"
	}
	raw := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id {{pk}},
			email VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id {{pk}},
			user_id INT NOT NULL,
			root_id INT NOT NULL,
			parent_id INT NOT NULL,
			body TEXT NOT NULL,
			dedupe_key VARCHAR(160) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_comments_dedupe ON comments (dedupe_key)`,
		`CREATE TABLE IF NOT EXISTS topics (
			id {{pk}},
			user_id INT NOT NULL,
			forum_id INT NOT NULL,
			title VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			dedupe_key VARCHAR(160) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_topics_dedupe ON topics (dedupe_key)`,
		`CREATE TABLE IF NOT EXISTS topic_replies (
			id {{pk}},
			user_id INT NOT NULL,
			topic_id INT NOT NULL,
			body TEXT NOT NULL,
			dedupe_key VARCHAR(160) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_topic_replies_dedupe ON topic_replies (dedupe_key)`,
		`CREATE TABLE IF NOT EXISTS outbound_notices (
			id {{pk}},
			recipient VARCHAR(255) NOT NULL,
			subject VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			due_time TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS; lean on the duplicate-index
	// error being benign there and keep the unique constraint inline.
	if driver == "mysql" {
		raw = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id {{pk}},
				email VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL DEFAULT 'active',
				created_at TIMESTAMP NOT NULL,
				UNIQUE KEY idx_users_email (email)
			)`,
			`CREATE TABLE IF NOT EXISTS comments (
				id {{pk}},
				user_id INT NOT NULL,
				root_id INT NOT NULL,
				parent_id INT NOT NULL,
				body TEXT NOT NULL,
				dedupe_key VARCHAR(160) NOT NULL,
				created_at TIMESTAMP NOT NULL,
				UNIQUE KEY idx_comments_dedupe (dedupe_key)
			)`,
			`CREATE TABLE IF NOT EXISTS topics (
				id {{pk}},
				user_id INT NOT NULL,
				forum_id INT NOT NULL,
				title VARCHAR(255) NOT NULL,
				body TEXT NOT NULL,
				dedupe_key VARCHAR(160) NOT NULL,
				created_at TIMESTAMP NOT NULL,
				UNIQUE KEY idx_topics_dedupe (dedupe_key)
			)`,
			`CREATE TABLE IF NOT EXISTS topic_replies (
				id {{pk}},
				user_id INT NOT NULL,
				topic_id INT NOT NULL,
				body TEXT NOT NULL,
				dedupe_key VARCHAR(160) NOT NULL,
				created_at TIMESTAMP NOT NULL,
				UNIQUE KEY idx_topic_replies_dedupe (dedupe_key)
			)`,
			`CREATE TABLE IF NOT EXISTS outbound_notices (
				id {{pk}},
				recipient VARCHAR(255) NOT NULL,
				subject VARCHAR(255) NOT NULL,
				body TEXT NOT NULL,
				attempts INT NOT NULL DEFAULT 0,
				due_time TIMESTAMP NULL,
				created_at TIMESTAMP NOT NULL
			)`,
		}
	}
	out := make([]string, len(raw))
	for i, stmt := range raw {
		out[i] = strings.ReplaceAll(stmt, "{{pk}}", pk)
	}
	return out
}
