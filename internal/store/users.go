package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/replypost-io/replypost/internal/pipeline"
)

// User is an account row. Status carries the moderation state; anything in
// spammerStatuses blocks the account from posting by email.
type User struct {
	ID        int       `db:"id"`
	Email     string    `db:"email"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

var spammerStatuses = map[string]struct{}{
	"spammer":   {},
	"suspended": {},
}

// IsSpammer reports whether the account is blocked from posting.
func (u *User) IsSpammer() bool {
	_, ok := spammerStatuses[strings.ToLower(u.Status)]
	return ok
}

// UserStore reads and writes accounts.
type UserStore struct {
	db *sqlx.DB
}

// ByEmail looks up an account by address, case-insensitively. Returns
// ErrNotFound when no account matches.
func (s *UserStore) ByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	query := s.db.Rebind(`SELECT id, email, status, created_at FROM users WHERE LOWER(email) = LOWER(?)`)
	if err := s.db.GetContext(ctx, &u, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts an account and returns its id.
func (s *UserStore) Create(ctx context.Context, email, status string) (int, error) {
	if status == "" {
		status = "active"
	}
	return s.insert(ctx,
		`INSERT INTO users (email, status, created_at) VALUES (?, ?, ?)`,
		email, status, time.Now().UTC())
}

func (s *UserStore) insert(ctx context.Context, query string, args ...any) (int, error) {
	query = s.db.Rebind(query)
	if s.db.DriverName() == "postgres" {
		var id int
		err := s.db.GetContext(ctx, &id, query+" RETURNING id", args...)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

// SenderResolver adapts the user store to the pipeline's authentication
// interface: ErrNotFound becomes the (nil, nil) "no account" signal.
type SenderResolver struct {
	Users *UserStore
}

func (r *SenderResolver) ByEmail(ctx context.Context, email string) (*pipeline.Sender, error) {
	u, err := r.Users.ByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pipeline.Sender{UserID: u.ID, IsSpammer: u.IsSpammer()}, nil
}
