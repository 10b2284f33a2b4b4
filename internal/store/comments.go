package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// DedupeKey derives the idempotence key for an email-triggered action. The
// same token decoded to the same parameters by the same user names the same
// action, so redelivered messages collapse onto one row.
func DedupeKey(userID int, tokenString string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s", userID, tokenString)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Comment is a reply attached to a root content item.
type Comment struct {
	ID        int       `db:"id"`
	UserID    int       `db:"user_id"`
	RootID    int       `db:"root_id"`
	ParentID  int       `db:"parent_id"`
	Body      string    `db:"body"`
	DedupeKey string    `db:"dedupe_key"`
	CreatedAt time.Time `db:"created_at"`
}

// CommentStore reads and writes comments.
type CommentStore struct {
	db *sqlx.DB
}

// Create inserts a comment. When a comment with the same dedupe key already
// exists the existing id is returned with created=false; redelivery is not
// an error.
func (s *CommentStore) Create(ctx context.Context, c *Comment) (id int, created bool, err error) {
	if existing, err := s.byDedupeKey(ctx, c.DedupeKey); err == nil {
		return existing.ID, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}

	id, err = s.insert(ctx,
		`INSERT INTO comments (user_id, root_id, parent_id, body, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.RootID, c.ParentID, c.Body, c.DedupeKey, time.Now().UTC())
	if err != nil {
		// Raced with a redelivery; the unique index kept one row.
		if existing, lookupErr := s.byDedupeKey(ctx, c.DedupeKey); lookupErr == nil {
			return existing.ID, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (s *CommentStore) byDedupeKey(ctx context.Context, key string) (*Comment, error) {
	var c Comment
	query := s.db.Rebind(`SELECT id, user_id, root_id, parent_id, body, dedupe_key, created_at
		FROM comments WHERE dedupe_key = ?`)
	if err := s.db.GetContext(ctx, &c, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ByID fetches a comment.
func (s *CommentStore) ByID(ctx context.Context, id int) (*Comment, error) {
	var c Comment
	query := s.db.Rebind(`SELECT id, user_id, root_id, parent_id, body, dedupe_key, created_at
		FROM comments WHERE id = ?`)
	if err := s.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *CommentStore) insert(ctx context.Context, query string, args ...any) (int, error) {
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
