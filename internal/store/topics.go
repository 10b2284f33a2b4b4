package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// Topic is a discussion thread started by email.
type Topic struct {
	ID        int       `db:"id"`
	UserID    int       `db:"user_id"`
	ForumID   int       `db:"forum_id"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	DedupeKey string    `db:"dedupe_key"`
	CreatedAt time.Time `db:"created_at"`
}

// TopicReply is a post appended to an existing topic.
type TopicReply struct {
	ID        int       `db:"id"`
	UserID    int       `db:"user_id"`
	TopicID   int       `db:"topic_id"`
	Body      string    `db:"body"`
	DedupeKey string    `db:"dedupe_key"`
	CreatedAt time.Time `db:"created_at"`
}

// TopicStore reads and writes topics and topic replies.
type TopicStore struct {
	db *sqlx.DB
}

// CreateTopic inserts a topic, collapsing redeliveries on the dedupe key.
func (s *TopicStore) CreateTopic(ctx context.Context, t *Topic) (id int, created bool, err error) {
	if existing, err := s.topicByDedupeKey(ctx, t.DedupeKey); err == nil {
		return existing.ID, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}

	id, err = s.insert(ctx,
		`INSERT INTO topics (user_id, forum_id, title, body, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.UserID, t.ForumID, t.Title, t.Body, t.DedupeKey, time.Now().UTC())
	if err != nil {
		if existing, lookupErr := s.topicByDedupeKey(ctx, t.DedupeKey); lookupErr == nil {
			return existing.ID, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// CreateReply appends a post to a topic, collapsing redeliveries.
func (s *TopicStore) CreateReply(ctx context.Context, r *TopicReply) (id int, created bool, err error) {
	if existing, err := s.replyByDedupeKey(ctx, r.DedupeKey); err == nil {
		return existing.ID, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}

	id, err = s.insert(ctx,
		`INSERT INTO topic_replies (user_id, topic_id, body, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.TopicID, r.Body, r.DedupeKey, time.Now().UTC())
	if err != nil {
		if existing, lookupErr := s.replyByDedupeKey(ctx, r.DedupeKey); lookupErr == nil {
			return existing.ID, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// TopicByID fetches a topic.
func (s *TopicStore) TopicByID(ctx context.Context, id int) (*Topic, error) {
	var t Topic
	query := s.db.Rebind(`SELECT id, user_id, forum_id, title, body, dedupe_key, created_at
		FROM topics WHERE id = ?`)
	if err := s.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TopicStore) topicByDedupeKey(ctx context.Context, key string) (*Topic, error) {
	var t Topic
	query := s.db.Rebind(`SELECT id, user_id, forum_id, title, body, dedupe_key, created_at
		FROM topics WHERE dedupe_key = ?`)
	if err := s.db.GetContext(ctx, &t, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TopicStore) replyByDedupeKey(ctx context.Context, key string) (*TopicReply, error) {
	var r TopicReply
	query := s.db.Rebind(`SELECT id, user_id, topic_id, body, dedupe_key, created_at
		FROM topic_replies WHERE dedupe_key = ?`)
	if err := s.db.GetContext(ctx, &r, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *TopicStore) insert(ctx context.Context, query string, args ...any) (int, error) {
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
