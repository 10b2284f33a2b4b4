package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/replypost-io/replypost/internal/pipeline"
)

// Notice is a queued sender-facing email, typically an explanation of why
// a reply could not be posted. Delivery is handled out of process; the
// queue only guarantees nothing is lost between pipeline and mailer.
type Notice struct {
	ID        int        `db:"id"`
	Recipient string     `db:"recipient"`
	Subject   string     `db:"subject"`
	Body      string     `db:"body"`
	Attempts  int        `db:"attempts"`
	DueTime   *time.Time `db:"due_time"`
	CreatedAt time.Time  `db:"created_at"`
}

// OutboxStore queues outbound notices.
type OutboxStore struct {
	db *sqlx.DB
}

// Enqueue adds a notice to the queue.
func (s *OutboxStore) Enqueue(ctx context.Context, recipient, subject, body string) (int, error) {
	return s.insert(ctx,
		`INSERT INTO outbound_notices (recipient, subject, body, attempts, created_at)
		 VALUES (?, ?, ?, 0, ?)`,
		recipient, subject, body, time.Now().UTC())
}

// Pending returns due notices oldest first.
func (s *OutboxStore) Pending(ctx context.Context, limit int) ([]*Notice, error) {
	var notices []*Notice
	query := s.db.Rebind(`SELECT id, recipient, subject, body, attempts, due_time, created_at
		FROM outbound_notices
		WHERE due_time IS NULL OR due_time <= ?
		ORDER BY created_at ASC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &notices, query, time.Now().UTC(), limit); err != nil {
		return nil, err
	}
	return notices, nil
}

// MarkAttempt records a failed delivery attempt and reschedules.
func (s *OutboxStore) MarkAttempt(ctx context.Context, id int, retryAfter time.Duration) error {
	due := time.Now().UTC().Add(retryAfter)
	query := s.db.Rebind(`UPDATE outbound_notices SET attempts = attempts + 1, due_time = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, due, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a delivered notice.
func (s *OutboxStore) Delete(ctx context.Context, id int) error {
	query := s.db.Rebind(`DELETE FROM outbound_notices WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// ByID fetches one notice.
func (s *OutboxStore) ByID(ctx context.Context, id int) (*Notice, error) {
	var n Notice
	query := s.db.Rebind(`SELECT id, recipient, subject, body, attempts, due_time, created_at
		FROM outbound_notices WHERE id = ?`)
	if err := s.db.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (s *OutboxStore) insert(ctx context.Context, query string, args ...any) (int, error) {
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

// OutboxNotifier adapts the outbox queue to the pipeline's Notifier
// interface.
type OutboxNotifier struct {
	Outbox *OutboxStore
}

func (n *OutboxNotifier) Notify(ctx context.Context, to, subject, body string) error {
	_, err := n.Outbox.Enqueue(ctx, to, subject, body)
	return err
}

var _ pipeline.Notifier = (*OutboxNotifier)(nil)
