// Package pipeline orchestrates the email-to-action flow: header
// validation, token extraction, sender authentication, parameter decoding,
// body extraction, and dispatch to the first content handler that
// recognizes the decoded parameters. Stages 1-6 are pure functions over
// the message; side effects are confined to handler invocation and
// outcome recording.
package pipeline

import "context"

// CanonicalMessage is the normalized unit produced by every acquisition
// adapter and consumed by the pipeline.
type CanonicalMessage struct {
	// Headers maps header name to value, keyed in canonical MIME form as
	// stored by the acquisition adapter. Lookups match the stored key.
	Headers map[string]string

	// ToAddress and FromAddress are raw address strings and may carry a
	// display name ("Name <addr>").
	ToAddress   string
	FromAddress string

	// Body is the decoded text body. It is mutated in place only by the
	// body-extraction stage, after all prior stages succeed.
	Body string

	// IsHTML marks bodies with no plain-text part.
	IsHTML bool

	// Subject is the decoded subject line with line breaks stripped.
	Subject string

	// SequenceNumber is the 1-based position within the current batch;
	// always 1 for single-message webhook sources.
	SequenceNumber int

	// Extra is an opaque per-source metadata bag passed through to
	// handlers untouched.
	Extra map[string]any
}

// Sender is the resolved identity for a message's from address.
type Sender struct {
	UserID    int
	IsSpammer bool
}

// SenderResolver looks up the account behind an email address. A (nil,
// nil) return means no account matches.
type SenderResolver interface {
	ByEmail(ctx context.Context, email string) (*Sender, error)
}

// Notifier delivers sender-facing failure explanations. Outbound delivery
// is an external collaborator; implementations typically enqueue.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}
