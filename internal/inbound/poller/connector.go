// Package poller acquires messages by polling a mailbox over IMAP or POP3,
// normalizes each into a pipeline.CanonicalMessage, and hands it to the
// dispatch pipeline. A marker store persists the run state so concurrent
// runs refuse to start and web processes can observe the poller.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/replypost-io/replypost/internal/mimebody"
	"github.com/replypost-io/replypost/internal/pipeline"
)

// Mailbox is the account a connector drains.
type Mailbox struct {
	Type     string // "imap", "imaps", "pop3", "pop3s"
	Host     string
	Port     int
	Username string
	Password string
	Folder   string // IMAP only; empty means INBOX
}

// DeliverFunc receives one normalized message. A non-nil error means the
// message must be kept server-side and the batch aborted.
type DeliverFunc func(ctx context.Context, msg *pipeline.CanonicalMessage) error

// Session is an authenticated mailbox connection.
type Session interface {
	// FetchBatch drains the pending messages, delivering each in turn.
	// Messages delivered without error are deleted server-side; IMAP
	// expunges once at the end of the batch. Returns the number
	// delivered.
	FetchBatch(ctx context.Context, deliver DeliverFunc) (int, error)

	// Noop probes connection liveness between batches.
	Noop(ctx context.Context) error

	Close() error
}

// Connector opens sessions against one mailbox protocol.
type Connector interface {
	Name() string
	Connect(ctx context.Context, box Mailbox) (Session, error)
}

// NewConnector resolves the connector for the mailbox type.
func NewConnector(box Mailbox, logger *log.Logger) (Connector, error) {
	switch strings.ToLower(box.Type) {
	case "imap", "imaps":
		return NewIMAPConnector(WithIMAPLogger(logger)), nil
	case "pop3", "pop3s":
		return NewPOP3Connector(WithPOP3Logger(logger)), nil
	default:
		return nil, fmt.Errorf("poller: unsupported mailbox type %q", box.Type)
	}
}

func validateMailbox(box Mailbox) error {
	if box.Host == "" {
		return errors.New("poller: mailbox missing host")
	}
	if box.Username == "" {
		return errors.New("poller: mailbox missing username")
	}
	if box.Password == "" {
		return errors.New("poller: mailbox missing password")
	}
	return nil
}

// canonicalFromRaw parses a raw RFC822 blob into the pipeline's canonical
// form. The recipient comes from Delivered-To when present, since To may
// name a list address rather than the tagged recipient.
func canonicalFromRaw(raw []byte, seq int, extractor *mimebody.Extractor) (*pipeline.CanonicalMessage, error) {
	parsed, err := mimebody.ParseRaw(raw)
	if err != nil {
		return nil, err
	}
	body, err := extractor.Extract(parsed.Root, parsed.Fetch)
	if err != nil {
		return nil, err
	}

	to := parsed.Headers["Delivered-To"]
	if to == "" {
		to = parsed.Headers["To"]
	}
	return &pipeline.CanonicalMessage{
		Headers:        parsed.Headers,
		ToAddress:      to,
		FromAddress:    parsed.Headers["From"],
		Body:           body.Text,
		IsHTML:         body.IsHTML,
		Subject:        parsed.Subject,
		SequenceNumber: seq,
	}, nil
}
