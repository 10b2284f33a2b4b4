package poller

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/knadh/go-pop3"

	"github.com/replypost-io/replypost/internal/mimebody"
)

type pop3Conn interface {
	Auth(user, password string) error
	Noop() error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
}

// POP3Connector opens POP3/POP3S sessions.
type POP3Connector struct {
	dialTimeout time.Duration
	logger      *log.Logger
	extractor   *mimebody.Extractor
	newConn     func(Mailbox) (pop3Conn, error)
}

// POP3Option customizes the connector.
type POP3Option func(*POP3Connector)

// NewPOP3Connector returns a POP3 connector.
func NewPOP3Connector(opts ...POP3Option) *POP3Connector {
	c := &POP3Connector{
		dialTimeout: 5 * time.Second,
		logger:      log.Default(),
	}
	c.newConn = c.defaultConnFactory
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.extractor == nil {
		c.extractor = mimebody.NewExtractor(c.logger)
	}
	return c
}

// WithPOP3Logger overrides the diagnostics logger.
func WithPOP3Logger(logger *log.Logger) POP3Option {
	return func(c *POP3Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3Option {
	return func(c *POP3Connector) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

func withPOP3ConnFactory(factory func(Mailbox) (pop3Conn, error)) POP3Option {
	return func(c *POP3Connector) {
		if factory != nil {
			c.newConn = factory
		}
	}
}

func (c *POP3Connector) Name() string { return "pop3" }

// Connect dials and authenticates.
func (c *POP3Connector) Connect(_ context.Context, box Mailbox) (Session, error) {
	if err := validateMailbox(box); err != nil {
		return nil, err
	}
	conn, err := c.newConn(box)
	if err != nil {
		return nil, fmt.Errorf("pop3 connect: %w", err)
	}
	if err := conn.Auth(box.Username, box.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("pop3 auth: %w", err)
	}
	return &pop3Session{
		conn:      conn,
		extractor: c.extractor,
		logger:    c.logger,
	}, nil
}

func (c *POP3Connector) defaultConnFactory(box Mailbox) (pop3Conn, error) {
	port := box.Port
	useTLS := strings.EqualFold(box.Type, "pop3s")
	if port == 0 {
		if useTLS {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        box.Host,
		Port:        port,
		DialTimeout: c.dialTimeout,
		TLSEnabled:  useTLS,
	})
	return client.NewConn()
}

type pop3Session struct {
	conn      pop3Conn
	extractor *mimebody.Extractor
	logger    *log.Logger
}

// FetchBatch drains the mailbox, deleting each message after delivery.
func (s *pop3Session) FetchBatch(ctx context.Context, deliver DeliverFunc) (int, error) {
	metas, err := s.conn.Uidl(0)
	if err != nil {
		return 0, fmt.Errorf("pop3 uidl: %w", err)
	}

	delivered := 0
	for i, meta := range metas {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		payload, err := s.conn.RetrRaw(meta.ID)
		if err != nil {
			return delivered, fmt.Errorf("pop3 retr %d: %w", meta.ID, err)
		}
		msg, err := canonicalFromRaw(payload.Bytes(), i+1, s.extractor)
		if err != nil {
			s.logf("pop3: message %d skipped: %v", meta.ID, err)
			if err := s.conn.Dele(meta.ID); err != nil {
				return delivered, fmt.Errorf("pop3 delete %d: %w", meta.ID, err)
			}
			continue
		}
		if err := deliver(ctx, msg); err != nil {
			s.logf("pop3: delivery stopped at %d: %v", meta.ID, err)
			return delivered, nil
		}
		delivered++
		if err := s.conn.Dele(meta.ID); err != nil {
			return delivered, fmt.Errorf("pop3 delete %d: %w", meta.ID, err)
		}
	}
	return delivered, nil
}

func (s *pop3Session) Noop(context.Context) error {
	if err := s.conn.Noop(); err != nil {
		return fmt.Errorf("pop3 noop: %w", err)
	}
	return nil
}

func (s *pop3Session) Close() error { return s.conn.Quit() }

func (s *pop3Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
