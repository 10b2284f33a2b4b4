package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/replypost-io/replypost/internal/mimebody"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Noop() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	UIDExpunge(uids imap.UIDSet) expungeWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type expungeWaiter interface{ Close() error }

// IMAPConnector opens IMAP/IMAPS sessions.
type IMAPConnector struct {
	dialTimeout time.Duration
	logger      *log.Logger
	extractor   *mimebody.Extractor
	newClient   func(Mailbox) (imapClient, error)
}

// IMAPOption customizes the connector.
type IMAPOption func(*IMAPConnector)

// NewIMAPConnector returns an IMAP connector.
func NewIMAPConnector(opts ...IMAPOption) *IMAPConnector {
	c := &IMAPConnector{
		dialTimeout: 5 * time.Second,
		logger:      log.Default(),
	}
	c.newClient = c.defaultClientFactory
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

// WithIMAPLogger overrides the diagnostics logger.
func WithIMAPLogger(logger *log.Logger) IMAPOption {
	return func(c *IMAPConnector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPOption {
	return func(c *IMAPConnector) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

func withIMAPClientFactory(factory func(Mailbox) (imapClient, error)) IMAPOption {
	return func(c *IMAPConnector) {
		if factory != nil {
			c.newClient = factory
		}
	}
}

func (c *IMAPConnector) Name() string { return "imap" }

// Connect dials, authenticates, and selects the configured folder.
func (c *IMAPConnector) Connect(ctx context.Context, box Mailbox) (Session, error) {
	if err := validateMailbox(box); err != nil {
		return nil, err
	}
	client, err := c.newClient(box)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	if err := client.Login(box.Username, box.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap auth: %w", err)
	}
	folder := box.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap select %s: %w", folder, err)
	}
	return &imapSession{
		client:    client,
		extractor: c.extractor,
		logger:    c.logger,
	}, nil
}

func (c *IMAPConnector) defaultClientFactory(box Mailbox) (imapClient, error) {
	port := box.Port
	useTLS := strings.EqualFold(box.Type, "imaps")
	if port == 0 {
		if useTLS {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: c.dialTimeout}}
	addr := fmt.Sprintf("%s:%d", box.Host, port)
	var client *imapclient.Client
	var err error
	if useTLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapSession struct {
	client    imapClient
	extractor *mimebody.Extractor
	logger    *log.Logger
}

// FetchBatch drains the folder. Delivered messages and messages with no
// usable body are flagged deleted; one expunge runs per batch.
func (s *imapSession) FetchBatch(ctx context.Context, deliver DeliverFunc) (int, error) {
	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return 0, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	buffers, err := s.client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return 0, fmt.Errorf("imap fetch: %w", err)
	}

	delivered := 0
	var done []imap.UID
	for i, buf := range buffers {
		if ctx.Err() != nil {
			break
		}
		raw := buf.FindBodySection(&imap.FetchItemBodySection{})
		if raw == nil {
			continue
		}
		msg, err := canonicalFromRaw(raw, i+1, s.extractor)
		if err != nil {
			// Unparseable or bodyless mail is deleted, not retried.
			s.logf("imap: message uid %d skipped: %v", buf.UID, err)
			done = append(done, buf.UID)
			continue
		}
		if err := deliver(ctx, msg); err != nil {
			s.logf("imap: delivery stopped at uid %d: %v", buf.UID, err)
			break
		}
		delivered++
		done = append(done, buf.UID)
	}

	if len(done) > 0 {
		doneSet := imap.UIDSetNum(done...)
		store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}}
		if err := s.client.Store(doneSet, store, nil).Close(); err != nil {
			return delivered, fmt.Errorf("imap store delete: %w", err)
		}
		if err := s.client.UIDExpunge(doneSet).Close(); err != nil {
			return delivered, fmt.Errorf("imap expunge: %w", err)
		}
	}
	return delivered, ctx.Err()
}

func (s *imapSession) Noop(context.Context) error {
	if err := s.client.Noop().Wait(); err != nil {
		return fmt.Errorf("imap noop: %w", err)
	}
	return nil
}

func (s *imapSession) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		return errors.Join(err, s.client.Close())
	}
	return nil
}

func (s *imapSession) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Noop() commandWaiter   { return w.Client.Noop() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *imapClientWrapper) UIDExpunge(uids imap.UIDSet) expungeWaiter {
	return w.Client.UIDExpunge(uids)
}
