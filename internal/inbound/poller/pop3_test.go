package poller

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/knadh/go-pop3"
	"github.com/stretchr/testify/require"
)

func TestPOP3SessionFetchesAndDeletes(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "uid-1"}, {ID: 2, UID: "uid-2"}},
		raw: map[int][]byte{
			1: rawTestMessage("First reply"),
			2: rawTestMessage("Second reply"),
		},
	}
	c := NewPOP3Connector(withPOP3ConnFactory(func(Mailbox) (pop3Conn, error) { return conn, nil }))
	box := Mailbox{Type: "pop3s", Host: "mail.example", Port: 995, Username: "agent", Password: "secret"}

	session, err := c.Connect(context.Background(), box)
	require.NoError(t, err)

	d := &recordingDeliver{}
	n, err := session.FetchBatch(context.Background(), d.deliver)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []int{1, 2}, conn.deleted)

	require.Len(t, d.messages, 2)
	require.Equal(t, "Alice Example <alice@example.com>", d.messages[0].FromAddress)
	require.Equal(t, "First reply", d.messages[0].Body)

	require.NoError(t, session.Close())
	require.Equal(t, 1, conn.quitCalls)
}

func TestPOP3SessionKeepsMessageOnDeliveryError(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "uid-1"}, {ID: 2, UID: "uid-2"}},
		raw:  map[int][]byte{1: rawTestMessage("First"), 2: rawTestMessage("Second")},
	}
	c := NewPOP3Connector(withPOP3ConnFactory(func(Mailbox) (pop3Conn, error) { return conn, nil }))
	session, err := c.Connect(context.Background(), Mailbox{Type: "pop3", Host: "h", Username: "u", Password: "p"})
	require.NoError(t, err)

	d := &recordingDeliver{failAt: 2}
	n, err := session.FetchBatch(context.Background(), d.deliver)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []int{1}, conn.deleted, "undelivered message stays on the server")
}

func TestPOP3ConnectorAuthError(t *testing.T) {
	conn := &fakePOP3Conn{authErr: errors.New("bad creds")}
	c := NewPOP3Connector(withPOP3ConnFactory(func(Mailbox) (pop3Conn, error) { return conn, nil }))
	_, err := c.Connect(context.Background(), Mailbox{Type: "pop3", Host: "h", Username: "u", Password: "p"})
	require.ErrorContains(t, err, "pop3 auth")
	require.Equal(t, 1, conn.quitCalls, "failed session is closed")
}

func TestPOP3SessionNoop(t *testing.T) {
	conn := &fakePOP3Conn{}
	c := NewPOP3Connector(withPOP3ConnFactory(func(Mailbox) (pop3Conn, error) { return conn, nil }))
	session, err := c.Connect(context.Background(), Mailbox{Type: "pop3", Host: "h", Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NoError(t, session.Noop(context.Background()))

	conn.noopErr = errors.New("gone")
	require.ErrorContains(t, session.Noop(context.Background()), "pop3 noop")
}

func TestNewConnectorResolvesType(t *testing.T) {
	for boxType, want := range map[string]string{
		"imap": "imap", "IMAPS": "imap",
		"pop3": "pop3", "pop3s": "pop3",
	} {
		c, err := NewConnector(Mailbox{Type: boxType}, nil)
		require.NoError(t, err, boxType)
		require.Equal(t, want, c.Name(), boxType)
	}
	_, err := NewConnector(Mailbox{Type: "smtp"}, nil)
	require.Error(t, err)
}

type fakePOP3Conn struct {
	uidl []pop3.MessageID
	raw  map[int][]byte

	authErr error
	noopErr error

	deleted   []int
	quitCalls int
}

func (c *fakePOP3Conn) Auth(_, _ string) error { return c.authErr }
func (c *fakePOP3Conn) Noop() error            { return c.noopErr }
func (c *fakePOP3Conn) Quit() error            { c.quitCalls++; return nil }

func (c *fakePOP3Conn) Uidl(int) ([]pop3.MessageID, error) { return c.uidl, nil }

func (c *fakePOP3Conn) RetrRaw(msgID int) (*bytes.Buffer, error) {
	raw, ok := c.raw[msgID]
	if !ok {
		return nil, errors.New("no such message")
	}
	return bytes.NewBuffer(append([]byte(nil), raw...)), nil
}

func (c *fakePOP3Conn) Dele(msgIDs ...int) error {
	c.deleted = append(c.deleted, msgIDs...)
	return nil
}
