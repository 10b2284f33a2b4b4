package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replypost-io/replypost/internal/address"
	"github.com/replypost-io/replypost/internal/token"
)

type fakeResolver struct {
	senders map[string]*Sender
	err     error
}

func (r *fakeResolver) ByEmail(_ context.Context, email string) (*Sender, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.senders[email], nil
}

type fakeHandler struct {
	id        string
	keys      []string
	recognize func(params map[string]string) bool
	handle    func(data *MessageData, params map[string]string) Outcome

	calls []map[string]string
	data  *MessageData
}

func (h *fakeHandler) ID() string          { return h.id }
func (h *fakeHandler) ParamKeys() []string { return h.keys }

func (h *fakeHandler) Recognizes(params map[string]string) bool {
	return h.recognize(params)
}

func (h *fakeHandler) Handle(_ context.Context, data *MessageData, params map[string]string) Outcome {
	h.calls = append(h.calls, params)
	h.data = data
	return h.handle(data, params)
}

type describingHandler struct {
	fakeHandler
}

func (h *describingHandler) FailureLog(kind string) string {
	return "comment " + kind
}

func (h *describingHandler) FailureNotice(kind string) string {
	if kind == "discussion_closed" {
		return "The discussion you replied to has been closed."
	}
	return ""
}

type fakeNotifier struct {
	to, subject, body string
	err               error
	calls             int
}

func (n *fakeNotifier) Notify(_ context.Context, to, subject, body string) error {
	n.calls++
	n.to, n.subject, n.body = to, subject, body
	return n.err
}

func recognizeKeys(keys ...string) func(map[string]string) bool {
	return func(params map[string]string) bool {
		for _, k := range keys {
			if _, ok := params[k]; !ok {
				return false
			}
		}
		return true
	}
}

func succeedWith(payload map[string]any) func(*MessageData, map[string]string) Outcome {
	return func(*MessageData, map[string]string) Outcome {
		return Succeed(payload)
	}
}

const testSecret = "pipeline-test-secret"

func encodeToken(t *testing.T, query, salt string) string {
	t.Helper()
	enc, err := token.NewCodec(testSecret).Encode(query, salt)
	require.NoError(t, err)
	return enc
}

func testMessage(to, body string) *CanonicalMessage {
	return &CanonicalMessage{
		Headers:        map[string]string{"Message-Id": "<1@example.com>"},
		ToAddress:      to,
		FromAddress:    "Alice Example <alice@example.com>",
		Body:           body,
		Subject:        "Re: your post",
		SequenceNumber: 1,
	}
}

func newTestPipeline(registry *Registry, resolver SenderResolver, opts ...PipelineOption) *Pipeline {
	parser := address.NewParser(token.NewCodec(testSecret), address.WithRegisteredKeys(registry))
	opts = append(opts, WithLogger(log.New(&strings.Builder{}, "", 0)))
	return New(parser, resolver, registry, opts...)
}

func TestProcessHandlesReply(t *testing.T) {
	handler := &fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a", "p"),
		handle:    succeedWith(map[string]any{"comment_id": 42}),
	}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	p := newTestPipeline(registry, resolver)

	enc := encodeToken(t, "a=10&p=11", "")
	msg := testMessage("alice+"+enc+"@gmail.com",
		"Nice post!\n--- Reply ABOVE THIS LINE ---\nOn Tuesday, Bob wrote:\n> original")

	res, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusHandled, res.Status)
	assert.Equal(t, "comment_reply", res.HandlerID)
	assert.Equal(t, map[string]any{"comment_id": 42}, res.Payload)

	require.Len(t, handler.calls, 1)
	assert.Equal(t, map[string]string{"a": "10", "p": "11"}, handler.calls[0])
	assert.Equal(t, "Nice post!", handler.data.Content)
	assert.Equal(t, 7, handler.data.UserID)
	assert.Equal(t, enc, handler.data.Token)
}

func TestProcessNewItemToken(t *testing.T) {
	handler := &fakeHandler{
		id:        "topic",
		recognize: recognizeKeys("g"),
		handle:    succeedWith(map[string]any{"topic_id": 5}),
	}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	p := newTestPipeline(registry, resolver)

	// New-item tokens are salted with the sender's user id and carry no
	// reply marker.
	enc := encodeToken(t, "g=3", "7")
	msg := testMessage("alice+"+enc+"-new@gmail.com", "A brand new topic body.")

	res, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusHandled, res.Status)
	assert.Equal(t, "A brand new topic body.", handler.data.Content)
}

func TestProcessSubdomainMode(t *testing.T) {
	handler := &fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a", "p"),
		handle:    succeedWith(nil),
	}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	p := newTestPipeline(registry, resolver, WithAddressing(address.ModeSubdomain, '+'))

	enc := encodeToken(t, "a=10&p=11", "")
	msg := testMessage(enc+"@reply.example.com",
		"Looks good.\n--- Reply ABOVE THIS LINE ---\n> quoted")

	res, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusHandled, res.Status)
}

func TestProcessRejections(t *testing.T) {
	handler := &fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a", "p"),
		handle:    succeedWith(nil),
	}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
		"spam@example.com":  {UserID: 8, IsSpammer: true},
	}}
	p := newTestPipeline(registry, resolver)

	enc := encodeToken(t, "a=10&p=11", "")
	goodBody := "Hi\n--- Reply ABOVE THIS LINE ---\n> quoted"

	tests := []struct {
		name   string
		mutate func(*CanonicalMessage)
		reason Reason
	}{
		{
			name:   "no headers",
			mutate: func(m *CanonicalMessage) { m.Headers = nil },
			reason: ReasonNoHeaders,
		},
		{
			name: "auto submitted",
			mutate: func(m *CanonicalMessage) {
				m.Headers["Auto-Submitted"] = "auto-replied"
			},
			reason: Reason("auto_submitted"),
		},
		{
			name: "precedence bulk",
			mutate: func(m *CanonicalMessage) {
				m.Headers["Precedence"] = "bulk"
			},
			reason: Reason("precedence_bulk"),
		},
		{
			name:   "no address tag",
			mutate: func(m *CanonicalMessage) { m.ToAddress = "alice@gmail.com" },
			reason: ReasonNoAddressTag,
		},
		{
			name: "unknown sender",
			mutate: func(m *CanonicalMessage) {
				m.FromAddress = "stranger@example.com"
			},
			reason: ReasonNoUserID,
		},
		{
			name: "spammer",
			mutate: func(m *CanonicalMessage) {
				m.FromAddress = "spam@example.com"
			},
			reason: ReasonUserSpammer,
		},
		{
			name: "undecodable token",
			mutate: func(m *CanonicalMessage) {
				m.ToAddress = "alice+deadbeef@gmail.com"
			},
			reason: ReasonNoParams,
		},
		{
			name:   "missing reply marker",
			mutate: func(m *CanonicalMessage) { m.Body = "No marker here." },
			reason: ReasonNoReplyBody,
		},
		{
			name: "empty after extraction",
			mutate: func(m *CanonicalMessage) {
				m.Body = "\n--- Reply ABOVE THIS LINE ---\n> quoted"
			},
			reason: ReasonEmptyBody,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler.calls = nil
			msg := testMessage("alice+"+enc+"@gmail.com", goodBody)
			tt.mutate(msg)

			res, err := p.Process(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, handler.calls, "handler must not run on rejection")
		})
	}
}

func TestProcessNoHandlerRecognizes(t *testing.T) {
	handler := &fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a", "p"),
		handle:    succeedWith(nil),
	}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	p := newTestPipeline(registry, resolver)

	// Token decodes fine but only carries a thread id the handler does not
	// recognize. Discarding silently is the contract.
	enc := encodeToken(t, "t=99", "")
	msg := testMessage("alice+"+enc+"@gmail.com",
		"Hello\n--- Reply ABOVE THIS LINE ---\n> quoted")

	res, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusNoOp, res.Status)
	assert.Empty(t, handler.calls)
}

func TestProcessFirstRecognizerWins(t *testing.T) {
	first := &fakeHandler{
		id:        "first",
		recognize: recognizeKeys("a"),
		handle:    succeedWith(map[string]any{"by": "first"}),
	}
	second := &fakeHandler{
		id:        "second",
		recognize: recognizeKeys("a"),
		handle:    succeedWith(map[string]any{"by": "second"}),
	}
	registry := NewRegistry(first, second)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	p := newTestPipeline(registry, resolver)

	enc := encodeToken(t, "a=1", "")
	msg := testMessage("alice+"+enc+"@gmail.com",
		"Hi\n--- Reply ABOVE THIS LINE ---\n> quoted")

	res, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "first", res.HandlerID)
	assert.Len(t, first.calls, 1)
	assert.Empty(t, second.calls)
}

func TestProcessHandlerFailureNotifiesSender(t *testing.T) {
	handler := &describingHandler{fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a", "p"),
		handle: func(data *MessageData, _ map[string]string) Outcome {
			return Fail("discussion_closed", nil)
		},
	}}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	notifier := &fakeNotifier{}
	p := newTestPipeline(registry, resolver, WithNotifier(notifier))

	enc := encodeToken(t, "a=10&p=11", "")
	msg := testMessage("alice+"+enc+"@gmail.com",
		"My late reply\n--- Reply ABOVE THIS LINE ---\n> quoted")

	res, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "discussion_closed", res.FailureKind)

	require.Equal(t, 1, notifier.calls)
	assert.Equal(t, "alice@example.com", notifier.to)
	assert.Equal(t, "Re: Re: your post", notifier.subject)
	assert.Contains(t, notifier.body, "has been closed")
	// The sender's own words come back quoted so they are not lost.
	assert.Contains(t, notifier.body, "> My late reply")
}

func TestProcessHandlerFailureWithoutNotice(t *testing.T) {
	handler := &fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a", "p"),
		handle: func(*MessageData, map[string]string) Outcome {
			return Fail("storage_error", nil)
		},
	}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	notifier := &fakeNotifier{}
	p := newTestPipeline(registry, resolver, WithNotifier(notifier))

	enc := encodeToken(t, "a=10&p=11", "")
	msg := testMessage("alice+"+enc+"@gmail.com",
		"Hi\n--- Reply ABOVE THIS LINE ---\n> quoted")

	res, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, notifier.calls, "handlers without a notice stay quiet")
}

func TestProcessResolverOutageIsAnError(t *testing.T) {
	registry := NewRegistry(&fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a"),
		handle:    succeedWith(nil),
	})
	resolver := &fakeResolver{err: errors.New("database down")}
	p := newTestPipeline(registry, resolver)

	enc := encodeToken(t, "a=10", "")
	msg := testMessage("alice+"+enc+"@gmail.com",
		"Hi\n--- Reply ABOVE THIS LINE ---\n> quoted")

	_, err := p.Process(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve sender")
}

func TestProcessBatchIsolation(t *testing.T) {
	var contents []string
	handler := &fakeHandler{
		id:        "comment_reply",
		recognize: recognizeKeys("a", "p"),
		handle: func(data *MessageData, _ map[string]string) Outcome {
			contents = append(contents, data.Content)
			return Succeed(nil)
		},
	}
	registry := NewRegistry(handler)
	resolver := &fakeResolver{senders: map[string]*Sender{
		"alice@example.com": {UserID: 7},
	}}
	p := newTestPipeline(registry, resolver)

	enc := encodeToken(t, "a=10&p=11", "")
	for i, body := range []string{
		"First reply\n--- Reply ABOVE THIS LINE ---\n> q",
		"Second reply\n--- Reply ABOVE THIS LINE ---\n> q",
	} {
		msg := testMessage("alice+"+enc+"@gmail.com", body)
		msg.SequenceNumber = i + 1
		res, err := p.Process(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, StatusHandled, res.Status, fmt.Sprintf("message %d", i+1))
	}
	assert.Equal(t, []string{"First reply", "Second reply"}, contents)
}
