package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/replypost-io/replypost/internal/address"
	"github.com/replypost-io/replypost/internal/junk"
	"github.com/replypost-io/replypost/internal/replybody"
)

// Reason names why the pipeline rejected a message before any handler ran.
type Reason string

const (
	ReasonNoHeaders    Reason = "no_headers"
	ReasonNoAddressTag Reason = "no_address_tag"
	ReasonNoUserID     Reason = "no_user_id"
	ReasonUserSpammer  Reason = "user_is_spammer"
	ReasonNoParams     Reason = "no_params"
	ReasonNoReplyBody  Reason = "no_reply_body"
	ReasonEmptyBody    Reason = "empty_body"
)

// Status classifies what happened to a message.
type Status string

const (
	StatusHandled  Status = "handled"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "handler_failed"
	StatusNoOp     Status = "no_op"
)

// Result records the pipeline outcome for one message.
type Result struct {
	Status      Status
	Reason      Reason         // set when Status is rejected
	HandlerID   string         // set when a handler ran
	Payload     map[string]any // handler success payload
	FailureKind string         // set when Status is handler_failed
}

// Pipeline runs the dispatch stages in strict order, short-circuiting on
// the first failure.
type Pipeline struct {
	junk     *junk.Filter
	parser   *address.Parser
	resolver SenderResolver
	body     *replybody.Extractor
	registry *Registry
	notifier Notifier
	mode     address.Mode
	tagChar  byte
	logger   *log.Logger
	metrics  *Metrics
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// New builds a pipeline. The parser, resolver, and registry are required;
// junk filtering and body extraction default to their standard behavior.
func New(parser *address.Parser, resolver SenderResolver, registry *Registry, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		junk:     junk.NewFilter(),
		parser:   parser,
		resolver: resolver,
		body:     replybody.NewExtractor(),
		registry: registry,
		mode:     address.ModeTag,
		tagChar:  '+',
		logger:   log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithAddressing selects the addressing scheme and tag character.
func WithAddressing(mode address.Mode, tagChar byte) PipelineOption {
	return func(p *Pipeline) {
		if mode != "" {
			p.mode = mode
		}
		if tagChar != 0 {
			p.tagChar = tagChar
		}
	}
}

// WithJunkFilter overrides the header validation filter.
func WithJunkFilter(f *junk.Filter) PipelineOption {
	return func(p *Pipeline) {
		if f != nil {
			p.junk = f
		}
	}
}

// WithBodyExtractor overrides the reply-body extractor.
func WithBodyExtractor(e *replybody.Extractor) PipelineOption {
	return func(p *Pipeline) {
		if e != nil {
			p.body = e
		}
	}
}

// WithNotifier wires sender-facing failure notifications.
func WithNotifier(n Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

// WithLogger overrides the outcome logger.
func WithLogger(logger *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics wires prometheus counters.
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// Process runs one message through the pipeline. The returned Result is
// never nil; rejection is an outcome, not an error. The error return is
// reserved for infrastructure faults (resolver outage) that should make
// the acquisition adapter keep the message.
func (p *Pipeline) Process(ctx context.Context, msg *CanonicalMessage) (*Result, error) {
	if msg == nil {
		return &Result{Status: StatusRejected, Reason: ReasonNoHeaders}, nil
	}
	p.metrics.incProcessed()

	// Stage 1: header validation.
	if len(msg.Headers) == 0 {
		return p.reject(msg, ReasonNoHeaders, "message carries no headers"), nil
	}
	headers, err := p.junk.ValidateHeaders(msg.Headers)
	if err != nil {
		var rej *junk.RejectError
		if errors.As(err, &rej) {
			return p.reject(msg, Reason(rej.Reason), rej.Error()), nil
		}
		return p.reject(msg, ReasonNoHeaders, err.Error()), nil
	}
	msg.Headers = headers

	// Stage 2: token string from the recipient address.
	tokenString, err := address.TokenString(msg.ToAddress, p.mode, p.tagChar)
	if err != nil {
		return p.reject(msg, ReasonNoAddressTag, fmt.Sprintf("no token in %q", msg.ToAddress)), nil
	}

	// Stage 3: sender authentication.
	sender, err := p.resolver.ByEmail(ctx, address.Bare(msg.FromAddress))
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve sender: %w", err)
	}
	if sender == nil {
		return p.reject(msg, ReasonNoUserID, fmt.Sprintf("no account for %q", address.Bare(msg.FromAddress))), nil
	}

	// Stage 4: spammer check.
	if sender.IsSpammer {
		return p.reject(msg, ReasonUserSpammer, fmt.Sprintf("user %d is marked as a spammer", sender.UserID)), nil
	}

	// Stage 5: token decode. New-item tokens are salted with the sender's
	// user id, which is why this runs after authentication.
	rt, err := p.parser.DecodeToken(tokenString, sender.UserID)
	if err != nil {
		return p.reject(msg, ReasonNoParams, fmt.Sprintf("token %q: %v", tokenString, err)), nil
	}

	// Stage 6: body extraction. The only stage that mutates the message.
	content, err := p.body.Extract(msg.Body, msg.IsHTML, !rt.IsNewItem)
	if err != nil {
		switch {
		case errors.Is(err, replybody.ErrNoReplyBody):
			return p.reject(msg, ReasonNoReplyBody, "reply marker not found"), nil
		case errors.Is(err, replybody.ErrEmptyBody):
			return p.reject(msg, ReasonEmptyBody, "empty body after extraction"), nil
		default:
			return p.reject(msg, ReasonEmptyBody, err.Error()), nil
		}
	}
	msg.Body = content

	// Stage 7: handler dispatch, first recognizer wins.
	data := &MessageData{
		Headers:        msg.Headers,
		Content:        msg.Body,
		Subject:        msg.Subject,
		UserID:         sender.UserID,
		IsHTML:         msg.IsHTML,
		SequenceNumber: msg.SequenceNumber,
		Token:          rt.Raw,
		Extra:          msg.Extra,
	}
	for _, handler := range p.registry.Handlers() {
		if !handler.Recognizes(rt.Parameters) {
			continue
		}
		outcome := handler.Handle(ctx, data, rt.Parameters)
		return p.record(ctx, msg, handler, outcome), nil
	}

	// Stage 8 (no-op path): nothing recognized the parameter set.
	p.metrics.incNoOp()
	p.logf("pipeline: message %d: no handler recognized params %v", msg.SequenceNumber, paramKeys(rt.Parameters))
	return &Result{Status: StatusNoOp}, nil
}

func (p *Pipeline) reject(msg *CanonicalMessage, reason Reason, detail string) *Result {
	p.metrics.incRejected(reason)
	p.logf("pipeline: message %d rejected (%s): %s", msg.SequenceNumber, reason, detail)
	return &Result{Status: StatusRejected, Reason: reason}
}

// record logs the handler outcome and, for failures with a sender-facing
// explanation, composes a reply quoting the original content.
func (p *Pipeline) record(ctx context.Context, msg *CanonicalMessage, handler Handler, outcome Outcome) *Result {
	if outcome.Failure == nil {
		p.metrics.incHandled(handler.ID())
		p.logf("pipeline: message %d handled by %s: %v", msg.SequenceNumber, handler.ID(), outcome.Payload)
		return &Result{Status: StatusHandled, HandlerID: handler.ID(), Payload: outcome.Payload}
	}

	kind := outcome.Failure.Kind
	p.metrics.incFailed(handler.ID(), kind)
	logLine := fmt.Sprintf("handler %s failed: %s", handler.ID(), kind)
	notice := ""
	if describer, ok := handler.(FailureDescriber); ok {
		if line := describer.FailureLog(kind); line != "" {
			logLine = line
		}
		notice = describer.FailureNotice(kind)
	}
	p.logf("pipeline: message %d: %s", msg.SequenceNumber, logLine)

	if notice != "" && p.notifier != nil {
		body := composeFailureReply(notice, msg)
		to := address.Bare(msg.FromAddress)
		if err := p.notifier.Notify(ctx, to, "Re: "+msg.Subject, body); err != nil {
			p.logf("pipeline: failure notice to %s not sent: %v", to, err)
		}
	}
	return &Result{Status: StatusFailed, HandlerID: handler.ID(), FailureKind: kind}
}

// composeFailureReply explains what happened and quotes what the sender
// wrote so nothing is lost.
func composeFailureReply(notice string, msg *CanonicalMessage) string {
	var b strings.Builder
	b.WriteString(notice)
	b.WriteString("\n\nYour original message:\n\n")
	for _, line := range strings.Split(msg.Body, "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func paramKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	return keys
}

func (p *Pipeline) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
