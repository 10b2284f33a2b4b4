package pipeline

import (
	"context"
	"sync"
)

// MessageData is the tuple handed to content handlers. Token and Params
// together identify the action for handler-side deduplication.
type MessageData struct {
	Headers        map[string]string
	Content        string
	Subject        string
	UserID         int
	IsHTML         bool
	SequenceNumber int
	Token          string
	Extra          map[string]any
}

// Failure is a structured handler failure.
type Failure struct {
	Kind    string
	Context *CanonicalMessage
}

// Outcome is what a handler returns: a success payload (opaque key to id
// mapping) or a structured failure, never both.
type Outcome struct {
	Payload map[string]any
	Failure *Failure
}

// Succeed builds a success outcome.
func Succeed(payload map[string]any) Outcome {
	return Outcome{Payload: payload}
}

// Fail builds a failure outcome.
func Fail(kind string, msg *CanonicalMessage) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Context: msg}}
}

// Handler turns validated, parsed email data into a content-creation
// action. Handlers are tried in registration order; the first whose
// Recognizes returns true processes the message.
type Handler interface {
	ID() string

	// ParamKeys lists extra token parameter keys this handler needs
	// whitelisted, beyond the fixed defaults.
	ParamKeys() []string

	Recognizes(params map[string]string) bool
	Handle(ctx context.Context, data *MessageData, params map[string]string) Outcome
}

// FailureDescriber lets a handler supply a human-readable log line and a
// sender-facing explanation per error kind it raises. Optional.
type FailureDescriber interface {
	FailureLog(kind string) string
	FailureNotice(kind string) string
}

// Registry is the ordered set of content handlers, resolved once at
// startup. It also implements address.KeyLister so the token parser sees
// handler-registered parameter keys.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewRegistry builds a registry with the given handlers in order.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register appends a handler to the dispatch order.
func (r *Registry) Register(h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Handlers returns the handlers in registration order.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// ParamKeys returns the union of all handler-registered parameter keys.
func (r *Registry) ParamKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var keys []string
	for _, h := range r.handlers {
		for _, k := range h.ParamKeys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}
