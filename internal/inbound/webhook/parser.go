// Package webhook adapts inbound-email webhook payloads from hosted mail
// providers into canonical messages. Each provider carries its own payload
// shape and authentication scheme; verification failures must produce no
// response body so the endpoint leaks nothing to probing callers.
package webhook

import (
	"errors"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/replypost-io/replypost/internal/pipeline"
)

// ErrBadSignature is returned by Verify when the request cannot be
// authenticated as coming from the provider.
var ErrBadSignature = errors.New("webhook: signature verification failed")

// Parser adapts one provider's inbound payload.
type Parser interface {
	// Provider is the identifier used in the webhook URL path.
	Provider() string

	// Verify authenticates the request against the configured secret.
	Verify(r *http.Request, secret string) error

	// Parse extracts the messages carried by the request. Most providers
	// post one message per request; Mandrill batches several.
	Parse(r *http.Request) ([]*pipeline.CanonicalMessage, error)
}

// Registry maps provider names to parsers.
type Registry map[string]Parser

// NewRegistry indexes the given parsers by provider name.
func NewRegistry(parsers ...Parser) Registry {
	reg := make(Registry, len(parsers))
	for _, p := range parsers {
		if p != nil {
			reg[p.Provider()] = p
		}
	}
	return reg
}

// canonicalHeaders normalizes header names the way the polling adapters
// store them, so the junk filter's lookups behave identically across
// sources.
func canonicalHeaders(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	return out
}

// pickBody prefers the plain-text body; a message with only HTML is
// flagged so the reply-body extractor normalizes it first.
func pickBody(text, html string) (body string, isHTML bool) {
	if strings.TrimSpace(text) != "" {
		return text, false
	}
	return html, true
}
