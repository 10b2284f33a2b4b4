// Package address extracts and decodes the routing token embedded in a
// reply address. Two addressing schemes are supported: a tagged local-part
// (gmail-style "user+TOKEN@domain") and a dedicated reply subdomain where
// the whole local-part is the token ("TOKEN@reply.domain").
package address

import (
	"errors"
	"log"
	"net/mail"
	"strconv"
	"strings"

	"github.com/replypost-io/replypost/internal/token"
)

// Mode selects the addressing scheme configured for the installation.
type Mode string

const (
	ModeTag       Mode = "tag"
	ModeSubdomain Mode = "subdomain"
)

// NewItemSuffix marks tokens that create new content instead of replying
// to existing content.
const NewItemSuffix = "-new"

var (
	// ErrNoAddressTag is returned when no token can be located in the
	// recipient address.
	ErrNoAddressTag = errors.New("address: no routing token in recipient")

	// ErrNoParams is returned when decoding yields no whitelisted
	// parameters.
	ErrNoParams = errors.New("address: token decoded to no usable params")
)

// defaultKeys is the fixed parameter whitelist: root item, parent item,
// thread, message, and group ids.
var defaultKeys = []string{"a", "p", "t", "m", "g"}

// RoutingToken is the decoded result of an embedded address token. It is
// built fresh per message and never retained across messages.
type RoutingToken struct {
	Raw        string // token string as found in the address
	Query      string // plaintext key=value querystring after decryption
	IsNewItem  bool
	Parameters map[string]string
}

// KeyLister exposes the parameter keys registered by content handlers at
// startup; the decoded whitelist is the union of these and defaultKeys.
type KeyLister interface {
	ParamKeys() []string
}

// FallbackFunc supplies a plaintext querystring for tokens that are
// neither hex ciphertext nor parseable, supporting legacy unencrypted
// callers. Returning "" means no fallback.
type FallbackFunc func(raw string, isNewItem bool) string

// Parser decodes routing tokens. All state is provided at construction;
// nothing leaks between messages in a batch.
type Parser struct {
	codec    *token.Codec
	keys     KeyLister
	fallback FallbackFunc
	logger   *log.Logger
}

// ParserOption customizes a Parser.
type ParserOption func(*Parser)

// NewParser returns a parser backed by the given codec.
func NewParser(codec *token.Codec, opts ...ParserOption) *Parser {
	p := &Parser{codec: codec}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithRegisteredKeys wires the handler-registered parameter keys.
func WithRegisteredKeys(keys KeyLister) ParserOption {
	return func(p *Parser) { p.keys = keys }
}

// WithFallback wires the legacy plaintext fallback.
func WithFallback(fn FallbackFunc) ParserOption {
	return func(p *Parser) { p.fallback = fn }
}

// WithParserLogger overrides the diagnostics logger.
func WithParserLogger(logger *log.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// TokenString extracts the raw token from a recipient address. The address
// may carry a display name ("Name <addr>"). In tag mode the token is the
// substring between the tag character and the "@"; in subdomain mode it is
// the entire local-part.
func TokenString(toAddress string, mode Mode, tagChar byte) (string, error) {
	addr := Bare(toAddress)
	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return "", ErrNoAddressTag
	}
	local := addr[:at]
	switch mode {
	case ModeSubdomain:
		if local == "" {
			return "", ErrNoAddressTag
		}
		return local, nil
	default:
		tag := strings.IndexByte(local, tagChar)
		if tag < 0 || tag+1 >= len(local) {
			return "", ErrNoAddressTag
		}
		return local[tag+1:], nil
	}
}

// Bare strips any display name from an address, returning just the
// addr-spec. Malformed input is returned trimmed.
func Bare(raw string) string {
	raw = strings.TrimSpace(raw)
	if parsed, err := mail.ParseAddress(raw); err == nil {
		return parsed.Address
	}
	// Tolerate bare "Name <addr>" forms mail.ParseAddress rejects.
	if open := strings.LastIndexByte(raw, '<'); open >= 0 {
		if close := strings.IndexByte(raw[open:], '>'); close > 0 {
			return raw[open+1 : open+close]
		}
	}
	return raw
}

// DecodeToken decrypts and parses a token string into a RoutingToken.
// New-item tokens are salted with the resolved sender's user id, so for
// those this must run after sender authentication.
func (p *Parser) DecodeToken(tokenString string, userID int) (*RoutingToken, error) {
	rt := &RoutingToken{Raw: tokenString}
	rest := tokenString
	if strings.HasSuffix(rest, NewItemSuffix) {
		rt.IsNewItem = true
		rest = strings.TrimSuffix(rest, NewItemSuffix)
	}

	if token.IsHex(rest) {
		salt := ""
		if rt.IsNewItem {
			salt = strconv.Itoa(userID)
		}
		query, err := p.codec.Decode(rest, salt)
		if err != nil {
			p.logf("address: decrypt failed for %q: %v", rest, err)
			query = ""
		}
		rt.Query = query
	} else {
		// Legacy unencrypted token: the string is the querystring itself.
		rt.Query = rest
	}

	if !looksLikeQuery(rt.Query) {
		if p.fallback != nil {
			rt.Query = p.fallback(tokenString, rt.IsNewItem)
		}
		if !looksLikeQuery(rt.Query) {
			return nil, ErrNoParams
		}
	}

	rt.Parameters = p.filterParams(parseQuery(rt.Query))
	if len(rt.Parameters) == 0 {
		return nil, ErrNoParams
	}
	return rt, nil
}

func looksLikeQuery(q string) bool {
	return strings.Contains(q, "=")
}

// parseQuery splits "&"-delimited key=value pairs. Pairs without "=" or
// with empty keys are dropped.
func parseQuery(query string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(query, "&") {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			continue
		}
		params[pair[:eq]] = pair[eq+1:]
	}
	return params
}

// filterParams keeps only whitelisted keys: the fixed defaults unioned
// with handler-registered keys.
func (p *Parser) filterParams(params map[string]string) map[string]string {
	allowed := make(map[string]struct{}, len(defaultKeys))
	for _, k := range defaultKeys {
		allowed[k] = struct{}{}
	}
	if p.keys != nil {
		for _, k := range p.keys.ParamKeys() {
			allowed[k] = struct{}{}
		}
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (p *Parser) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
