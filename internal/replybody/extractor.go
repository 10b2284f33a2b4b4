// Package replybody trims a decoded message body down to the content the
// sender actually wrote: everything above the reply marker, minus client
// signatures and quote artifacts.
package replybody

import (
	"errors"
	"log"
	"strings"
)

// DefaultMarker is the delimiter line inserted into outbound notification
// emails.
const DefaultMarker = "--- Reply ABOVE THIS LINE ---"

var (
	// ErrNoReplyBody is returned when a reply carries no marker line, so
	// the written portion cannot be located.
	ErrNoReplyBody = errors.New("replybody: reply marker not found")

	// ErrEmptyBody is returned when nothing remains after processing.
	ErrEmptyBody = errors.New("replybody: empty body after extraction")
)

// PostProcessor transforms a new-item body before signature stripping.
// Processors run in registration order.
type PostProcessor interface {
	ID() string
	Process(body string, wasHTML bool) string
}

// Extractor extracts the written portion of a message body.
type Extractor struct {
	marker     string
	htmlToText func(string) string
	newItem    []PostProcessor
	heuristics []Heuristic
	logger     *log.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// NewExtractor returns an extractor with the default marker, HTML
// normalization, new-item processors, and signature heuristics.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		marker:     DefaultMarker,
		htmlToText: HTMLToText,
		newItem:    []PostProcessor{StripTrailingQuotes{}, DeHardWrap{}},
		heuristics: DefaultHeuristics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMarker overrides the reply delimiter line.
func WithMarker(marker string) Option {
	return func(e *Extractor) {
		if marker != "" {
			e.marker = marker
		}
	}
}

// WithHTMLToText overrides the HTML normalization pass.
func WithHTMLToText(fn func(string) string) Option {
	return func(e *Extractor) {
		if fn != nil {
			e.htmlToText = fn
		}
	}
}

// WithNewItemProcessors replaces the ordered new-item post-processors.
func WithNewItemProcessors(ps ...PostProcessor) Option {
	return func(e *Extractor) { e.newItem = ps }
}

// WithHeuristics replaces the ordered signature heuristics.
func WithHeuristics(hs ...Heuristic) Option {
	return func(e *Extractor) { e.heuristics = hs }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Marker returns the configured delimiter line, for callers composing
// outbound notifications.
func (e *Extractor) Marker() string { return e.marker }

// Extract returns the plain-text body the sender wrote. Replies are
// truncated at the marker line (its absence is ErrNoReplyBody); new items
// keep the whole body and run the new-item processors instead. Signature
// stripping runs over the result in both cases.
func (e *Extractor) Extract(body string, isHTML, isReply bool) (string, error) {
	if isHTML && e.htmlToText != nil {
		body = e.htmlToText(body)
	}

	if isReply {
		idx := strings.Index(body, e.marker)
		if idx < 0 {
			return "", ErrNoReplyBody
		}
		body = body[:idx]
	} else {
		for _, p := range e.newItem {
			if p == nil {
				continue
			}
			body = p.Process(body, isHTML)
		}
	}

	body = StripSignature(body, e.heuristics...)

	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	return body, nil
}
