// Package junk rejects automated mail before any business action runs.
// The checks are header-based heuristics applied in a fixed order; the
// first match wins and each carries its own loggable reason.
package junk

import (
	"fmt"
	"net/textproto"
	"strings"
)

// Reason identifies which heuristic rejected the message.
type Reason string

const (
	ReasonXAutoReply           Reason = "x_autoreply"
	ReasonPrecedence           Reason = "precedence_bulk"
	ReasonAutoSubmitted        Reason = "auto_submitted"
	ReasonAutoResponseSuppress Reason = "auto_response_suppress"
	ReasonMachineGenerated     Reason = "machine_generated"
	ReasonReturnPath           Reason = "return_path"
)

// RejectError reports why a message was classified as automated.
type RejectError struct {
	Reason Reason
	Header string
	Value  string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("junk: rejected (%s): %s: %s", e.Reason, e.Header, e.Value)
}

// HeaderTransform is an ordered extension point applied to accepted
// headers; transforms run in registration order.
type HeaderTransform func(headers map[string]string) map[string]string

// Filter validates headers against the auto-reply heuristics.
type Filter struct {
	transforms []HeaderTransform
}

// NewFilter returns a filter with the given acceptance transforms.
func NewFilter(transforms ...HeaderTransform) *Filter {
	return &Filter{transforms: transforms}
}

// ValidateHeaders returns the headers (after any transforms) when the
// message looks human-sent, or a *RejectError naming the first heuristic
// that matched. Header names are resolved in canonical MIME form, which is
// how the acquisition adapters store them.
func (f *Filter) ValidateHeaders(headers map[string]string) (map[string]string, error) {
	if v, ok := get(headers, "X-Autoreply"); ok && strings.EqualFold(strings.TrimSpace(v), "yes") {
		return nil, &RejectError{Reason: ReasonXAutoReply, Header: "X-Autoreply", Value: v}
	}
	if v, ok := get(headers, "Precedence"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "bulk", "junk", "list":
			return nil, &RejectError{Reason: ReasonPrecedence, Header: "Precedence", Value: v}
		}
	}
	if v, ok := get(headers, "Auto-Submitted"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "auto-replied", "auto-generated":
			return nil, &RejectError{Reason: ReasonAutoSubmitted, Header: "Auto-Submitted", Value: v}
		}
	}
	if v, ok := get(headers, "X-Auto-Response-Suppress"); ok {
		switch strings.TrimSpace(v) {
		case "All", "OOF", "AutoReply":
			return nil, &RejectError{Reason: ReasonAutoResponseSuppress, Header: "X-Auto-Response-Suppress", Value: v}
		}
	}
	if v, ok := get(headers, "X-FC-MachineGenerated"); ok {
		return nil, &RejectError{Reason: ReasonMachineGenerated, Header: "X-FC-MachineGenerated", Value: v}
	}
	if v, ok := get(headers, "Return-Path"); ok {
		addr := strings.Trim(strings.TrimSpace(v), "<>")
		if addr == "" ||
			strings.HasPrefix(strings.ToLower(addr), "mailer-daemon") ||
			strings.HasPrefix(strings.ToLower(addr), "owner-") {
			return nil, &RejectError{Reason: ReasonReturnPath, Header: "Return-Path", Value: v}
		}
	}

	for _, transform := range f.transforms {
		if transform != nil {
			headers = transform(headers)
		}
	}
	return headers, nil
}

// get resolves a header by its canonical MIME name, falling back to the
// literal spelling for sources that did not canonicalize on ingest.
func get(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[textproto.CanonicalMIMEHeaderKey(name)]; ok {
		return v, true
	}
	v, ok := headers[name]
	return v, ok
}
