package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/replypost-io/replypost/internal/pipeline"
)

// Mandrill parses Mandrill's inbound webhook. One POST carries a JSON
// array of events in the mandrill_events form field, so a single request
// can yield several messages. Authentication is an HMAC-SHA1 over the
// webhook URL concatenated with the sorted POST parameters, base64-encoded
// into the X-Mandrill-Signature header.
type Mandrill struct {
	// URL is the externally visible webhook URL, as registered with
	// Mandrill; it prefixes the signed data.
	URL string
}

func (Mandrill) Provider() string { return "mandrill" }

func (m Mandrill) Verify(r *http.Request, secret string) error {
	if secret == "" {
		return ErrBadSignature
	}
	signature := r.Header.Get("X-Mandrill-Signature")
	if signature == "" {
		return ErrBadSignature
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("webhook: mandrill form: %w", err)
	}

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	signed := m.URL
	for _, k := range keys {
		signed += k + r.PostFormValue(k)
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(signed))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

type mandrillEvent struct {
	Event string `json:"event"`
	Msg   struct {
		FromEmail string            `json:"from_email"`
		Email     string            `json:"email"`
		Subject   string            `json:"subject"`
		Text      string            `json:"text"`
		HTML      string            `json:"html"`
		Headers   map[string]any    `json:"headers"`
		Metadata  map[string]string `json:"metadata"`
	} `json:"msg"`
}

func (Mandrill) Parse(r *http.Request) ([]*pipeline.CanonicalMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("webhook: mandrill form: %w", err)
	}
	raw := r.PostFormValue("mandrill_events")
	if raw == "" {
		return nil, fmt.Errorf("webhook: mandrill payload missing mandrill_events")
	}
	var events []mandrillEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("webhook: mandrill payload: %w", err)
	}

	var msgs []*pipeline.CanonicalMessage
	for _, ev := range events {
		if ev.Event != "inbound" {
			continue
		}
		headers := map[string]string{
			"From":    ev.Msg.FromEmail,
			"To":      ev.Msg.Email,
			"Subject": ev.Msg.Subject,
		}
		// Header values arrive as strings or arrays of strings; arrays
		// keep their first element.
		for name, value := range ev.Msg.Headers {
			switch v := value.(type) {
			case string:
				headers[name] = v
			case []any:
				if len(v) > 0 {
					if s, ok := v[0].(string); ok {
						headers[name] = s
					}
				}
			}
		}

		body, isHTML := pickBody(ev.Msg.Text, ev.Msg.HTML)
		msgs = append(msgs, &pipeline.CanonicalMessage{
			Headers:        canonicalHeaders(headers),
			ToAddress:      ev.Msg.Email,
			FromAddress:    ev.Msg.FromEmail,
			Body:           body,
			IsHTML:         isHTML,
			Subject:        ev.Msg.Subject,
			SequenceNumber: len(msgs) + 1,
			Extra:          map[string]any{"provider": "mandrill"},
		})
	}
	return msgs, nil
}
