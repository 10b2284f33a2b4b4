package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/replypost-io/replypost/internal/pipeline"
)

// Postmark parses Postmark's inbound JSON payload. Authentication is a
// shared token carried in the X-Postmark-Token header.
type Postmark struct{}

func (Postmark) Provider() string { return "postmark" }

func (Postmark) Verify(r *http.Request, secret string) error {
	if secret == "" {
		return ErrBadSignature
	}
	token := r.Header.Get("X-Postmark-Token")
	if token == "" {
		return ErrBadSignature
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return ErrBadSignature
	}
	return nil
}

type postmarkPayload struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
	HTMLBody string `json:"HtmlBody"`
	Headers  []struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	} `json:"Headers"`
}

func (Postmark) Parse(r *http.Request) ([]*pipeline.CanonicalMessage, error) {
	var payload postmarkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("webhook: postmark payload: %w", err)
	}

	headers := map[string]string{
		"From":    payload.From,
		"To":      payload.To,
		"Subject": payload.Subject,
	}
	for _, h := range payload.Headers {
		if h.Name != "" {
			headers[h.Name] = h.Value
		}
	}

	body, isHTML := pickBody(payload.TextBody, payload.HTMLBody)
	return []*pipeline.CanonicalMessage{{
		Headers:        canonicalHeaders(headers),
		ToAddress:      payload.To,
		FromAddress:    payload.From,
		Body:           body,
		IsHTML:         isHTML,
		Subject:        payload.Subject,
		SequenceNumber: 1,
		Extra:          map[string]any{"provider": "postmark"},
	}}, nil
}
