package webhook

import (
	"bufio"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/replypost-io/replypost/internal/pipeline"
)

// maxInboundMemory bounds the multipart form buffer for SendGrid posts.
const maxInboundMemory = 10 << 20

// SendGrid parses the SendGrid inbound parse webhook, a multipart form.
// SendGrid signs nothing, so authentication is a shared secret embedded in
// the webhook URL's query string.
type SendGrid struct{}

func (SendGrid) Provider() string { return "sendgrid" }

func (SendGrid) Verify(r *http.Request, secret string) error {
	if secret == "" {
		return ErrBadSignature
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		return ErrBadSignature
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return ErrBadSignature
	}
	return nil
}

func (SendGrid) Parse(r *http.Request) ([]*pipeline.CanonicalMessage, error) {
	if err := r.ParseMultipartForm(maxInboundMemory); err != nil {
		return nil, fmt.Errorf("webhook: sendgrid form: %w", err)
	}
	form := func(name string) string { return r.PostFormValue(name) }

	headers := map[string]string{
		"From":    form("from"),
		"To":      form("to"),
		"Subject": form("subject"),
	}
	// The headers field is the raw RFC822 header block.
	for name, value := range parseHeaderBlock(form("headers")) {
		headers[name] = value
	}

	body, isHTML := pickBody(form("text"), form("html"))
	return []*pipeline.CanonicalMessage{{
		Headers:        canonicalHeaders(headers),
		ToAddress:      form("to"),
		FromAddress:    form("from"),
		Body:           body,
		IsHTML:         isHTML,
		Subject:        form("subject"),
		SequenceNumber: 1,
		Extra:          map[string]any{"provider": "sendgrid"},
	}}, nil
}

// parseHeaderBlock splits a raw header block into name/value pairs,
// unfolding continuation lines.
func parseHeaderBlock(block string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(block) == "" {
		return out
	}
	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(block + "\r\n\r\n")))
	mimeHeader, err := reader.ReadMIMEHeader()
	if err != nil && len(mimeHeader) == 0 {
		return out
	}
	for name, values := range mimeHeader {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
