package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/replypost-io/replypost/internal/pipeline"
)

// Mailgun parses Mailgun's form-encoded route payload. Authentication is
// an HMAC-SHA256 over timestamp concatenated with token, keyed by the
// route signing key.
type Mailgun struct{}

func (Mailgun) Provider() string { return "mailgun" }

func (Mailgun) Verify(r *http.Request, secret string) error {
	if secret == "" {
		return ErrBadSignature
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("webhook: mailgun form: %w", err)
	}
	timestamp := r.PostFormValue("timestamp")
	token := r.PostFormValue("token")
	signature := r.PostFormValue("signature")
	if timestamp == "" || token == "" || signature == "" {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

func (Mailgun) Parse(r *http.Request) ([]*pipeline.CanonicalMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("webhook: mailgun form: %w", err)
	}

	headers := map[string]string{
		"From":    r.PostFormValue("from"),
		"To":      r.PostFormValue("recipient"),
		"Subject": r.PostFormValue("subject"),
	}
	// message-headers is a JSON array of [name, value] pairs carrying the
	// full original header block.
	if rawHeaders := r.PostFormValue("message-headers"); rawHeaders != "" {
		var pairs [][2]any
		if err := json.Unmarshal([]byte(rawHeaders), &pairs); err == nil {
			for _, pair := range pairs {
				name, _ := pair[0].(string)
				value, _ := pair[1].(string)
				if name != "" {
					headers[name] = value
				}
			}
		}
	}

	body, isHTML := pickBody(r.PostFormValue("body-plain"), r.PostFormValue("body-html"))
	return []*pipeline.CanonicalMessage{{
		Headers:        canonicalHeaders(headers),
		ToAddress:      r.PostFormValue("recipient"),
		FromAddress:    r.PostFormValue("from"),
		Body:           body,
		IsHTML:         isHTML,
		Subject:        r.PostFormValue("subject"),
		SequenceNumber: 1,
		Extra:          map[string]any{"provider": "mailgun"},
	}}, nil
}
