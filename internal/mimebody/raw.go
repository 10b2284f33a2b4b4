package mimebody

import (
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	gomessage "github.com/emersion/go-message"
	htmlcharset "golang.org/x/net/html/charset"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// RawMessage is a parsed RFC822 blob adapted to the Structure/PartFetcher
// contract. Sources that hold whole messages in memory (POP3, webhook raw
// payloads) use this instead of per-part network fetches.
type RawMessage struct {
	Headers map[string]string
	Subject string
	Root    *Structure
	Fetch   PartFetcher
}

// ParseRaw builds the part tree and fetcher for a raw message. Part bodies
// are buffered during the walk; go-message already decodes transfer
// encodings and transcodes charsets, so the resulting tree carries empty
// Encoding fields and no charset parameters.
func ParseRaw(raw []byte) (*RawMessage, error) {
	ent, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("mimebody: parse message: %w", err)
	}

	msg := &RawMessage{Headers: make(map[string]string)}
	fields := ent.Header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		if _, seen := msg.Headers[key]; seen {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers[key] = value
	}
	if subject, err := ent.Header.Text("Subject"); err == nil {
		msg.Subject = stripLineBreaks(subject)
	} else {
		msg.Subject = stripLineBreaks(msg.Headers["Subject"])
	}

	bodies := make(map[string][]byte)
	root, err := buildStructure(ent, nil, bodies)
	if err != nil {
		return nil, err
	}
	msg.Root = root
	msg.Fetch = func(path []int) ([]byte, error) {
		body, ok := bodies[pathKey(path)]
		if !ok {
			return nil, fmt.Errorf("mimebody: no buffered part at %v", path)
		}
		return body, nil
	}
	return msg, nil
}

func buildStructure(ent *gomessage.Entity, path []int, bodies map[string][]byte) (*Structure, error) {
	mediaType, params, err := ent.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
		params = nil
	}
	node := &Structure{Params: make(map[string]string, len(params))}
	node.Type, node.Subtype = splitMediaType(mediaType)
	for k, v := range params {
		if strings.EqualFold(k, "charset") {
			// Bodies are transcoded to UTF-8 during the walk.
			continue
		}
		node.Params[strings.ToLower(k)] = v
	}

	if mr := ent.MultipartReader(); mr != nil {
		for i := 1; ; i++ {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				if gomessage.IsUnknownCharset(err) {
					continue
				}
				return nil, fmt.Errorf("mimebody: read part %d: %w", i, err)
			}
			childPath := append(append([]int(nil), path...), i)
			child, err := buildStructure(part, childPath, bodies)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	body, err := io.ReadAll(ent.Body)
	if err != nil {
		return nil, fmt.Errorf("mimebody: read body at %v: %w", path, err)
	}
	bodies[pathKey(path)] = body
	return node, nil
}

func splitMediaType(mediaType string) (string, string) {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mediaType, '/'); i >= 0 {
		return mediaType[:i], mediaType[i+1:]
	}
	return mediaType, ""
}

func pathKey(path []int) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

func stripLineBreaks(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
