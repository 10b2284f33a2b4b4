// Package mimebody recovers a single canonical plain-text body from a
// message's MIME part tree. The walk operates on a Structure tree plus a
// PartFetcher accessor so the IMAP connector can serve parts straight from
// BODYSTRUCTURE/BODY[n] fetches without buffering whole messages, while
// raw-blob sources (POP3, webhooks) go through ParseRaw.
package mimebody

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/quotedprintable"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

var (
	// ErrNoBody is returned when the message yields no usable body part.
	ErrNoBody = errors.New("mimebody: no body part found")
)

// Structure describes one node of a message's MIME part tree. Multipart
// nodes carry Children; leaf nodes carry the content parameters and
// transfer encoding needed to decode the fetched bytes.
type Structure struct {
	Type     string            // "text", "multipart", "image", ...
	Subtype  string            // "plain", "html", "alternative", "mixed", ...
	Params   map[string]string // content-type parameters (charset etc.)
	Encoding string            // transfer encoding; empty means already decoded
	Children []*Structure
}

// PartFetcher returns the raw (still transfer-encoded) bytes of the part at
// the given 1-based path. A nil or empty path addresses the whole body of a
// non-multipart message.
type PartFetcher func(path []int) ([]byte, error)

// Body is the extraction result.
type Body struct {
	Text   string
	Params map[string]string
	IsHTML bool
}

// Extractor walks part trees. The zero value is usable.
type Extractor struct {
	logger *log.Logger
}

// NewExtractor returns an extractor that logs diagnostics to the given
// logger; a nil logger silences them.
func NewExtractor(logger *log.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract locates the canonical plain-text body in the tree and returns it
// decoded to UTF-8. Multipart messages are searched depth-first for a
// "plain" part, recursing into "alternative" containers at any depth;
// attachments and other siblings are skipped. A message whose top-level
// subtype is literally "html" had no plain-text alternative at all and is
// flagged IsHTML.
func (e *Extractor) Extract(root *Structure, fetch PartFetcher) (*Body, error) {
	if root == nil || fetch == nil {
		return nil, ErrNoBody
	}

	part := root
	var path []int
	if len(root.Children) > 0 {
		found, foundPath := findPlainPart(root.Children, nil)
		if found == nil {
			return nil, ErrNoBody
		}
		part, path = found, foundPath
	}

	raw, err := fetch(path)
	if err != nil {
		return nil, fmt.Errorf("mimebody: fetch part %v: %w", path, err)
	}

	decoded, err := decodeTransferEncoding(raw, part.Encoding)
	if err != nil {
		e.logf("mimebody: transfer decode (%s) failed: %v", part.Encoding, err)
		decoded = raw
	}

	params := make(map[string]string, len(part.Params))
	for k, v := range part.Params {
		params[strings.ToLower(k)] = v
	}
	text := e.toUTF8(decoded, params["charset"])

	return &Body{
		Text:   text,
		Params: params,
		IsHTML: len(root.Children) == 0 && strings.EqualFold(root.Subtype, "html"),
	}, nil
}

// findPlainPart searches siblings for the first "plain" leaf, recursing
// into nested "alternative" containers. Paths are 1-based per IMAP part
// numbering.
func findPlainPart(parts []*Structure, prefix []int) (*Structure, []int) {
	for i, part := range parts {
		if part == nil {
			continue
		}
		path := append(append([]int(nil), prefix...), i+1)
		if len(part.Children) == 0 && strings.EqualFold(part.Subtype, "plain") {
			return part, path
		}
		if strings.EqualFold(part.Subtype, "alternative") {
			if found, foundPath := findPlainPart(part.Children, path); found != nil {
				return found, foundPath
			}
		}
	}
	return nil, nil
}

func decodeTransferEncoding(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
	case "base64":
		cleaned := bytes.Map(func(r rune) rune {
			if r == '\r' || r == '\n' {
				return -1
			}
			return r
		}, raw)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
		n, err := base64.StdEncoding.Decode(out, cleaned)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	default:
		// 7bit, 8bit, binary, or already decoded
		return raw, nil
	}
}

// toUTF8 transcodes the body when a non-UTF-8 charset is declared.
// Transcoding failure is non-fatal; the undecoded bytes are kept.
func (e *Extractor) toUTF8(raw []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		e.logf("mimebody: unknown charset %q, keeping raw bytes", charset)
		return string(raw)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		e.logf("mimebody: transcode from %q failed: %v", charset, err)
		return string(raw)
	}
	return string(out)
}

func (e *Extractor) logf(format string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}
