package replybody

import (
	"regexp"
	"strings"
)

var trailingQuoteRe = regexp.MustCompile(`(?m)[ \t]*>+[ \t]*$`)

// StripTrailingQuotes removes ">" quote characters left dangling at the
// end of lines by some mail clients when composing new content.
type StripTrailingQuotes struct{}

func (StripTrailingQuotes) ID() string { return "strip_trailing_quotes" }

func (StripTrailingQuotes) Process(body string, wasHTML bool) string {
	return trailingQuoteRe.ReplaceAllString(body, "")
}

// DeHardWrap merges hard-wrapped plain-text lines back into paragraphs: a
// line ending in ":" or followed by a line starting with "-", "*", or a
// space is merged with the line after it. HTML-sourced bodies are left
// alone since the HTML pass already decided line breaks.
type DeHardWrap struct{}

func (DeHardWrap) ID() string { return "de_hard_wrap" }

func (DeHardWrap) Process(body string, wasHTML bool) string {
	if wasHTML {
		return body
	}
	lines := strings.Split(body, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		cur := strings.TrimRight(lines[i], "\r")
		for i+1 < len(lines) {
			next := strings.TrimRight(lines[i+1], "\r")
			if next == "" || cur == "" {
				break
			}
			if !strings.HasSuffix(cur, ":") &&
				!strings.HasPrefix(next, "-") &&
				!strings.HasPrefix(next, "*") &&
				!strings.HasPrefix(next, " ") {
				break
			}
			cur = cur + " " + strings.TrimSpace(next)
			i++
		}
		out = append(out, cur)
	}
	return strings.Join(out, "\n")
}
