package replybody

import "strings"

// Heuristic locates a signature start inside a body. Match returns the
// byte offset where the signature begins, or -1.
type Heuristic struct {
	ID    string
	Match func(lines []line) int
}

type line struct {
	text  string // content without the terminator
	eol   string // "\n", "\r\n", or "" on the last line
	start int    // byte offset of the line within the body
}

func splitLines(body string) []line {
	var lines []line
	start := 0
	for start <= len(body) {
		idx := strings.IndexByte(body[start:], '\n')
		if idx < 0 {
			if start < len(body) {
				lines = append(lines, line{text: body[start:], start: start})
			}
			break
		}
		end := start + idx
		text := body[start:end]
		eol := "\n"
		if strings.HasSuffix(text, "\r") {
			text = text[:len(text)-1]
			eol = "\r\n"
		}
		lines = append(lines, line{text: text, eol: eol, start: start})
		start = end + 1
	}
	return lines
}

// DefaultHeuristics returns the signature patterns in their fixed order.
// The first heuristic that matches anywhere truncates the body.
func DefaultHeuristics() []Heuristic {
	return []Heuristic{
		{ID: "dash_dash_crlf", Match: matchDashDash},
		{ID: "sent_from_my", Match: matchSentFromMy},
		{ID: "dash_rule", Match: matchRunOf('-', 20)},
		{ID: "underscore_rule", Match: matchRunOf('_', 20)},
		{ID: "original_message", Match: matchOriginalMessage},
		{ID: "wrote_dashes", Match: matchWroteDashes},
		{ID: "wrote_colon_block", Match: matchWroteColonBlock},
	}
}

// StripSignature truncates body at the first offset any heuristic matches.
// Heuristics are tried in order; an unmatched body is returned unmodified.
func StripSignature(body string, heuristics ...Heuristic) string {
	lines := splitLines(body)
	if len(lines) == 0 {
		return body
	}
	for _, h := range heuristics {
		if h.Match == nil {
			continue
		}
		if offset := h.Match(lines); offset >= 0 && offset <= len(body) {
			return body[:offset]
		}
	}
	return body
}

func matchDashDash(lines []line) int {
	for _, l := range lines {
		if l.text == "--" && l.eol == "\r\n" {
			return l.start
		}
	}
	return -1
}

func matchSentFromMy(lines []line) int {
	for _, l := range lines {
		if strings.HasPrefix(l.text, "Sent from my ") {
			return l.start
		}
	}
	return -1
}

func matchRunOf(ch byte, min int) func([]line) int {
	return func(lines []line) int {
		for _, l := range lines {
			t := strings.TrimSpace(l.text)
			if len(t) >= min && strings.Count(t, string(ch)) == len(t) {
				return l.start
			}
		}
		return -1
	}
}

func matchOriginalMessage(lines []line) int {
	for _, l := range lines {
		if strings.TrimSpace(l.text) == "-----Original Message-----" {
			return l.start
		}
	}
	return -1
}

// matchWroteDashes catches "On <date>, <name> wrote: -----" style quote
// headers folded onto a dashed line.
func matchWroteDashes(lines []line) int {
	for _, l := range lines {
		if strings.Contains(l.text, "-----") && strings.Contains(l.text, ": -----") {
			return l.start
		}
	}
	return -1
}

// matchWroteColonBlock is the fallback for multi-line "so-and-so wrote:"
// headers: when the last non-empty line ends with a colon, that line and
// any immediately preceding lines of non-decreasing length are treated as
// the quote header. Best effort; only the documented cases are pinned.
func matchWroteColonBlock(lines []line) int {
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last].text) == "" {
		last--
	}
	if last < 0 || !strings.HasSuffix(strings.TrimRight(lines[last].text, " \t"), ":") {
		return -1
	}
	first := last
	for first > 0 {
		prev := lines[first-1]
		if strings.TrimSpace(prev.text) == "" || len(prev.text) > len(lines[first].text) {
			break
		}
		first--
	}
	return lines[first].start
}
