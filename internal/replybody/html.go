package replybody

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy()

	brTagRe      = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseRe = regexp.MustCompile(`(?i)</(p|div|blockquote|li|h[1-6]|tr)>`)
	manyBlankRe  = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText normalizes an HTML-only body to plain text: structural tags
// become line breaks, everything else is stripped, entities are unescaped.
func HTMLToText(body string) string {
	body = brTagRe.ReplaceAllString(body, "\n")
	body = blockCloseRe.ReplaceAllString(body, "\n")
	body = stripPolicy.Sanitize(body)
	body = html.UnescapeString(body)
	body = strings.ReplaceAll(body, "\u00a0", " ")
	body = manyBlankRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}
