package rewrite

import (
	stdhtml "html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var titleWhitespace = regexp.MustCompile(`\s+`)

// extractTitle pulls the first title element's text, collapses whitespace,
// and truncates to the configured limit. The text is additionally run
// through a strict sanitizer since it travels to the client as display
// text. A missing title yields an empty string, not an error.
func (r *Rewriter) extractTitle(doc *goquery.Document) string {
	title := doc.Find("title").First().Text()
	// Sanitize strips any markup smuggled into the title text; the entity
	// escaping it applies is undone since the result is plain text, not HTML.
	title = stdhtml.UnescapeString(r.titlePol.Sanitize(title))
	title = strings.TrimSpace(titleWhitespace.ReplaceAllString(title, " "))

	if runes := []rune(title); len(runes) > r.cfg.MaxTitleLength {
		title = string(runes[:r.cfg.MaxTitleLength])
	}
	return title
}
