// Package rewrite transforms fetched HTML so it renders correctly inside a
// sandboxed embedding context that has no live network access of its own.
//
// The transforms operate on the parsed node tree, never on raw markup.
// Attribute values containing quotes, entities, or tag-like text therefore
// cannot corrupt the rewrite, and rewriting already-rewritten output is a
// no-op.
package rewrite

import (
	"fmt"
	stdhtml "html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/daedalos/fetchproxy/internal/proxy/errs"
)

// Config controls rewrite policy.
type Config struct {
	// KeepCSP leaves any embedded Content-Security-Policy meta tags in
	// place. The default strips them: the embedding frame's sandbox is the
	// isolation boundary, and a surviving origin CSP would block both the
	// injected bridge script and the rewritten absolute URLs.
	KeepCSP bool

	// StripScripts removes the document's own scripts and inline event
	// handlers before the bridge is injected.
	StripScripts bool

	// MaxTitleLength truncates the extracted title. Zero means the
	// reference limit of 140 characters.
	MaxTitleLength int
}

// Document is the safe-to-embed output of the pipeline.
type Document struct {
	HTML     string
	Title    string
	FinalURL string
}

// Rewriter applies the ordered transform sequence to fetched HTML.
type Rewriter struct {
	cfg      Config
	titlePol *bluemonday.Policy
}

// New creates a rewriter with the given policy.
func New(cfg Config) *Rewriter {
	if cfg.MaxTitleLength <= 0 {
		cfg.MaxTitleLength = 140
	}
	return &Rewriter{cfg: cfg, titlePol: bluemonday.StrictPolicy()}
}

// Rewrite runs the transform sequence against the document fetched from
// finalURL. It is a pure function of its inputs.
func (r *Rewriter) Rewrite(html string, finalURL string) (*Document, error) {
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamError, err, "invalid final URL")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamError, err, "failed to parse HTML")
	}

	if !r.cfg.KeepCSP {
		stripCSP(doc)
	}
	if r.cfg.StripScripts {
		stripScripts(doc)
	}

	Absolutize(doc, base)
	injectBase(doc, finalURL)
	title := r.extractTitle(doc)
	injectBridge(doc)

	out, err := doc.Html()
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamError, err, "failed to serialize HTML")
	}

	return &Document{HTML: out, Title: title, FinalURL: finalURL}, nil
}

// stripCSP removes embedded Content-Security-Policy declarations, both the
// http-equiv and name meta forms, matched case-insensitively.
func stripCSP(doc *goquery.Document) {
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		if strings.EqualFold(s.AttrOr("http-equiv", ""), "Content-Security-Policy") ||
			strings.EqualFold(s.AttrOr("name", ""), "Content-Security-Policy") {
			s.Remove()
		}
	})
}

// stripScripts removes script elements and inline on* handlers.
func stripScripts(doc *goquery.Document) {
	doc.Find("script").Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		var handlers []string
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				handlers = append(handlers, attr.Key)
			}
		}
		for _, key := range handlers {
			s.RemoveAttr(key)
		}
	})
}

// injectBase pins relative URL resolution to the final post-redirect URL by
// inserting a base tag as the first child of head. A document that already
// carries a base tag keeps it; there is never more than one.
func injectBase(doc *goquery.Document, finalURL string) {
	if doc.Find("base").Length() > 0 {
		return
	}
	doc.Find("head").First().PrependHtml(fmt.Sprintf(`<base href="%s">`, stdhtml.EscapeString(finalURL)))
}

// rewriteAttrs are the attributes carrying fetchable URLs.
var rewriteAttrs = [...]string{"href", "src", "action", "poster"}

// Absolutize rewrites link and asset attributes to absolute URLs resolved
// against base. The pass is idempotent: output that is run through it a
// second time comes back byte-identical.
func Absolutize(doc *goquery.Document, base *url.URL) {
	doc.Find("[href],[src],[action],[poster]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "base" {
			return
		}
		for _, attr := range rewriteAttrs {
			val, ok := s.Attr(attr)
			if !ok || val == "" {
				continue
			}
			if resolved, changed := resolveAttr(val, base); changed {
				s.SetAttr(attr, resolved)
			}
		}
	})
}

// resolveAttr returns the absolute form of an attribute value and whether
// it changed. Non-fetchable schemes and fragment references pass through.
func resolveAttr(val string, base *url.URL) (string, bool) {
	trimmed := strings.TrimSpace(val)
	lower := strings.ToLower(trimmed)

	for _, prefix := range []string{"data:", "mailto:", "tel:", "javascript:"} {
		if strings.HasPrefix(lower, prefix) {
			return val, false
		}
	}
	if strings.HasPrefix(trimmed, "#") {
		return val, false
	}
	if strings.HasPrefix(trimmed, "//") {
		return base.Scheme + ":" + trimmed, true
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return val, false
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return val, false
	}
	return base.ResolveReference(ref).String(), true
}
