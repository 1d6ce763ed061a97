// Package content normalizes rich-text document bodies: sanitization at
// the persistence boundary, plain-text extraction, detection of bodies
// that are empty in every way that matters, and the degradation path
// from plain text back to markup.
package content

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
)

var sanitizePolicy = bluemonday.UGCPolicy()

// Sanitize strips unsafe markup from a document body. Applied once where
// bodies enter the system (remote fetches and editor change events), not
// at every call site.
func Sanitize(body string) string {
	return sanitizePolicy.Sanitize(body)
}

// ExtractText returns the text content of an HTML fragment, with element
// boundaries collapsed to single spaces.
func ExtractText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	root, err := xhtml.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}

var (
	tagAttrs   = regexp.MustCompile(`<([a-zA-Z]+)[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
	blankLines = regexp.MustCompile(`\n\s*\n`)
)

// Canonical markers editors emit for a document with no content: a bare
// empty paragraph or a paragraph holding only a line break, singular or
// doubled.
var emptyMarkers = map[string]struct{}{
	"":                       {},
	"<p></p>":                {},
	"<p><br></p>":            {},
	"<p></p><p></p>":         {},
	"<p><br></p><p><br></p>": {},
}

// IsEmptyHTML reports whether a body is meaningfully empty: blank after
// whitespace and &nbsp; normalization, a canonical empty marker, or tags
// only with no extractable text.
func IsEmptyHTML(body string) bool {
	normalized := strings.ToLower(body)
	normalized = strings.ReplaceAll(normalized, "&nbsp;", "")
	if whitespace.ReplaceAllString(normalized, "") == "" {
		return true
	}
	canonical := tagAttrs.ReplaceAllString(normalized, "<$1>")
	canonical = whitespace.ReplaceAllString(canonical, "")
	if _, ok := emptyMarkers[canonical]; ok {
		return true
	}
	return strings.TrimSpace(ExtractText(body)) == ""
}

// IsMeaningfullyEmpty reports whether a snapshot carries no content by
// both its body and its plain text. This is the guard condition for the
// empty-save refusal and for rehydration eligibility.
func IsMeaningfullyEmpty(body, text string) bool {
	return IsEmptyHTML(body) && strings.TrimSpace(text) == ""
}

// HTMLFromText synthesizes a body from plain text: runs separated by
// blank lines become paragraphs, single newlines within a run become
// line breaks. Text is escaped; the result is safe to hand back to the
// editing surface.
func HTMLFromText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	paragraphs := blankLines.Split(normalized, -1)
	var b strings.Builder
	for _, para := range paragraphs {
		para = strings.Trim(para, "\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		b.WriteString("<p>")
		for i, line := range lines {
			if i > 0 {
				b.WriteString("<br>")
			}
			b.WriteString(html.EscapeString(line))
		}
		b.WriteString("</p>")
	}
	return b.String()
}
