package extract

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Document is the readable text of an HTML page.
type Document struct {
	Title string
	Text  string
}

// FromHTML returns the visible text of a registry page. Scripts, styles and
// consent banners are dropped; block elements become line breaks so marker
// phrases never run into neighbouring cells.
func FromHTML(input []byte) Document {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return Document{}
	}
	var doc Document
	if t := findFirst(node, "title"); t != nil && t.FirstChild != nil {
		doc.Title = strings.TrimSpace(t.FirstChild.Data)
	}
	root := findFirst(node, "body")
	if root == nil {
		root = node
	}
	var b strings.Builder
	collectText(&b, root)
	doc.Text = tidyLines(b.String())
	return doc
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		if isConsentBanner(n) {
			return
		}
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template", "iframe":
			return
		case "br":
			b.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(collapseSpace(n.Data))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
	if n.Type == html.ElementNode && isBlock(n.Data) {
		b.WriteString("\n")
	}
}

// collapseSpace folds whitespace runs, source newlines included, into single
// spaces so only br and block boundaries break lines.
func collapseSpace(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		if s != "" {
			return " "
		}
		return ""
	}
	out := strings.Join(words, " ")
	if r, _ := utf8.DecodeRuneInString(s); unicode.IsSpace(r) {
		out = " " + out
	}
	if r, _ := utf8.DecodeLastRuneInString(s); unicode.IsSpace(r) {
		out += " "
	}
	return out
}

func isBlock(tag string) bool {
	switch strings.ToLower(tag) {
	case "p", "div", "li", "tr", "td", "th", "table", "form", "section",
		"h1", "h2", "h3", "h4", "h5", "h6", "pre", "ul", "ol":
		return true
	}
	return false
}

// isConsentBanner reports whether the element looks like a cookie or consent
// overlay. The portal shows one on first visit.
func isConsentBanner(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "id", "class", "role", "aria-label":
		default:
			continue
		}
		val := strings.ToLower(attr.Val)
		if strings.Contains(val, "cookie") || strings.Contains(val, "consent") {
			return true
		}
	}
	return false
}

func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
