package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// DefaultSnapshotLength bounds cleaned snapshot size in bytes.
const DefaultSnapshotLength = 40000

// CleanedSnapshot is a reduced HTML view of a page that keeps the structure
// and attributes useful for choosing selectors.
type CleanedSnapshot struct {
	HTML      string
	Title     string
	Truncated bool
}

// CleanSnapshot strips scripts, styles and noise from raw HTML and keeps
// targeting attributes. Output stops at maxLength bytes of content.
func CleanSnapshot(rawHTML string, maxLength int) (*CleanedSnapshot, error) {
	if maxLength <= 0 {
		maxLength = DefaultSnapshotLength
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{limit: maxLength}
	truncated := c.walk(doc, 0)

	return &CleanedSnapshot{
		HTML:      c.b.String(),
		Title:     findTitle(doc),
		Truncated: truncated,
	}, nil
}

type cleaner struct {
	b     strings.Builder
	n     int
	limit int
}

// walk writes n and its subtree; it returns true once the limit is hit.
func (c *cleaner) walk(n *html.Node, depth int) bool {
	if c.n >= c.limit {
		return true
	}

	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return false
	case html.TextNode:
		return c.text(n.Data)
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedTags[tag] || isHidden(n) {
			return false
		}
		return c.element(n, tag, depth)
	}

	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if c.walk(ch, depth) {
			return true
		}
	}
	return false
}

func (c *cleaner) text(raw string) bool {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return false
	}
	if c.n+len(text) > c.limit {
		text = text[:c.limit-c.n] + "..."
		c.b.WriteString(text)
		c.n = c.limit
		return true
	}
	c.b.WriteString(text)
	c.n += len(text)
	return false
}

func (c *cleaner) element(n *html.Node, tag string, depth int) bool {
	block := blockTags[tag]
	if depth > 0 && block {
		c.b.WriteString("\n")
		c.b.WriteString(strings.Repeat("  ", depth))
	}

	c.b.WriteString("<" + tag)
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if keepAttribute(tag, key) {
			fmt.Fprintf(&c.b, ` %s="%s"`, key, html.EscapeString(attr.Val))
		}
	}
	c.b.WriteString(">")
	c.n += len(tag) + 2

	truncated := false
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if c.walk(ch, depth+1) {
			truncated = true
			break
		}
	}

	if !voidTags[tag] {
		if block {
			c.b.WriteString("\n")
			c.b.WriteString(strings.Repeat("  ", depth))
		}
		c.b.WriteString("</" + tag + ">")
		c.n += len(tag) + 3
	}
	return truncated
}

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"embed": true, "object": true, "link": true, "meta": true, "head": true,
}

var blockTags = map[string]bool{
	"div": true, "p": true, "section": true, "article": true, "header": true,
	"footer": true, "nav": true, "main": true, "aside": true, "form": true,
	"fieldset": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"ul": true, "ol": true, "li": true, "table": true, "thead": true,
	"tbody": true, "tr": true, "dialog": true, "iframe": true,
}

var voidTags = map[string]bool{
	"area": true, "br": true, "col": true, "hr": true, "img": true,
	"input": true, "source": true, "track": true, "wbr": true,
}

func isHidden(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "hidden":
			return true
		case "type":
			if strings.EqualFold(attr.Val, "hidden") && n.Data == "input" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(attr.Val), " ", "")
			if strings.Contains(style, "display:none") {
				return true
			}
		}
	}
	return false
}

// keepAttribute reports whether an attribute helps build a selector.
func keepAttribute(tag, key string) bool {
	switch key {
	case "id", "class", "name", "role", "aria-label", "title":
		return true
	}
	if strings.HasPrefix(key, "data-") {
		return true
	}
	switch tag {
	case "a":
		return key == "href"
	case "input", "textarea", "select":
		return key == "type" || key == "placeholder" || key == "value"
	case "button":
		return key == "type" || key == "value"
	case "form":
		return key == "action" || key == "method"
	case "label":
		return key == "for"
	case "iframe":
		return key == "src"
	}
	return false
}

func findTitle(doc *html.Node) string {
	var title string
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return true
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if visit(ch) {
				return true
			}
		}
		return false
	}
	visit(doc)
	return title
}
