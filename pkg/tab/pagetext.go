package tab

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// DefaultPageTextLimit bounds the page_content field of a submission.
const DefaultPageTextLimit = 64 * 1024

// PageText is the visible text of a document.
type PageText struct {
	Title     string
	Text      string
	Truncated bool
}

// ExtractPageText returns the human-visible text of rawHTML, one block
// element per line, with scripts, styles and form values left out.
func ExtractPageText(rawHTML string, maxLength int) (*PageText, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if maxLength <= 0 {
		maxLength = DefaultPageTextLimit
	}

	w := &textWriter{max: maxLength}
	w.walk(doc)

	lines := strings.Split(w.sb.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}

	return &PageText{
		Title:     extractTitle(doc),
		Text:      strings.Join(kept, "\n"),
		Truncated: w.truncated,
	}, nil
}

type textWriter struct {
	sb        strings.Builder
	max       int
	written   int
	truncated bool
}

func (w *textWriter) walk(n *html.Node) {
	if w.truncated {
		return
	}

	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		w.write(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if isSkippedElement(tag) {
			return
		}
		if isBlockElement(tag) {
			w.sb.WriteString("\n")
			defer w.sb.WriteString("\n")
		} else {
			defer w.sb.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// write appends text with its whitespace collapsed. Only text counts
// towards the limit; separators do not.
func (w *textWriter) write(raw string) {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return
	}
	if strings.TrimLeftFunc(raw, unicode.IsSpace) != raw {
		w.sb.WriteString(" ")
	}

	remaining := w.max - w.written
	if len(text) > remaining {
		w.sb.WriteString(text[:remaining])
		w.written = w.max
		w.truncated = true
		return
	}
	w.sb.WriteString(text)
	w.written += len(text)

	if strings.TrimRightFunc(raw, unicode.IsSpace) != raw {
		w.sb.WriteString(" ")
	}
}

// isSkippedElement returns true for elements whose content is never shown
func isSkippedElement(tagName string) bool {
	switch tagName {
	case "head", "script", "style", "noscript", "template", "iframe", "embed", "object", "svg", "select", "textarea":
		return true
	}
	return false
}

// isBlockElement returns true for elements that start a new line
func isBlockElement(tagName string) bool {
	switch tagName {
	case "div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr",
		"form", "fieldset", "legend", "blockquote", "pre", "br", "hr", "dl", "dt", "dd", "label":
		return true
	}
	return false
}

// extractTitle extracts the page title from the document
func extractTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
			if title != "" {
				return
			}
		}
	}
	traverse(doc)
	return title
}
