// Package probetest provides an in-memory document implementing the probe
// interfaces, for tests that drive page automation without a browser.
package probetest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/entrhq/claimbridge/pkg/probe"
)

// Node is a fake DOM element. Build trees with El and Text.
type Node struct {
	Tag      string
	Attrs    map[string]string
	Own      string
	Children []*Node

	// ClickErr makes Click fail, forcing the synthetic-event fallback.
	ClickErr error
	// OnClick runs after a successful direct or synthetic click.
	OnClick func()

	mu     sync.Mutex
	value  string
	files  []probe.File
	events []string
	clicks int
}

// El creates an element. attrs is a flat key, value list.
func El(tag string, attrs []string, children ...*Node) *Node {
	n := &Node{Tag: tag, Attrs: map[string]string{}, Children: children}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attrs[attrs[i]] = attrs[i+1]
	}
	return n
}

// Text creates an element carrying only text.
func Text(tag, text string, attrs ...string) *Node {
	n := El(tag, attrs)
	n.Own = text
	return n
}

// QueryAll implements probe.Container.
func (n *Node) QueryAll(selector string) ([]probe.Element, error) {
	sels, err := parseSelectors(selector)
	if err != nil {
		return nil, err
	}
	var out []probe.Element
	n.walk(func(d *Node) {
		for _, s := range sels {
			if s.matches(d) {
				out = append(out, d)
				return
			}
		}
	})
	return out, nil
}

func (n *Node) walk(fn func(*Node)) {
	for _, c := range n.Children {
		fn(c)
		c.walk(fn)
	}
}

// Text implements probe.Element.
func (n *Node) Text() (string, error) {
	parts := []string{n.Own}
	for _, c := range n.Children {
		t, _ := c.Text()
		parts = append(parts, t)
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// Attribute implements probe.Element.
func (n *Node) Attribute(name string) (string, error) {
	return n.Attrs[name], nil
}

// Click implements probe.Element.
func (n *Node) Click() error {
	if n.ClickErr != nil {
		return n.ClickErr
	}
	n.mu.Lock()
	n.clicks++
	n.mu.Unlock()
	if n.OnClick != nil {
		n.OnClick()
	}
	return nil
}

// DispatchEvent implements probe.Element.
func (n *Node) DispatchEvent(eventType string) error {
	n.mu.Lock()
	n.events = append(n.events, eventType)
	n.mu.Unlock()
	if eventType == "click" && n.OnClick != nil {
		n.OnClick()
	}
	return nil
}

// SetValue implements probe.Element.
func (n *Node) SetValue(value string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value = value
	return nil
}

// AppendValue implements probe.Element.
func (n *Node) AppendValue(chunk string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value += chunk
	return nil
}

// SetFiles implements probe.Element.
func (n *Node) SetFiles(files []probe.File) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.files = append([]probe.File(nil), files...)
	return nil
}

// Value returns the current field value.
func (n *Node) Value() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// Files returns the files attached to the node.
func (n *Node) Files() []probe.File {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]probe.File(nil), n.files...)
}

// Events returns the event types dispatched on the node, in order.
func (n *Node) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// Clicks returns the number of successful direct clicks.
func (n *Node) Clicks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clicks
}

// Activated reports whether the node was clicked by either path.
func (n *Node) Activated() bool {
	if n.Clicks() > 0 {
		return true
	}
	for _, e := range n.Events() {
		if e == "click" {
			return true
		}
	}
	return false
}

// Render serialises the subtree as HTML.
func (n *Node) Render() string {
	var sb strings.Builder
	n.render(&sb)
	return sb.String()
}

func (n *Node) render(sb *strings.Builder) {
	fmt.Fprintf(sb, "<%s", n.Tag)
	for k, v := range n.Attrs {
		fmt.Fprintf(sb, " %s=%q", k, html.EscapeString(v))
	}
	sb.WriteString(">")
	sb.WriteString(html.EscapeString(n.Own))
	for _, c := range n.Children {
		c.render(sb)
	}
	fmt.Fprintf(sb, "</%s>", n.Tag)
}

// Page is a fake tab document whose body can be swapped on navigation.
type Page struct {
	mu          sync.Mutex
	url         string
	body        *Node
	navigations []string

	// Routes maps a URL to the body shown after navigating to it.
	Routes map[string]*Node
}

// NewPage creates a page at url showing body.
func NewPage(url string, body *Node) *Page {
	return &Page{url: url, body: body, Routes: map[string]*Node{}}
}

// QueryAll implements probe.Container.
func (p *Page) QueryAll(selector string) ([]probe.Element, error) {
	return p.Body().QueryAll(selector)
}

// URL implements probe.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Navigate implements probe.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.navigations = append(p.navigations, url)
	if body, ok := p.Routes[url]; ok {
		p.body = body
	} else {
		p.body = El("body", nil)
	}
	return nil
}

// SetURL changes the address without recording a navigation, as a
// client-side redirect would.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Content implements probe.Page.
func (p *Page) Content() (string, error) {
	return "<html>" + p.Body().Render() + "</html>", nil
}

// Body returns the current document body.
func (p *Page) Body() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body
}

// Navigations returns every URL passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// selector is one compound selector: tag, #id and [attr="value"] parts.
type selector struct {
	tag   string
	attrs map[string]string
}

func (s selector) matches(n *Node) bool {
	if s.tag != "" && s.tag != "*" && !strings.EqualFold(s.tag, n.Tag) {
		return false
	}
	for k, v := range s.attrs {
		got, ok := n.Attrs[k]
		if !ok || (v != "" && got != v) {
			return false
		}
	}
	return true
}

var errUnsupportedSelector = errors.New("unsupported selector")

func parseSelectors(raw string) ([]selector, error) {
	var out []selector
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.ContainsAny(part, " >+~") {
			return nil, fmt.Errorf("%w: %q", errUnsupportedSelector, raw)
		}
		s, err := parseSelector(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseSelector(part string) (selector, error) {
	s := selector{attrs: map[string]string{}}
	i := strings.IndexAny(part, "#[")
	if i < 0 {
		s.tag = part
		return s, nil
	}
	s.tag = part[:i]
	rest := part[i:]

	for rest != "" {
		switch rest[0] {
		case '#':
			end := strings.IndexAny(rest[1:], "#[")
			if end < 0 {
				s.attrs["id"] = rest[1:]
				rest = ""
			} else {
				s.attrs["id"] = rest[1 : end+1]
				rest = rest[end+1:]
			}
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return s, fmt.Errorf("%w: %q", errUnsupportedSelector, part)
			}
			key, value, _ := strings.Cut(rest[1:end], "=")
			s.attrs[key] = strings.Trim(value, `"'`)
			rest = rest[end+1:]
		default:
			return s, fmt.Errorf("%w: %q", errUnsupportedSelector, part)
		}
	}
	return s, nil
}
