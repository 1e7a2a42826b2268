// Package probe isolates every guess about the automated page's markup
// behind small lookups and interactions. Lookups never fail: a missing
// element is reported as absent and the caller decides what to log.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Container is anything elements can be looked up in.
type Container interface {
	// QueryAll returns every element matching a CSS selector, in document order.
	QueryAll(selector string) ([]Element, error)
}

// Element is one node of the automated document.
type Element interface {
	Container

	Text() (string, error)
	// Attribute returns "" when the attribute is absent.
	Attribute(name string) (string, error)
	Click() error
	// DispatchEvent fires a bubbling DOM event of the given type.
	DispatchEvent(eventType string) error
	SetValue(value string) error
	AppendValue(chunk string) error
	SetFiles(files []File) error
}

// Page is the document of one tab.
type Page interface {
	Container

	URL() string
	Navigate(ctx context.Context, url string) error
	Content() (string, error)
}

// File is an in-memory upload for a file input.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// ErrNotFileInput is returned by AttachFile for anything but <input type=file>.
var ErrNotFileInput = errors.New("element is not a file input")

// normalizeText collapses runs of whitespace so markup indentation does not
// affect matching.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// containsText reports whether el's text contains fragment.
func containsText(el Element, fragment string) bool {
	text, err := el.Text()
	if err != nil {
		return false
	}
	return strings.Contains(normalizeText(text), normalizeText(fragment))
}

// FindByText returns the first tag element in c whose text contains fragment.
func FindByText(c Container, tag, fragment string) (Element, bool) {
	if c == nil {
		return nil, false
	}
	elements, err := c.QueryAll(tag)
	if err != nil {
		return nil, false
	}
	for _, el := range elements {
		if containsText(el, fragment) {
			return el, true
		}
	}
	return nil, false
}

// FindByTextAny tries each tag in order and returns the first match.
func FindByTextAny(c Container, tags []string, fragment string) (Element, bool) {
	for _, tag := range tags {
		if el, ok := FindByText(c, tag, fragment); ok {
			return el, true
		}
	}
	return nil, false
}

// FindControlByLabel locates the form control associated with the label
// whose text contains labelText: the element named by the label's "for"
// attribute, else the first control nested inside the label.
func FindControlByLabel(c Container, labelText string) (Element, bool) {
	label, ok := FindByText(c, "label", labelText)
	if !ok {
		return nil, false
	}

	if id, err := label.Attribute("for"); err == nil && id != "" {
		if el, ok := first(c, fmt.Sprintf("[id=%q]", id)); ok {
			return el, true
		}
	}

	return first(label, "input, select, textarea")
}

// First returns the first element in c matching selector.
func First(c Container, selector string) (Element, bool) {
	return first(c, selector)
}

func first(c Container, selector string) (Element, bool) {
	if c == nil {
		return nil, false
	}
	elements, err := c.QueryAll(selector)
	if err != nil || len(elements) == 0 {
		return nil, false
	}
	return elements[0], true
}

// Click activates el directly and falls back to a synthetic click event.
func Click(el Element) error {
	directErr := el.Click()
	if directErr == nil {
		return nil
	}
	if err := el.DispatchEvent("click"); err != nil {
		return fmt.Errorf("click failed: %v; synthetic click failed: %w", directErr, err)
	}
	return nil
}

// AttachFile sets file as the selection of a file input.
func AttachFile(el Element, file File) error {
	if el == nil {
		return fmt.Errorf("attach %s: %w", file.Name, ErrNotFileInput)
	}
	kind, err := el.Attribute("type")
	if err != nil {
		return fmt.Errorf("read input type: %w", err)
	}
	if !strings.EqualFold(kind, "file") {
		return fmt.Errorf("attach %s to type=%q: %w", file.Name, kind, ErrNotFileInput)
	}
	if err := el.SetFiles([]File{file}); err != nil {
		return fmt.Errorf("attach %s: %w", file.Name, err)
	}
	if err := el.DispatchEvent("change"); err != nil {
		return fmt.Errorf("change event: %w", err)
	}
	return nil
}
