package browser

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/claimbridge/pkg/probe"
)

// Tab implements probe.Page.
var _ probe.Page = (*Tab)(nil)

// URL returns the page address.
func (t *Tab) URL() string {
	return t.Page.URL()
}

// Navigate loads url and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Content returns the serialised document.
func (t *Tab) Content() (string, error) {
	return t.Page.Content()
}

// QueryAll implements probe.Container.
func (t *Tab) QueryAll(selector string) ([]probe.Element, error) {
	handles, err := t.Page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	return wrapElements(handles), nil
}

// element adapts a Playwright element handle to probe.Element.
type element struct {
	handle playwright.ElementHandle
}

func wrapElements(handles []playwright.ElementHandle) []probe.Element {
	out := make([]probe.Element, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			out = append(out, &element{handle: h})
		}
	}
	return out
}

func (e *element) QueryAll(selector string) ([]probe.Element, error) {
	handles, err := e.handle.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	return wrapElements(handles), nil
}

func (e *element) Text() (string, error) {
	return e.handle.TextContent()
}

func (e *element) Attribute(name string) (string, error) {
	return e.handle.GetAttribute(name)
}

func (e *element) Click() error {
	return e.handle.Click()
}

func (e *element) DispatchEvent(eventType string) error {
	return e.handle.DispatchEvent(eventType, map[string]interface{}{"bubbles": true})
}

// SetValue assigns the value property without firing events; TypeText
// fires its own.
func (e *element) SetValue(value string) error {
	_, err := e.handle.Evaluate("(el, v) => { el.value = v }", value)
	return err
}

func (e *element) AppendValue(chunk string) error {
	_, err := e.handle.Evaluate("(el, c) => { el.value += c }", chunk)
	return err
}

func (e *element) SetFiles(files []probe.File) error {
	inputs := make([]playwright.InputFile, 0, len(files))
	for _, f := range files {
		inputs = append(inputs, playwright.InputFile{Name: f.Name, MimeType: f.MimeType, Buffer: f.Data})
	}
	return e.handle.SetInputFiles(inputs)
}
