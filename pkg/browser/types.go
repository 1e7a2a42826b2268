package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// Defaults for sessions.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
	// DefaultTimeout is the Playwright operation timeout in milliseconds
	DefaultTimeout = 30000
	DefaultMaxTabs = 8
)

// Options configures the browser session.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// Timeout sets the default timeout for operations (in milliseconds)
	Timeout float64

	// MaxTabs bounds concurrently open tabs
	MaxTabs int

	// SkipInstall assumes the driver and browsers are already present
	SkipInstall bool
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

func (o Options) withDefaults() Options {
	if o.Viewport == nil {
		o.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxTabs <= 0 {
		o.MaxTabs = DefaultMaxTabs
	}
	return o
}

// Tab is one automated page.
type Tab struct {
	// ID is the tab id used on the message runtime
	ID int

	// Page is the Playwright page backing the tab
	Page playwright.Page

	// OpenedAt is when the tab was created
	OpenedAt time.Time
}

// TabInfo contains metadata about an open tab.
type TabInfo struct {
	ID         int
	CurrentURL string
	OpenedAt   time.Time
}
