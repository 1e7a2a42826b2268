package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/claimbridge/pkg/logging"
)

// ErrNotInitialized is returned before Initialize succeeds.
var ErrNotInitialized = errors.New("browser session not initialized")

// SessionManager owns the browser and its tabs.
type SessionManager struct {
	mu         sync.RWMutex
	opts       Options
	playwright *playwright.Playwright
	browser    playwright.Browser
	context    playwright.BrowserContext
	tabs       map[int]*Tab
	nextID     int
	logger     *logging.Logger
}

// NewSessionManager creates a manager; call Initialize before opening tabs.
func NewSessionManager(opts Options, logger *logging.Logger) *SessionManager {
	if logger == nil {
		logger = logging.Discard("browser")
	}
	return &SessionManager{
		opts:   opts.withDefaults(),
		tabs:   make(map[int]*Tab),
		nextID: 1,
		logger: logger,
	}
}

// Initialize starts Playwright and launches Chromium.
func (m *SessionManager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		return nil
	}

	// Driver output goes to the log file, never the terminal.
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   m.logger.Writer(),
	}

	if !m.opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to create context: %w", err)
	}

	m.playwright = pw
	m.browser = browser
	m.context = bctx
	m.logger.Infof("chromium launched (headless=%t)", m.opts.Headless)
	return nil
}

// OpenTab creates a page and navigates it to url.
func (m *SessionManager) OpenTab(ctx context.Context, url string) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.context == nil {
		return nil, ErrNotInitialized
	}
	if len(m.tabs) >= m.opts.MaxTabs {
		return nil, fmt.Errorf("maximum number of tabs (%d) reached", m.opts.MaxTabs)
	}

	page, err := m.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(m.opts.Timeout)

	tab := &Tab{ID: m.nextID, Page: page, OpenedAt: time.Now()}
	if url != "" {
		if err := tab.Navigate(ctx, url); err != nil {
			_ = page.Close()
			return nil, err
		}
	}

	m.tabs[tab.ID] = tab
	m.nextID++
	m.logger.Infof("tab %d opened at %s", tab.ID, page.URL())
	return tab, nil
}

// GetTab retrieves an open tab.
func (m *SessionManager) GetTab(id int) (*Tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tab, exists := m.tabs[id]
	if !exists {
		return nil, fmt.Errorf("tab %d not found", id)
	}
	return tab, nil
}

// ListTabs returns information about all open tabs, ordered by id.
func (m *SessionManager) ListTabs() []TabInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]TabInfo, 0, len(m.tabs))
	for _, tab := range m.tabs {
		infos = append(infos, TabInfo{ID: tab.ID, CurrentURL: tab.Page.URL(), OpenedAt: tab.OpenedAt})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// CloseTab closes and forgets a tab.
func (m *SessionManager) CloseTab(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tab, exists := m.tabs[id]
	if !exists {
		return fmt.Errorf("tab %d not found", id)
	}
	delete(m.tabs, id)

	if err := tab.Page.Close(); err != nil {
		return fmt.Errorf("close tab %d: %w", id, err)
	}
	return nil
}

// Shutdown closes every tab, the browser and Playwright.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, tab := range m.tabs {
		if err := tab.Page.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.tabs, id)
	}

	if m.context != nil {
		if err := m.context.Close(); err != nil {
			errs = append(errs, err)
		}
		m.context = nil
	}
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		m.browser = nil
	}
	if m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		m.playwright = nil
	}

	return errors.Join(errs...)
}
