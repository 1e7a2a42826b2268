// Package browser runs the automated tabs in a Playwright-driven Chromium.
//
// A SessionManager owns one browser and one context. Each Tab is a page in
// that context with a positive tab id, and adapts the Playwright page and
// its element handles to the probe interfaces so the orchestrator never
// sees Playwright types.
//
// # Lifecycle
//
//  1. Initialize installs the driver if needed and launches Chromium
//  2. OpenTab creates a page and navigates it to the start URL
//  3. CloseTab closes one page; Shutdown closes everything and stops Playwright
package browser
