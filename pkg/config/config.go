// Package config loads and persists claimbridge settings.
//
// Settings live in sections (router, save, portal, server) that a Manager
// moves to and from a JSON FileStore. A process initialises one global
// Manager at startup; environment variables override the stored values.
package config

import (
	"os"
	"strconv"
	"sync"
)

// Environment overrides applied by ApplyEnvironment.
const (
	EnvSaveEndpoint = "CLAIMBRIDGE_SAVE_ENDPOINT"
	EnvAccessToken  = "CLAIMBRIDGE_ACCESS_TOKEN"
	EnvPortalURL    = "CLAIMBRIDGE_PORTAL_URL"
	EnvHeadless     = "CLAIMBRIDGE_HEADLESS"
	EnvListenAddr   = "CLAIMBRIDGE_LISTEN_ADDR"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// NewDefaultManager builds a manager with every claimbridge section registered.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)

	sections := []Section{
		NewRouterSection(),
		NewSaveSection(),
		NewPortalSection(),
		NewServerSection(),
	}
	for _, section := range sections {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}
	ApplyEnvironment(manager)

	globalManager = manager
	return nil
}

// ApplyEnvironment copies CLAIMBRIDGE_* environment overrides into the manager's sections.
func ApplyEnvironment(m *Manager) {
	if section, ok := m.GetSection(SectionIDSave); ok {
		save := section.(*SaveSection)
		if v := os.Getenv(EnvSaveEndpoint); v != "" {
			save.SetEndpoint(v)
		}
		if v := os.Getenv(EnvAccessToken); v != "" {
			save.SetAccessToken(v)
		}
	}

	if section, ok := m.GetSection(SectionIDPortal); ok {
		portal := section.(*PortalSection)
		portal.mu.Lock()
		if v := os.Getenv(EnvPortalURL); v != "" {
			portal.StartURL = v
		}
		if v, err := strconv.ParseBool(os.Getenv(EnvHeadless)); err == nil {
			portal.Headless = v
		}
		portal.mu.Unlock()
	}

	if section, ok := m.GetSection(SectionIDServer); ok {
		server := section.(*ServerSection)
		if v := os.Getenv(EnvListenAddr); v != "" {
			server.mu.Lock()
			server.ListenAddr = v
			server.mu.Unlock()
		}
	}
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// GetRouter returns the router section from global config.
// Returns defaults if config is not initialized.
func GetRouter() *RouterSection {
	if s, ok := lookup(SectionIDRouter).(*RouterSection); ok {
		return s
	}
	return NewRouterSection()
}

// GetSave returns the save section from global config.
// Returns defaults if config is not initialized.
func GetSave() *SaveSection {
	if s, ok := lookup(SectionIDSave).(*SaveSection); ok {
		return s
	}
	return NewSaveSection()
}

// GetPortal returns the portal section from global config.
// Returns defaults if config is not initialized.
func GetPortal() *PortalSection {
	if s, ok := lookup(SectionIDPortal).(*PortalSection); ok {
		return s
	}
	return NewPortalSection()
}

// GetServer returns the server section from global config.
// Returns defaults if config is not initialized.
func GetServer() *ServerSection {
	if s, ok := lookup(SectionIDServer).(*ServerSection); ok {
		return s
	}
	return NewServerSection()
}

func lookup(id string) Section {
	if !IsInitialized() {
		return nil
	}
	section, ok := Global().GetSection(id)
	if !ok {
		return nil
	}
	return section
}
