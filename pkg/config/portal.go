package config

import (
	"fmt"
	"net/url"
	"sync"
)

const (
	// SectionIDPortal is the identifier for the automated portal section
	SectionIDPortal = "portal"

	defaultPortalURL    = "https://portal.example.gov/login"
	defaultUploadFormat = "png"
	defaultMaxPasses    = 3
)

// PortalSection configures the browser that automates the third-party portal.
type PortalSection struct {
	// StartURL is where a new automation tab is opened
	StartURL string `json:"start_url"`

	// FlowFile optionally points at a YAML flow overriding built-in phrases and selectors
	FlowFile string `json:"flow_file"`

	Headless bool `json:"headless"`

	// UploadFormat is "png" or "pdf"
	UploadFormat string `json:"upload_format"`

	// MaxPasses bounds how many start-flow triggers one `run` issues
	MaxPasses int `json:"max_passes"`

	mu sync.RWMutex
}

// NewPortalSection creates a portal section with default settings.
func NewPortalSection() *PortalSection {
	return &PortalSection{
		StartURL:     defaultPortalURL,
		Headless:     true,
		UploadFormat: defaultUploadFormat,
		MaxPasses:    defaultMaxPasses,
	}
}

// ID returns the section identifier.
func (s *PortalSection) ID() string {
	return SectionIDPortal
}

// Title returns the section title.
func (s *PortalSection) Title() string {
	return "Portal Automation"
}

// Description returns the section description.
func (s *PortalSection) Description() string {
	return "Configure the portal start URL, browser mode, flow file and synthetic upload format."
}

// Data returns the current configuration data.
func (s *PortalSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"start_url":     s.StartURL,
		"flow_file":     s.FlowFile,
		"headless":      s.Headless,
		"upload_format": s.UploadFormat,
		"max_passes":    s.MaxPasses,
	}
}

// SetData updates the configuration from the provided data.
func (s *PortalSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "start_url":
			s.StartURL, err = parseString(key, value)
		case "flow_file":
			s.FlowFile, err = parseString(key, value)
		case "headless":
			s.Headless, err = parseBool(key, value)
		case "upload_format":
			s.UploadFormat, err = parseString(key, value)
		case "max_passes":
			s.MaxPasses, err = parseInt(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate validates the current configuration.
func (s *PortalSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := url.Parse(s.StartURL)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("start_url must be an absolute URL, got %q", s.StartURL)
	}
	if s.UploadFormat != "png" && s.UploadFormat != "pdf" {
		return fmt.Errorf("upload_format must be 'png' or 'pdf', got %q", s.UploadFormat)
	}
	if s.MaxPasses < 1 {
		return fmt.Errorf("max_passes must be at least 1, got %d", s.MaxPasses)
	}

	return nil
}

// Reset resets the section to default configuration.
func (s *PortalSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.StartURL = defaultPortalURL
	s.FlowFile = ""
	s.Headless = true
	s.UploadFormat = defaultUploadFormat
	s.MaxPasses = defaultMaxPasses
}

// Snapshot returns a copy of the current values without the lock.
func (s *PortalSection) Snapshot() PortalSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return PortalSettings{
		StartURL:     s.StartURL,
		FlowFile:     s.FlowFile,
		Headless:     s.Headless,
		UploadFormat: s.UploadFormat,
		MaxPasses:    s.MaxPasses,
	}
}

// PortalSettings is a lock-free copy of PortalSection.
type PortalSettings struct {
	StartURL     string
	FlowFile     string
	Headless     bool
	UploadFormat string
	MaxPasses    int
}
