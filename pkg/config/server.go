package config

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// SectionIDServer is the identifier for the HTTP transport section
	SectionIDServer = "server"

	defaultListenAddr      = "127.0.0.1:8787"
	defaultShutdownTimeout = 10 * time.Second
)

// ServerSection configures the HTTP/WebSocket transport in front of the router.
type ServerSection struct {
	ListenAddr      string        `json:"listen_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	mu sync.RWMutex
}

// NewServerSection creates a server section with default settings.
func NewServerSection() *ServerSection {
	return &ServerSection{
		ListenAddr:      defaultListenAddr,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// ID returns the section identifier.
func (s *ServerSection) ID() string {
	return SectionIDServer
}

// Title returns the section title.
func (s *ServerSection) Title() string {
	return "Transport"
}

// Description returns the section description.
func (s *ServerSection) Description() string {
	return "Configure the address the message transport listens on."
}

// Data returns the current configuration data.
func (s *ServerSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"listen_addr":      s.ListenAddr,
		"shutdown_timeout": s.ShutdownTimeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *ServerSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "listen_addr":
			s.ListenAddr, err = parseString(key, value)
		case "shutdown_timeout":
			s.ShutdownTimeout, err = parseDuration(key, value)
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
func (s *ServerSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr must be host:port, got %q: %w", s.ListenAddr, err)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", s.ShutdownTimeout)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ServerSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ListenAddr = defaultListenAddr
	s.ShutdownTimeout = defaultShutdownTimeout
}

// GetListenAddr returns the listen address.
func (s *ServerSection) GetListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ListenAddr
}

// GetShutdownTimeout returns the graceful shutdown budget.
func (s *ServerSection) GetShutdownTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ShutdownTimeout
}
