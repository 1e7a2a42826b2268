package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDRouter is the identifier for the message router section
	SectionIDRouter = "router"

	defaultDeliveryDelay = 500 * time.Millisecond
	defaultFallbackClear = 30 * time.Second
	defaultFetchTimeout  = 30 * time.Second
	defaultFetchMaxBytes = 25 << 20
)

// RouterSection controls payload delivery timing and remote file fetching.
type RouterSection struct {
	// DeliveryDelay is how long a content-ready push waits for the tab's listener
	DeliveryDelay time.Duration `json:"delivery_delay"`

	// FallbackClear drops an undelivered payload after this window
	FallbackClear time.Duration `json:"fallback_clear"`

	FetchTimeout  time.Duration `json:"fetch_timeout"`
	FetchMaxBytes int           `json:"fetch_max_bytes"`

	mu sync.RWMutex
}

// NewRouterSection creates a router section with default settings.
func NewRouterSection() *RouterSection {
	return &RouterSection{
		DeliveryDelay: defaultDeliveryDelay,
		FallbackClear: defaultFallbackClear,
		FetchTimeout:  defaultFetchTimeout,
		FetchMaxBytes: defaultFetchMaxBytes,
	}
}

// ID returns the section identifier.
func (s *RouterSection) ID() string {
	return SectionIDRouter
}

// Title returns the section title.
func (s *RouterSection) Title() string {
	return "Message Router"
}

// Description returns the section description.
func (s *RouterSection) Description() string {
	return "Configure payload delivery delay, the fallback clear window and remote file fetch limits."
}

// Data returns the current configuration data.
func (s *RouterSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"delivery_delay":  s.DeliveryDelay.String(),
		"fallback_clear":  s.FallbackClear.String(),
		"fetch_timeout":   s.FetchTimeout.String(),
		"fetch_max_bytes": s.FetchMaxBytes,
	}
}

// SetData updates the configuration from the provided data.
func (s *RouterSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "delivery_delay":
			s.DeliveryDelay, err = parseDuration(key, value)
		case "fallback_clear":
			s.FallbackClear, err = parseDuration(key, value)
		case "fetch_timeout":
			s.FetchTimeout, err = parseDuration(key, value)
		case "fetch_max_bytes":
			s.FetchMaxBytes, err = parseInt(key, value)
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate validates the current configuration.
func (s *RouterSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.DeliveryDelay < 0 {
		return fmt.Errorf("delivery_delay must not be negative, got %v", s.DeliveryDelay)
	}
	// The fallback has to outlive the delayed push or it would race it.
	if s.FallbackClear <= s.DeliveryDelay {
		return fmt.Errorf("fallback_clear (%v) must be longer than delivery_delay (%v)", s.FallbackClear, s.DeliveryDelay)
	}
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %v", s.FetchTimeout)
	}
	if s.FetchMaxBytes <= 0 {
		return fmt.Errorf("fetch_max_bytes must be positive, got %d", s.FetchMaxBytes)
	}

	return nil
}

// Reset resets the section to default configuration.
func (s *RouterSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DeliveryDelay = defaultDeliveryDelay
	s.FallbackClear = defaultFallbackClear
	s.FetchTimeout = defaultFetchTimeout
	s.FetchMaxBytes = defaultFetchMaxBytes
}

// Timings returns (deliveryDelay, fallbackClear).
func (s *RouterSection) Timings() (time.Duration, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DeliveryDelay, s.FallbackClear
}

// FetchLimits returns (timeout, maxBytes) for remote file fetches.
func (s *RouterSection) FetchLimits() (time.Duration, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FetchTimeout, s.FetchMaxBytes
}
