package config

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

const (
	// SectionIDSave is the identifier for the submission save section
	SectionIDSave = "save"

	defaultSaveEndpoint    = "http://localhost:8000/api/submissions"
	defaultMaxAttempts     = 5
	defaultRequestTimeout  = 15 * time.Second
	maxConfigurableRetries = 10
)

// defaultRetryDelays is the attempt-indexed wait before each save attempt.
func defaultRetryDelays() []time.Duration {
	return []time.Duration{0, 1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
}

// SaveSection configures where finished submissions are persisted.
type SaveSection struct {
	Endpoint       string          `json:"endpoint"`
	AccessToken    string          `json:"access_token"`
	MaxAttempts    int             `json:"max_attempts"`
	RetryDelays    []time.Duration `json:"retry_delays"`
	RequestTimeout time.Duration   `json:"request_timeout"`

	mu sync.RWMutex
}

// NewSaveSection creates a save section with default settings.
func NewSaveSection() *SaveSection {
	return &SaveSection{
		Endpoint:       defaultSaveEndpoint,
		MaxAttempts:    defaultMaxAttempts,
		RetryDelays:    defaultRetryDelays(),
		RequestTimeout: defaultRequestTimeout,
	}
}

// ID returns the section identifier.
func (s *SaveSection) ID() string {
	return SectionIDSave
}

// Title returns the section title.
func (s *SaveSection) Title() string {
	return "Submission Save"
}

// Description returns the section description.
func (s *SaveSection) Description() string {
	return "Configure the backend submission endpoint, its access token and the retry schedule."
}

// Data returns the current configuration data.
func (s *SaveSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delays := make([]interface{}, len(s.RetryDelays))
	for i, d := range s.RetryDelays {
		delays[i] = d.String()
	}

	return map[string]interface{}{
		"endpoint":        s.Endpoint,
		"access_token":    s.AccessToken,
		"max_attempts":    s.MaxAttempts,
		"retry_delays":    delays,
		"request_timeout": s.RequestTimeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *SaveSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "endpoint":
			s.Endpoint, err = parseString(key, value)
		case "access_token":
			s.AccessToken, err = parseString(key, value)
		case "max_attempts":
			s.MaxAttempts, err = parseInt(key, value)
		case "request_timeout":
			s.RequestTimeout, err = parseDuration(key, value)
		case "retry_delays":
			s.RetryDelays, err = parseDelays(value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func parseDelays(value interface{}) ([]time.Duration, error) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid value type for retry_delays: expected array, got %T", value)
	}

	delays := make([]time.Duration, 0, len(items))
	for i, item := range items {
		d, err := parseDuration(fmt.Sprintf("retry_delays[%d]", i), item)
		if err != nil {
			return nil, err
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// Validate validates the current configuration.
func (s *SaveSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := url.Parse(s.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint must be an absolute URL, got %q", s.Endpoint)
	}
	if s.MaxAttempts < 1 || s.MaxAttempts > maxConfigurableRetries {
		return fmt.Errorf("max_attempts must be between 1 and %d, got %d", maxConfigurableRetries, s.MaxAttempts)
	}
	if len(s.RetryDelays) == 0 {
		return fmt.Errorf("retry_delays must not be empty")
	}
	for i, d := range s.RetryDelays {
		if d < 0 {
			return fmt.Errorf("retry_delays[%d] must not be negative, got %v", i, d)
		}
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", s.RequestTimeout)
	}

	return nil
}

// Reset resets the section to default configuration.
func (s *SaveSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Endpoint = defaultSaveEndpoint
	s.AccessToken = ""
	s.MaxAttempts = defaultMaxAttempts
	s.RetryDelays = defaultRetryDelays()
	s.RequestTimeout = defaultRequestTimeout
}

// GetEndpoint returns the submission endpoint URL.
func (s *SaveSection) GetEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Endpoint
}

// SetEndpoint sets the submission endpoint URL.
func (s *SaveSection) SetEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Endpoint = endpoint
}

// GetAccessToken returns the bearer token sent with each save.
func (s *SaveSection) GetAccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AccessToken
}

// SetAccessToken sets the bearer token sent with each save.
func (s *SaveSection) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AccessToken = token
}

// GetMaxAttempts returns the default number of save attempts.
func (s *SaveSection) GetMaxAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxAttempts
}

// GetRetryDelays returns a copy of the retry schedule.
func (s *SaveSection) GetRetryDelays() []time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]time.Duration(nil), s.RetryDelays...)
}

// GetRequestTimeout returns the per-attempt HTTP timeout.
func (s *SaveSection) GetRequestTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RequestTimeout
}
