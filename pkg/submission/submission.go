// Package submission durably records finished claim submissions in the backend.
//
// Save makes a bounded number of POST attempts with a fixed, attempt-indexed
// delay schedule. A 2xx response ends the loop; anything else is logged and
// retried. Exhausting every attempt yields RequiresManual, which callers
// surface as "please complete this step manually".
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/entrhq/claimbridge/pkg/config"
	"github.com/entrhq/claimbridge/pkg/logging"
)

// DefaultSchedule is the wait before each attempt, indexed by attempt number.
// It has six slots so callers may ask for one more attempt than the default.
var DefaultSchedule = []time.Duration{
	0,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// DefaultMaxAttempts is used when Save is called with maxAttempts <= 0.
const DefaultMaxAttempts = 5

// Outcome classifies a single attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeHTTPFailure    Outcome = "http-failure"
	OutcomeNetworkFailure Outcome = "network-failure"
)

// Attempt records one try. It only lives for the duration of a Save call.
type Attempt struct {
	Index      int
	Delay      time.Duration
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Result is the terminal answer of Save.
type Result struct {
	Success        bool `json:"success"`
	RequiresManual bool `json:"requiresManual"`
}

// Record is the submission shape the content script sends. Save itself
// forwards whatever JSON it is given.
type Record struct {
	UserID            json.RawMessage `json:"user_id"`
	CaseID            json.RawMessage `json:"case_id"`
	ApplicationNumber string          `json:"application_number"`
	PageContent       string          `json:"page_content"`
	SubmittedAt       string          `json:"submitted_at"`
}

// Options configures a Service.
type Options struct {
	Endpoint    string
	AccessToken string

	// Schedule defaults to DefaultSchedule
	Schedule []time.Duration

	// Client defaults to an http.Client with a 15s timeout
	Client *http.Client

	// Sleep waits between attempts; tests replace it to observe the schedule
	Sleep func(ctx context.Context, d time.Duration) error

	// OnAttempt, when set, is called after every attempt
	OnAttempt func(Attempt)

	Logger *logging.Logger
}

// Service is the retry-save path.
type Service struct {
	endpoint    string
	accessToken string
	schedule    []time.Duration
	client      *http.Client
	sleep       func(ctx context.Context, d time.Duration) error
	onAttempt   func(Attempt)
	logger      *logging.Logger
}

// NewService creates a Service, filling unset options with defaults.
func NewService(opts Options) *Service {
	s := &Service{
		endpoint:    opts.Endpoint,
		accessToken: opts.AccessToken,
		schedule:    opts.Schedule,
		client:      opts.Client,
		sleep:       opts.Sleep,
		onAttempt:   opts.OnAttempt,
		logger:      opts.Logger,
	}

	if len(s.schedule) == 0 {
		s.schedule = DefaultSchedule
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 15 * time.Second}
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.logger == nil {
		s.logger = logging.Discard("submission")
	}

	return s
}

// NewServiceFromConfig builds a Service from the save section.
func NewServiceFromConfig(section *config.SaveSection, logger *logging.Logger) *Service {
	return NewService(Options{
		Endpoint:    section.GetEndpoint(),
		AccessToken: section.GetAccessToken(),
		Schedule:    section.GetRetryDelays(),
		Client:      &http.Client{Timeout: section.GetRequestTimeout()},
		Logger:      logger,
	})
}

// Schedule returns the configured delay schedule.
func (s *Service) Schedule() []time.Duration {
	return append([]time.Duration(nil), s.schedule...)
}

// DelayBefore returns the wait before attempt i. Attempts past the end of
// the schedule reuse its last slot.
func (s *Service) DelayBefore(i int) time.Duration {
	if i < len(s.schedule) {
		return s.schedule[i]
	}
	return s.schedule[len(s.schedule)-1]
}

// SaveOptions adjusts a single Save call.
type SaveOptions struct {
	MaxAttempts int
	// AccessToken, when set, is sent instead of the configured token
	AccessToken string
}

// Save posts data to the submission endpoint, retrying on failure. It
// never returns an error: the caller gets a plain success/manual record.
//
// Cancelling ctx stops the loop early and reports RequiresManual.
func (s *Service) Save(ctx context.Context, data json.RawMessage, maxAttempts int) Result {
	return s.SaveWith(ctx, data, SaveOptions{MaxAttempts: maxAttempts})
}

// SaveWith is Save with per-call options.
func (s *Service) SaveWith(ctx context.Context, data json.RawMessage, opts SaveOptions) Result {
	maxAttempts := opts.MaxAttempts
	token := opts.AccessToken
	if token == "" {
		token = s.accessToken
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for i := 0; i < maxAttempts; i++ {
		delay := s.DelayBefore(i)
		if delay > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				s.logger.Errorf("save interrupted before attempt %d: %v", i+1, err)
				return Result{Success: false, RequiresManual: true}
			}
		}

		attempt := s.attempt(ctx, i, delay, data, token)
		if s.onAttempt != nil {
			s.onAttempt(attempt)
		}

		switch attempt.Outcome {
		case OutcomeSuccess:
			s.logger.Infof("submission saved on attempt %d/%d", i+1, maxAttempts)
			return Result{Success: true, RequiresManual: false}
		case OutcomeHTTPFailure:
			s.logger.Warnf("save attempt %d/%d failed with HTTP %d", i+1, maxAttempts, attempt.StatusCode)
		default:
			s.logger.Warnf("save attempt %d/%d failed: %v", i+1, maxAttempts, attempt.Err)
		}
	}

	s.logger.Errorf("submission not saved after %d attempts, manual submission required", maxAttempts)
	return Result{Success: false, RequiresManual: true}
}

func (s *Service) attempt(ctx context.Context, index int, delay time.Duration, data json.RawMessage, token string) Attempt {
	a := Attempt{Index: index, Delay: delay}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		a.Outcome = OutcomeNetworkFailure
		a.Err = fmt.Errorf("failed to build request: %w", err)
		return a
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		a.Outcome = OutcomeNetworkFailure
		a.Err = err
		return a
	}
	defer resp.Body.Close()

	// The body is read for logging only; it never steers the loop.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	a.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a.Outcome = OutcomeSuccess
		s.logger.Debugf("save response: %s", bytes.TrimSpace(body))
		return a
	}

	a.Outcome = OutcomeHTTPFailure
	a.Err = fmt.Errorf("unexpected status %s", resp.Status)
	return a
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
