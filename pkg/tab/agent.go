// Package tab is the content-script side of a tab: it receives the pending
// payload from the background, runs the portal automation when asked and
// reports finished submissions for saving.
package tab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/claimbridge/pkg/logging"
	"github.com/entrhq/claimbridge/pkg/messaging"
	"github.com/entrhq/claimbridge/pkg/orchestrator"
	"github.com/entrhq/claimbridge/pkg/probe"
	"github.com/entrhq/claimbridge/pkg/submission"
)

// Bus is the part of the messaging runtime a content script needs.
type Bus interface {
	ListenTab(tabID int, h messaging.Handler) (func(), error)
	SendMessage(ctx context.Context, sender messaging.Sender, msg messaging.Message) (messaging.Response, error)
}

// Errors returned when a submission cannot be built.
var (
	ErrNoCaseID      = errors.New("payload has no case id")
	ErrNoAccessToken = errors.New("no access token available")
)

// Options configures an Agent.
type Options struct {
	Script    *orchestrator.Script
	MaxPasses int
	// AccessToken is used when the payload does not carry one
	AccessToken   string
	PageTextLimit int
	Sleep         probe.SleepFunc
	Now           func() time.Time
	Logger        *logging.Logger
}

// Agent is one tab's content script.
type Agent struct {
	tabID  int
	bus    Bus
	page   probe.Page
	opts   Options
	logger *logging.Logger

	mu      sync.Mutex
	payload json.RawMessage
	running bool
	last    *orchestrator.Report
	stop    func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an agent for tabID driving page.
func New(tabID int, bus Bus, page probe.Page, opts Options) *Agent {
	if opts.Script == nil {
		opts.Script = orchestrator.DefaultScript()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard("tab")
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Agent{
		tabID:  tabID,
		bus:    bus,
		page:   page,
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// TabID returns the agent's tab id.
func (a *Agent) TabID() int {
	return a.tabID
}

func (a *Agent) sender() messaging.Sender {
	return messaging.Sender{TabID: a.tabID, URL: a.page.URL()}
}

// Start registers the tab's listener and then announces the tab as ready,
// so a payload pushed in response always finds the listener in place.
func (a *Agent) Start(ctx context.Context) (messaging.Response, error) {
	stop, err := a.bus.ListenTab(a.tabID, a)
	if err != nil {
		return messaging.Response{}, fmt.Errorf("listen on tab %d: %w", a.tabID, err)
	}
	a.mu.Lock()
	a.stop = stop
	a.mu.Unlock()

	resp, err := a.bus.SendMessage(ctx, a.sender(), messaging.Message{Action: messaging.ActionContentReady})
	if err != nil {
		return messaging.Response{}, fmt.Errorf("content-ready: %w", err)
	}
	a.logger.Infof("tab %d ready: %s", a.tabID, resp.Message)
	return resp, nil
}

// RequestPayload asks the background to push the pending payload now.
func (a *Agent) RequestPayload(ctx context.Context) (bool, error) {
	resp, err := a.bus.SendMessage(ctx, a.sender(), messaging.Message{Action: messaging.ActionRequestPayload})
	if err != nil {
		return false, fmt.Errorf("request-payload: %w", err)
	}
	return resp.HasPayload != nil && *resp.HasPayload, nil
}

// Payload returns the last payload delivered to the tab.
func (a *Agent) Payload() json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.payload
}

// LastReport returns the report of the most recent finished run.
func (a *Agent) LastReport() (orchestrator.Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return orchestrator.Report{}, false
	}
	return *a.last, true
}

// HandleMessage implements messaging.Handler.
func (a *Agent) HandleMessage(ctx context.Context, msg messaging.Message, sender messaging.Sender) (messaging.Response, bool) {
	switch msg.Action {
	case messaging.ActionDeliverPayload:
		if len(msg.Payload) == 0 {
			return messaging.Failure("payload is required"), true
		}
		a.mu.Lock()
		a.payload = append(json.RawMessage(nil), msg.Payload...)
		a.mu.Unlock()
		a.logger.Infof("payload received (%d bytes)", len(msg.Payload))
		return messaging.OK("Payload received"), true

	case messaging.ActionStartFlow:
		if !a.StartFlow() {
			return messaging.Response{Success: true, Message: "flow already running", Started: messaging.Bool(false)}, true
		}
		return messaging.Response{Success: true, Started: messaging.Bool(true)}, true

	default:
		return messaging.Response{}, false
	}
}

// StartFlow runs the automation once in the background. It reports false
// when a run is already in progress.
func (a *Agent) StartFlow() bool {
	a.mu.Lock()
	if a.running || a.ctx.Err() != nil {
		a.mu.Unlock()
		return false
	}
	a.running = true
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		report := a.run(a.ctx)

		a.mu.Lock()
		a.running = false
		a.last = &report
		a.mu.Unlock()
	}()
	return true
}

// Wait blocks until in-flight runs have finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

func (a *Agent) run(ctx context.Context) orchestrator.Report {
	payload := a.Payload()

	o, err := orchestrator.New(a.page, a.opts.Script, orchestrator.Options{
		Payload:   payload,
		MaxPasses: a.opts.MaxPasses,
		Sleep:     a.opts.Sleep,
		Logger:    a.logger.Named("orchestrator"),
	})
	if err != nil {
		a.logger.Errorf("cannot start flow: %v", err)
		return orchestrator.Report{}
	}

	report := o.Execute(ctx)
	a.logger.Infof("flow finished: completed=%t routes=%v attached=%t", report.Completed, report.Routes, report.Attached)

	if report.Completed && report.Visited(orchestrator.RouteDocuments) {
		if err := a.Submit(ctx, payload); err != nil {
			a.logger.Errorf("submission not saved: %v", err)
		}
	}
	return report
}

// Submit sends the finished submission for this page to the background
// for saving.
func (a *Agent) Submit(ctx context.Context, payload json.RawMessage) error {
	record, token, err := a.buildRecord(payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	resp, err := a.bus.SendMessage(ctx, a.sender(), messaging.Message{
		Action:      messaging.ActionSaveSubmission,
		Data:        data,
		AccessToken: token,
	})
	if err != nil {
		return fmt.Errorf("save-submission: %w", err)
	}

	if !resp.Success {
		a.logger.Warnf("submission for case %s requires manual completion", record.CaseID)
		return nil
	}
	a.logger.Infof("submission for case %s saved", record.CaseID)
	return nil
}

// buildRecord also returns the token the save should be sent with: the
// payload's own, else the configured one.
func (a *Agent) buildRecord(payload json.RawMessage) (*submission.Record, string, error) {
	var fields map[string]json.RawMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, "", fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}

	caseID := lookup(fields, "case_id", "caseId")
	if caseID == nil {
		return nil, "", ErrNoCaseID
	}
	token := lookupString(fields, "access_token", "accessToken")
	if token == "" {
		token = a.opts.AccessToken
	}
	if token == "" {
		return nil, "", ErrNoAccessToken
	}

	var pageContent string
	if raw, err := a.page.Content(); err != nil {
		a.logger.Warnf("cannot read page content: %v", err)
	} else if text, err := ExtractPageText(raw, a.opts.PageTextLimit); err != nil {
		a.logger.Warnf("cannot extract page text: %v", err)
	} else {
		pageContent = text.Text
	}

	return &submission.Record{
		UserID:            lookup(fields, "user_id", "userId"),
		CaseID:            caseID,
		ApplicationNumber: lookupString(fields, "application_number", "applicationNumber"),
		PageContent:       pageContent,
		SubmittedAt:       a.opts.Now().UTC().Format(time.RFC3339),
	}, token, nil
}

// lookup returns the first present, non-empty value among keys.
func lookup(fields map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		switch strings.TrimSpace(string(v)) {
		case "", "null", `""`:
			continue
		}
		return v
	}
	return nil
}

// lookupString returns a value as text; numbers keep their JSON spelling.
func lookupString(fields map[string]json.RawMessage, keys ...string) string {
	v := lookup(fields, keys...)
	if v == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v))
}

// Close stops in-flight runs and unregisters the tab.
func (a *Agent) Close() {
	a.cancel()
	a.wg.Wait()

	a.mu.Lock()
	stop := a.stop
	a.stop = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
}
