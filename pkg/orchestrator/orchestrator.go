// Package orchestrator drives a portal through its login, contact-details
// and document-upload routes the way a person would, using only the probe
// lookups. Every missing element is logged and skipped, except the login
// form, whose absence aborts the run.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/entrhq/claimbridge/pkg/asset"
	"github.com/entrhq/claimbridge/pkg/logging"
	"github.com/entrhq/claimbridge/pkg/probe"
)

// Stage is one route's step sequence.
type Stage string

const (
	StageLogin          Stage = "login"
	StageContactDetails Stage = "contact-details"
	StageDocuments      Stage = "documents"
)

var clickableTags = []string{"button", "a", "input"}

// errAbort ends the run with a failed result.
var errAbort = errors.New("run aborted")

// Plan maps a route to the stages run for it. The contact-details stage
// follows login in the same run.
func Plan(state RouteState) []Stage {
	switch state.Kind {
	case RouteLogin:
		return []Stage{StageLogin, StageContactDetails}
	case RouteContactDetails:
		return []Stage{StageContactDetails}
	case RouteDocuments:
		return []Stage{StageDocuments}
	default:
		return nil
	}
}

// Options configures an Orchestrator.
type Options struct {
	// Payload supplies login values for fields with a payload_key
	Payload json.RawMessage
	// MaxPasses bounds how many routes one run may follow through
	// navigation. 1 runs only the route the page was on.
	MaxPasses int
	Sleep     probe.SleepFunc
	Logger    *logging.Logger
}

// Report describes a finished run.
type Report struct {
	// Completed is false when the run was aborted
	Completed bool
	Routes    []RouteKind
	Stages    []Stage
	Attached  bool
}

// Visited reports whether the run handled kind.
func (r Report) Visited(kind RouteKind) bool {
	for _, k := range r.Routes {
		if k == kind {
			return true
		}
	}
	return false
}

func (r Report) ran(stage Stage) bool {
	for _, s := range r.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Orchestrator runs a Script against one page.
type Orchestrator struct {
	page       probe.Page
	script     *Script
	classifier *Classifier
	payload    map[string]any
	opts       Options
	logger     *logging.Logger
}

// New creates an Orchestrator for page.
func New(page probe.Page, script *Script, opts Options) (*Orchestrator, error) {
	if script == nil {
		script = DefaultScript()
	}
	classifier, err := NewClassifier(script.Routes)
	if err != nil {
		return nil, err
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = probe.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard("orchestrator")
	}

	o := &Orchestrator{
		page:       page,
		script:     script,
		classifier: classifier,
		opts:       opts,
		logger:     opts.Logger,
	}
	if len(opts.Payload) > 0 {
		if err := json.Unmarshal(opts.Payload, &o.payload); err != nil {
			o.logger.Warnf("payload is not a JSON object, using demonstration values: %v", err)
		}
	}
	return o, nil
}

// Classify classifies the page's current address.
func (o *Orchestrator) Classify() RouteState {
	return o.classifier.Classify(Snapshot{URL: o.page.URL()})
}

// Run executes the flow and reports whether it completed.
func (o *Orchestrator) Run(ctx context.Context) bool {
	return o.Execute(ctx).Completed
}

// Execute classifies the page, runs the stages planned for its route and,
// while passes remain, follows the page into the next route.
func (o *Orchestrator) Execute(ctx context.Context) Report {
	var report Report

	for pass := 0; pass < o.opts.MaxPasses; pass++ {
		state := o.Classify()
		stages := Plan(state)
		if len(stages) == 0 {
			if pass == 0 {
				o.logger.Infof("no automation applies to %s", state.URL)
			}
			break
		}
		if report.ran(stages[0]) {
			o.logger.Debugf("%s stage already ran, stopping after pass %d", stages[0], pass)
			break
		}

		o.logger.Infof("pass %d: %s route (%s)", pass+1, state.Kind, state.URL)
		report.Routes = append(report.Routes, state.Kind)

		for _, stage := range stages {
			report.Stages = append(report.Stages, stage)
			if err := o.runStage(ctx, stage, &report); err != nil {
				if !errors.Is(err, errAbort) {
					o.logger.Warnf("%s stage stopped: %v", stage, err)
				}
				return report
			}
		}

		if state.Kind == RouteDocuments {
			break
		}
	}

	report.Completed = true
	return report
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, report *Report) error {
	switch stage {
	case StageLogin:
		return o.login(ctx)
	case StageContactDetails:
		return o.contactDetails(ctx)
	case StageDocuments:
		attached, err := o.documents(ctx)
		report.Attached = attached
		return err
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func (o *Orchestrator) login(ctx context.Context) error {
	s := o.script.Login
	if err := o.wait(ctx, o.script.Delays.Settle); err != nil {
		return err
	}

	form, ok := probe.FindByText(o.page, "form", s.FormPhrase)
	if !ok {
		o.logger.Errorf("login form containing %q not found, aborting", s.FormPhrase)
		return errAbort
	}

	typing := probe.TypingOptions{
		CharDelay:   o.script.Delays.CharDelay,
		SettleDelay: o.script.Delays.FieldSettle,
		Sleep:       o.opts.Sleep,
	}
	for _, field := range s.Fields {
		control, ok := probe.FindControlByLabel(form, field.Label)
		if !ok {
			o.logger.Warnf("login field %q not found", field.Label)
			continue
		}
		if err := probe.TypeText(ctx, control, o.fieldValue(field), typing); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warnf("typing into %q failed: %v", field.Label, err)
		}
	}

	if s.ConsentLabel != "" {
		if consent, ok := probe.FindControlByLabel(form, s.ConsentLabel); ok {
			o.click(consent, "consent checkbox")
		} else {
			o.logger.Warnf("consent checkbox %q not found", s.ConsentLabel)
		}
	}

	button, ok := probe.FindByTextAny(form, clickableTags, s.ButtonText)
	if !ok {
		// some portals render the submit control outside the form
		button, ok = probe.FindByTextAny(o.page, clickableTags, s.ButtonText)
	}
	if ok {
		o.click(button, "login button")
	} else {
		o.logger.Warnf("login button %q not found", s.ButtonText)
	}

	if err := o.wait(ctx, o.script.Delays.AfterLogin); err != nil {
		return err
	}

	if o.Classify().Kind != RouteContactDetails {
		o.navigate(ctx, s.ContactDetailsURL)
	}
	return ctx.Err()
}

func (o *Orchestrator) contactDetails(ctx context.Context) error {
	s := o.script.Contact
	if err := o.wait(ctx, o.script.Delays.Settle); err != nil {
		return err
	}

	if change, ok := probe.FindByTextAny(o.page, clickableTags, s.ChangeText); ok {
		o.click(change, "change contact details")
	} else {
		o.logger.Warnf("%q control not found", s.ChangeText)
	}
	if err := o.wait(ctx, o.script.Delays.Step); err != nil {
		return err
	}

	for _, phrase := range s.ConsentPhrases {
		if span, ok := probe.FindByText(o.page, "span", phrase); ok {
			o.click(span, "consent "+strconv.Quote(phrase))
		} else {
			o.logger.Warnf("consent option %q not found", phrase)
		}

		if next, ok := probe.FindByTextAny(o.page, clickableTags, s.NextText); ok {
			o.click(next, s.NextText)
		} else {
			o.logger.Warnf("%q control not found", s.NextText)
		}

		if err := o.wait(ctx, o.script.Delays.Step); err != nil {
			return err
		}
	}

	o.navigate(ctx, s.DocumentsURL)
	return ctx.Err()
}

func (o *Orchestrator) documents(ctx context.Context) (bool, error) {
	s := o.script.Documents
	if err := o.wait(ctx, o.script.Delays.Settle); err != nil {
		return false, err
	}

	if err := o.attach(s); err != nil {
		o.logger.Errorf("document attach failed: %v", err)
		return false, nil
	}
	o.logger.Infof("synthetic document attached to %s", s.InputSelector)
	return true, nil
}

func (o *Orchestrator) attach(s DocumentsScript) error {
	input, ok := probe.First(o.page, s.InputSelector)
	if !ok {
		return fmt.Errorf("no element matches %s", s.InputSelector)
	}

	file, err := asset.NewUploadFile(s.FileName, s.Format, s.MinBytes, s.MinSide, asset.Options{
		Logger: o.logger.Named("asset"),
	})
	if err != nil {
		return fmt.Errorf("generate upload: %w", err)
	}

	return probe.AttachFile(input, file)
}

func (o *Orchestrator) fieldValue(f Field) string {
	if f.PayloadKey == "" || o.payload == nil {
		return f.Value
	}
	switch v := o.payload[f.PayloadKey].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return f.Value
}

func (o *Orchestrator) click(el probe.Element, what string) {
	if err := probe.Click(el); err != nil {
		o.logger.Warnf("clicking %s failed: %v", what, err)
	}
}

// navigate resolves target against the current address and goes there.
func (o *Orchestrator) navigate(ctx context.Context, target string) {
	if target == "" {
		return
	}
	dest, err := resolveURL(o.page.URL(), target)
	if err != nil {
		o.logger.Warnf("cannot navigate to %q: %v", target, err)
		return
	}
	o.logger.Infof("navigating to %s", dest)
	if err := o.page.Navigate(ctx, dest); err != nil {
		o.logger.Warnf("navigation to %s failed: %v", dest, err)
	}
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	return o.opts.Sleep(ctx, d)
}

func resolveURL(base, target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}
