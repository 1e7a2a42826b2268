// Package router is the background context: it owns the single pending
// submission payload and answers every cross-context request.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/entrhq/claimbridge/pkg/config"
	"github.com/entrhq/claimbridge/pkg/logging"
	"github.com/entrhq/claimbridge/pkg/messaging"
	"github.com/entrhq/claimbridge/pkg/submission"
)

// TabMessenger pushes messages to a tab's content script.
type TabMessenger interface {
	SendToTab(ctx context.Context, tabID int, msg messaging.Message) (messaging.Response, error)
}

// Saver persists a finished submission.
type Saver interface {
	SaveWith(ctx context.Context, data json.RawMessage, opts submission.SaveOptions) submission.Result
}

// FileFetcher downloads a remote file.
type FileFetcher interface {
	Fetch(ctx context.Context, rawURL, filename string) (*messaging.File, error)
}

// Options holds the router's timing settings.
type Options struct {
	// DeliveryDelay lets a freshly loaded tab finish registering its listener
	DeliveryDelay time.Duration

	// FallbackClear drops a payload whose delivery was never confirmed
	FallbackClear time.Duration

	// SaveAttempts is passed to the Saver; <= 0 means the Saver's default
	SaveAttempts int
}

// OptionsFromConfig reads Options from the router and save sections.
func OptionsFromConfig(routerSection *config.RouterSection, saveSection *config.SaveSection) Options {
	delay, fallback := routerSection.Timings()
	return Options{
		DeliveryDelay: delay,
		FallbackClear: fallback,
		SaveAttempts:  saveSection.GetMaxAttempts(),
	}
}

// Router dispatches background messages.
type Router struct {
	store   *PayloadStore
	tabs    TabMessenger
	saver   Saver
	fetcher FileFetcher
	opts    Options
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Router. store may be shared with other readers, such as a
// status endpoint, but only the Router writes to it.
func New(store *PayloadStore, tabs TabMessenger, saver Saver, fetcher FileFetcher, opts Options, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Discard("router")
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Router{
		store:   store,
		tabs:    tabs,
		saver:   saver,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Store returns the router's payload store.
func (r *Router) Store() *PayloadStore {
	return r.store
}

// HandleMessage implements messaging.Handler.
func (r *Router) HandleMessage(ctx context.Context, msg messaging.Message, sender messaging.Sender) (messaging.Response, bool) {
	switch msg.Action {
	case messaging.ActionStorePayload:
		return r.handleStore(msg, "Payload stored"), true
	case messaging.ActionLegacySubmit:
		resp := r.handleStore(msg, "Form data received")
		resp.Stored = nil
		return resp, true
	case messaging.ActionContentReady:
		return r.handleContentReady(sender), true
	case messaging.ActionRequestPayload:
		return r.handleRequestPayload(ctx, sender), true
	case messaging.ActionFetchRemoteFile:
		return r.handleFetch(ctx, msg), true
	case messaging.ActionSaveSubmission:
		return r.handleSave(ctx, msg), true
	default:
		r.logger.Debugf("ignoring action %q from tab %d", msg.Action, sender.TabID)
		return messaging.Response{}, false
	}
}

func (r *Router) handleStore(msg messaging.Message, message string) messaging.Response {
	// nothing to push later, so the pending payload is left in place
	if len(msg.Payload) == 0 {
		return messaging.Response{Success: false, Error: "payload is required", Stored: messaging.Bool(false)}
	}

	r.store.Put(msg.Payload, msg.Source)
	r.logger.Infof("payload stored (source=%q, %d bytes)", msg.Source, len(msg.Payload))

	return messaging.Response{Success: true, Message: message, Stored: messaging.Bool(true)}
}

func (r *Router) handleContentReady(sender messaging.Sender) messaging.Response {
	if pending, _ := r.store.Pending(); !pending {
		return messaging.OK("none")
	}
	if !sender.HasTab() {
		r.logger.Warnf("content-ready without a tab; payload kept")
		return messaging.OK("no destination tab")
	}

	tabID := sender.TabID
	r.logger.Infof("tab %d ready, delivering payload in %v", tabID, r.opts.DeliveryDelay)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		timer := time.NewTimer(r.opts.DeliveryDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-r.ctx.Done():
			return
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.opts.FallbackClear)
		defer cancel()
		r.deliver(ctx, tabID)
	}()

	r.store.ScheduleClear(r.opts.FallbackClear, func(cleared bool) {
		if cleared {
			r.logger.Warnf("payload for tab %d never confirmed, cleared after %v", tabID, r.opts.FallbackClear)
		}
	})

	return messaging.OK("Payload delivery scheduled")
}

func (r *Router) handleRequestPayload(ctx context.Context, sender messaging.Sender) messaging.Response {
	if !sender.HasTab() {
		pending, _ := r.store.Pending()
		return messaging.Response{Success: true, Message: "no destination tab", HasPayload: messaging.Bool(pending)}
	}

	_, hasPayload := r.deliver(ctx, sender.TabID)
	if !hasPayload {
		return messaging.Response{Success: true, Message: "none", HasPayload: messaging.Bool(false)}
	}
	return messaging.Response{Success: true, Message: "Payload sent", HasPayload: messaging.Bool(true)}
}

// deliver pushes the pending payload to tabID and clears it once the tab
// answers. A failed push leaves the payload for a later request.
func (r *Router) deliver(ctx context.Context, tabID int) (delivered, hasPayload bool) {
	d, ok := r.store.TakeFor(tabID)
	if !ok {
		return false, false
	}

	_, err := r.tabs.SendToTab(ctx, tabID, messaging.Message{
		Action:  messaging.ActionDeliverPayload,
		Payload: d.Payload,
		Source:  messaging.SourceFrontend,
	})
	if err != nil {
		r.logger.Warnf("payload delivery to tab %d failed, keeping payload: %v", tabID, err)
		return false, true
	}

	if r.store.Confirm(d) {
		r.logger.Infof("payload delivered to tab %d and cleared", tabID)
	} else {
		r.logger.Infof("payload delivered to tab %d; store already changed", tabID)
	}
	return true, true
}

func (r *Router) handleFetch(ctx context.Context, msg messaging.Message) messaging.Response {
	if msg.URL == "" {
		return messaging.Failure("url is required")
	}

	file, err := r.fetcher.Fetch(ctx, msg.URL, msg.Filename)
	if err != nil {
		r.logger.Warnf("fetch %s failed: %v", msg.URL, err)
		return messaging.Failure(err.Error())
	}

	r.logger.Infof("fetched %s (%s, %d bytes)", file.Name, file.Type, file.Size)
	return messaging.Response{Success: true, File: file}
}

func (r *Router) handleSave(ctx context.Context, msg messaging.Message) messaging.Response {
	if len(msg.Data) == 0 {
		return messaging.Response{Success: false, Error: "data is required", RequiresManual: messaging.Bool(true)}
	}

	result := r.saver.SaveWith(ctx, msg.Data, submission.SaveOptions{
		MaxAttempts: r.opts.SaveAttempts,
		AccessToken: msg.AccessToken,
	})
	return messaging.Response{Success: result.Success, RequiresManual: messaging.Bool(result.RequiresManual)}
}

// Close cancels pending deliveries and fallback timers.
func (r *Router) Close() {
	r.cancel()
	r.store.Stop()
	r.wg.Wait()
}
