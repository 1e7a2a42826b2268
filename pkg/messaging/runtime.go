package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/entrhq/claimbridge/pkg/logging"
)

var (
	// ErrNoReceiver is returned when the destination context has no listener.
	ErrNoReceiver = errors.New("could not establish connection: receiving end does not exist")

	// ErrNoResponse is returned when the destination closed the reply without answering.
	ErrNoResponse = errors.New("message channel closed before a response was received")

	// ErrListenerExists is returned when a context registers a second listener.
	ErrListenerExists = errors.New("listener already registered")
)

const inboxSize = 16

// envelope carries one Message and its single-use reply channel.
type envelope struct {
	id     string
	ctx    context.Context
	msg    Message
	sender Sender
	reply  chan Response
}

// endpoint is one context's listener: an inbox drained by its own goroutine.
type endpoint struct {
	name    string
	handler Handler
	inbox   chan envelope
	done    chan struct{}
	stop    sync.Once
	logger  *logging.Logger
}

func newEndpoint(name string, h Handler, logger *logging.Logger) *endpoint {
	ep := &endpoint{
		name:    name,
		handler: h,
		inbox:   make(chan envelope, inboxSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go ep.serve()
	return ep
}

func (e *endpoint) serve() {
	for {
		select {
		case env := <-e.inbox:
			// Each message gets its own goroutine so a slow handler never
			// holds up the next message.
			go e.dispatch(env)
		case <-e.done:
			e.drain()
			return
		}
	}
}

// drain closes the replies of messages that arrived after the listener went away.
func (e *endpoint) drain() {
	for {
		select {
		case env := <-e.inbox:
			close(env.reply)
		default:
			return
		}
	}
}

func (e *endpoint) dispatch(env envelope) {
	defer close(env.reply)

	resp, handled := e.handler.HandleMessage(env.ctx, env.msg, env.sender)
	if !handled {
		e.logger.Debugf("%s: %s [%s] not handled", e.name, env.msg.Action, env.id)
		return
	}
	env.reply <- resp
}

func (e *endpoint) close() {
	e.stop.Do(func() { close(e.done) })
}

// Runtime routes messages between the background context and tab contexts.
type Runtime struct {
	mu         sync.RWMutex
	background *endpoint
	tabs       map[int]*endpoint
	logger     *logging.Logger
}

// NewRuntime creates an empty runtime.
func NewRuntime(logger *logging.Logger) *Runtime {
	if logger == nil {
		logger = logging.Discard("messaging")
	}
	return &Runtime{
		tabs:   make(map[int]*endpoint),
		logger: logger,
	}
}

// ListenBackground registers the background handler. The returned function
// unregisters it.
func (r *Runtime) ListenBackground(h Handler) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.background != nil {
		return nil, fmt.Errorf("background: %w", ErrListenerExists)
	}

	ep := newEndpoint("background", h, r.logger)
	r.background = ep

	return func() {
		r.mu.Lock()
		if r.background == ep {
			r.background = nil
		}
		r.mu.Unlock()
		ep.close()
	}, nil
}

// ListenTab registers the content-script handler for a tab.
func (r *Runtime) ListenTab(tabID int, h Handler) (func(), error) {
	if tabID <= 0 {
		return nil, fmt.Errorf("invalid tab id %d", tabID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tabs[tabID]; exists {
		return nil, fmt.Errorf("tab %d: %w", tabID, ErrListenerExists)
	}

	ep := newEndpoint(fmt.Sprintf("tab %d", tabID), h, r.logger)
	r.tabs[tabID] = ep

	return func() {
		r.mu.Lock()
		if r.tabs[tabID] == ep {
			delete(r.tabs, tabID)
		}
		r.mu.Unlock()
		ep.close()
	}, nil
}

// Tabs returns the ids of tabs that currently have a listener.
func (r *Runtime) Tabs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SendMessage sends msg to the background context on behalf of sender and
// waits for its single response.
func (r *Runtime) SendMessage(ctx context.Context, sender Sender, msg Message) (Response, error) {
	r.mu.RLock()
	ep := r.background
	r.mu.RUnlock()

	if ep == nil {
		return Response{}, fmt.Errorf("background: %w", ErrNoReceiver)
	}
	return r.send(ctx, ep, sender, msg)
}

// SendToTab sends msg to a tab's content script and waits for its response.
func (r *Runtime) SendToTab(ctx context.Context, tabID int, msg Message) (Response, error) {
	r.mu.RLock()
	ep := r.tabs[tabID]
	r.mu.RUnlock()

	if ep == nil {
		return Response{}, fmt.Errorf("tab %d: %w", tabID, ErrNoReceiver)
	}
	return r.send(ctx, ep, Sender{}, msg)
}

func (r *Runtime) send(ctx context.Context, ep *endpoint, sender Sender, msg Message) (Response, error) {
	env := envelope{
		id:     uuid.NewString(),
		ctx:    ctx,
		msg:    msg,
		sender: sender,
		reply:  make(chan Response, 1),
	}

	r.logger.Debugf("-> %s: %s [%s]", ep.name, msg.Action, env.id)

	select {
	case ep.inbox <- env:
	case <-ep.done:
		return Response{}, fmt.Errorf("%s: %w", ep.name, ErrNoReceiver)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp, ok := <-env.reply:
		return r.received(ep, env, resp, ok)
	case <-ep.done:
		// The listener went away; take a reply that already landed, if any.
		select {
		case resp, ok := <-env.reply:
			return r.received(ep, env, resp, ok)
		default:
			return Response{}, fmt.Errorf("%s: %w", ep.name, ErrNoReceiver)
		}
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (r *Runtime) received(ep *endpoint, env envelope, resp Response, ok bool) (Response, error) {
	if !ok {
		return Response{}, fmt.Errorf("%s: %s: %w", ep.name, env.msg.Action, ErrNoResponse)
	}
	r.logger.Debugf("<- %s: %s [%s] success=%t", ep.name, env.msg.Action, env.id, resp.Success)
	return resp, nil
}
