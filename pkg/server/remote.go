package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/entrhq/claimbridge/pkg/logging"
	"github.com/entrhq/claimbridge/pkg/messaging"
)

// Frame is one WebSocket message between the server and a remote tab.
// A frame with Message is a request; the answer reuses its ID and carries
// Response, Unhandled or Error.
type Frame struct {
	ID        string              `json:"id"`
	Message   *messaging.Message  `json:"message,omitempty"`
	Response  *messaging.Response `json:"response,omitempty"`
	Unhandled bool                `json:"unhandled,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// remoteTab is a tab endpoint whose content script lives in a browser
// extension connected over a WebSocket.
type remoteTab struct {
	tabID  int
	url    string
	conn   *websocket.Conn
	rt     *messaging.Runtime
	logger *logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Server) handleTabSocket(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabIDParam(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("tab %d upgrade failed: %v", tabID, err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(context.Background())
	tab := &remoteTab{
		tabID:   tabID,
		url:     r.URL.Query().Get("url"),
		conn:    conn,
		rt:      s.rt,
		logger:  s.logger.Named(fmt.Sprintf("tab%d", tabID)),
		pending: make(map[string]chan Frame),
		ctx:     ctx,
		cancel:  cancel,
	}

	stop, err := s.rt.ListenTab(tabID, tab)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		_ = conn.Close()
		cancel()
		return
	}

	tab.logger.Infof("remote tab connected from %s", r.RemoteAddr)
	tab.readLoop()

	stop()
	tab.shutdown()
	tab.logger.Infof("remote tab disconnected")
}

// HandleMessage forwards msg to the extension and waits for its answer.
func (t *remoteTab) HandleMessage(ctx context.Context, msg messaging.Message, sender messaging.Sender) (messaging.Response, bool) {
	id := uuid.NewString()
	reply := make(chan Frame, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return messaging.Response{}, false
	}
	t.pending[id] = reply
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(Frame{ID: id, Message: &msg}); err != nil {
		t.logger.Warnf("send %s failed: %v", msg.Action, err)
		return messaging.Response{}, false
	}

	select {
	case frame, ok := <-reply:
		if !ok || frame.Unhandled || frame.Response == nil {
			return messaging.Response{}, false
		}
		return *frame.Response, true
	case <-ctx.Done():
		return messaging.Response{}, false
	case <-t.ctx.Done():
		return messaging.Response{}, false
	}
}

func (t *remoteTab) readLoop() {
	for {
		var frame Frame
		if err := t.conn.ReadJSON(&frame); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				t.logger.Debugf("read failed: %v", err)
			}
			return
		}

		if frame.Message != nil {
			go t.forwardToBackground(frame)
			continue
		}

		t.mu.Lock()
		reply, ok := t.pending[frame.ID]
		t.mu.Unlock()
		if !ok {
			t.logger.Debugf("dropping reply for unknown request %s", frame.ID)
			continue
		}
		select {
		case reply <- frame:
		default:
		}
	}
}

// forwardToBackground relays a request from the extension's content script.
func (t *remoteTab) forwardToBackground(frame Frame) {
	sender := messaging.Sender{TabID: t.tabID, URL: t.url}
	resp, err := t.rt.SendMessage(t.ctx, sender, *frame.Message)

	answer := Frame{ID: frame.ID}
	switch {
	case errors.Is(err, messaging.ErrNoResponse):
		answer.Unhandled = true
	case err != nil:
		answer.Error = err.Error()
	default:
		answer.Response = &resp
	}

	if err := t.write(answer); err != nil {
		t.logger.Debugf("reply %s failed: %v", frame.ID, err)
	}
}

func (t *remoteTab) write(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *remoteTab) shutdown() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	_ = t.conn.Close()
}
