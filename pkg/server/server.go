// Package server exposes the message runtime over HTTP so a popup, a CLI
// or a browser extension can reach the background and the tabs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/entrhq/claimbridge/pkg/logging"
	"github.com/entrhq/claimbridge/pkg/messaging"
	"github.com/entrhq/claimbridge/pkg/router"
)

// TabIDHeader names the sending tab on POST /v1/messages.
const TabIDHeader = "X-Tab-ID"

const maxMessageBytes = 8 << 20

// Options configures a Server.
type Options struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	// RequestTimeout bounds one message round trip
	RequestTimeout time.Duration
}

// Server is the HTTP front of a messaging runtime.
type Server struct {
	rt       *messaging.Runtime
	store    *router.PayloadStore
	opts     Options
	logger   *logging.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

// New creates a Server. store may be nil when payload status is not exposed.
func New(rt *messaging.Runtime, store *router.PayloadStore, opts Options, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard("server")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}

	return &Server{
		rt:     rt,
		store:  store,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Handler returns the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(api chi.Router) {
		api.Post("/messages", s.handleBackgroundMessage)
		api.Get("/payload", s.handlePayloadStatus)
		api.Get("/tabs", s.handleListTabs)
		api.Post("/tabs/{tabID}/messages", s.handleTabMessage)
		api.Get("/tabs/{tabID}/ws", s.handleTabSocket)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.ListenAddr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", listener.Addr())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Infof("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handlePayloadStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "payload status unavailable")
		return
	}
	pending, storedAt := s.store.Pending()
	body := map[string]any{"pending": pending}
	if pending {
		body["storedAt"] = storedAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tabs": s.rt.Tabs()})
}

func (s *Server) handleBackgroundMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := readMessage(w, r)
	if !ok {
		return
	}

	sender := messaging.Sender{URL: r.Header.Get("Origin")}
	if raw := r.Header.Get(TabIDHeader); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s header", TabIDHeader))
			return
		}
		sender.TabID = id
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	resp, err := s.rt.SendMessage(ctx, sender, msg)
	s.writeResult(w, msg, resp, err)
}

func (s *Server) handleTabMessage(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabIDParam(w, r)
	if !ok {
		return
	}
	msg, ok := readMessage(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	resp, err := s.rt.SendToTab(ctx, tabID, msg)
	s.writeResult(w, msg, resp, err)
}

func (s *Server) writeResult(w http.ResponseWriter, msg messaging.Message, resp messaging.Response, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, messaging.ErrNoReceiver):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, messaging.ErrNoResponse):
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("action %q not handled", msg.Action))
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Errorf("%s failed: %v", msg.Action, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func readMessage(w http.ResponseWriter, r *http.Request) (messaging.Message, bool) {
	var msg messaging.Message
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid message: %v", err))
		return msg, false
	}
	if msg.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return msg, false
	}
	return msg, true
}

func tabIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "tabID"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid tab id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messaging.Failure(message))
}
