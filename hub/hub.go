// Package hub is the notification plane: a WebSocket server that
// accepts workflow trigger requests and fans state-change, log, and
// status broadcasts out to every connected session. It assumes a
// trusted local network; there is no authentication.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/adw/notify"
)

// TriggerFunc starts a workflow for a validated trigger request and
// returns the run ID it will execute under. The pipeline itself runs
// asynchronously; TriggerFunc must return promptly.
type TriggerFunc func(ctx context.Context, req notify.TriggerRequest) (string, error)

// DeleteFunc tears down a run completely (processes, worktree, state,
// logs). The hub broadcasts worktree_deleted after it succeeds.
type DeleteFunc func(ctx context.Context, runID string) error

// Hub owns the session set and implements notify.Publisher.
type Hub struct {
	logger  *slog.Logger
	trigger TriggerFunc
	delete  DeleteFunc

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTrigger installs the workflow trigger callback.
func WithTrigger(f TriggerFunc) Option {
	return func(h *Hub) { h.trigger = f }
}

// WithDelete installs the run teardown callback.
func WithDelete(f DeleteFunc) Option {
	return func(h *Hub) { h.delete = f }
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		logger:   slog.Default(),
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Trusted local network; the board UI connects from a file://
			// or localhost origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Configure applies options after construction, for callers that need
// the Hub value before its collaborators exist. Must be called before
// the hub starts serving.
func (h *Hub) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(h)
	}
}

// Handler returns the HTTP mux serving /ws, /healthz, and /metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// SessionCount reports connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish implements notify.Publisher: fan out to every session.
// Per-session queues are bounded, so Publish never blocks on a slow
// consumer.
func (h *Hub) Publish(msg notify.Message) {
	broadcastsTotal.WithLabelValues(msg.Type).Inc()

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(msg)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(uuid.New().String(), conn, h.logger)
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	sessionsGauge.Inc()
	h.logger.Info("session connected", "session_id", s.id, "remote", r.RemoteAddr)

	go s.sendLoop()
	h.readLoop(r.Context(), s)

	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	sessionsGauge.Dec()
	s.close()
	h.logger.Info("session disconnected", "session_id", s.id)
}

// readLoop processes client frames until the transport closes.
// Transport-layer close is authoritative; the hub does not reap silent
// clients.
func (h *Hub) readLoop(ctx context.Context, s *session) {
	s.conn.SetReadLimit(readLimit)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg notify.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.enqueue(notify.NewMessage(notify.TypeError, notify.ErrorData{
				Message: "malformed message: not a {type, data} envelope",
			}))
			continue
		}
		h.dispatch(ctx, s, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, s *session, msg notify.Message) {
	switch msg.Type {
	case notify.TypePing:
		s.enqueue(notify.NewMessage(notify.TypePong, notify.Pong{Timestamp: notify.Now()}))

	case notify.TypeTriggerWorkflow:
		h.handleTrigger(ctx, s, msg.Data)

	case notify.TypeDeleteADW:
		h.handleDelete(ctx, s, msg.Data)

	default:
		s.enqueue(notify.NewMessage(notify.TypeError, notify.ErrorData{
			Message: fmt.Sprintf("unknown message type %q", msg.Type),
		}))
	}
}

func (h *Hub) handleTrigger(ctx context.Context, s *session, data json.RawMessage) {
	req, err := validateTrigger(data)
	if err != nil {
		triggersTotal.WithLabelValues("invalid").Inc()
		s.enqueue(notify.NewMessage(notify.TypeError, notify.ErrorData{Message: err.Error()}))
		return
	}
	if h.trigger == nil {
		s.enqueue(notify.NewMessage(notify.TypeError, notify.ErrorData{
			Message: "hub has no workflow trigger configured",
		}))
		return
	}

	runID, err := h.trigger(ctx, *req)
	if err != nil {
		triggersTotal.WithLabelValues("rejected").Inc()
		s.enqueue(notify.NewMessage(notify.TypeTriggerResponse, notify.TriggerResponse{
			RunID:        runID,
			WorkflowType: req.WorkflowType,
			Accepted:     false,
			Message:      err.Error(),
		}))
		return
	}

	triggersTotal.WithLabelValues("accepted").Inc()
	h.logger.Info("workflow triggered",
		"workflow_type", req.WorkflowType, "run_id", runID, "reason", req.TriggerReason)
	// The response goes only to the triggering session; all further
	// broadcasts for the run fan out to everyone.
	s.enqueue(notify.NewMessage(notify.TypeTriggerResponse, notify.TriggerResponse{
		RunID:        runID,
		WorkflowType: req.WorkflowType,
		Accepted:     true,
	}))
}

func (h *Hub) handleDelete(ctx context.Context, s *session, data json.RawMessage) {
	var req notify.DeleteRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RunID == "" {
		s.enqueue(notify.NewMessage(notify.TypeError, notify.ErrorData{
			Message: "delete_adw requires a run_id",
		}))
		return
	}
	if h.delete == nil {
		s.enqueue(notify.NewMessage(notify.TypeError, notify.ErrorData{
			Message: "hub has no delete handler configured",
		}))
		return
	}
	if err := h.delete(ctx, req.RunID); err != nil {
		s.enqueue(notify.NewMessage(notify.TypeError, notify.ErrorData{
			Message: fmt.Sprintf("delete %s: %v", req.RunID, err),
		}))
		return
	}
	h.Publish(notify.NewMessage(notify.TypeWorktreeDeleted, notify.WorktreeDeleted{
		RunID:     req.RunID,
		Timestamp: notify.Now(),
	}))
}
