package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360studio/adw/notify"
)

// outboundQueueSize bounds each session's pending broadcasts.
const outboundQueueSize = 256

const (
	writeWait = 10 * time.Second
	readLimit = 1 << 20
)

// session is one connected WebSocket client. A dedicated sender
// goroutine owns the connection's write side; the hub enqueues without
// blocking and the queue drops oldest under pressure.
type session struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger
	dedup  *dedupWindow

	mu      sync.Mutex
	queue   []notify.Message
	wake    chan struct{}
	closed  bool
	dropped int
}

func newSession(id string, conn *websocket.Conn, logger *slog.Logger) *session {
	return &session{
		id:     id,
		conn:   conn,
		logger: logger,
		dedup:  newDedupWindow(),
		wake:   make(chan struct{}, 1),
	}
}

// enqueue adds msg to the outbound queue without blocking. When the
// queue is full the oldest pending message is discarded; the first
// drop in a burst is logged once.
func (s *session) enqueue(msg notify.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= outboundQueueSize {
		s.queue = s.queue[1:]
		s.dropped++
		if s.dropped == 1 {
			s.logger.Warn("session queue full, dropping oldest broadcasts", "session_id", s.id)
		}
		droppedTotal.Inc()
	}
	s.queue = append(s.queue, msg)
	// Wake under the lock so a concurrent close cannot slip between the
	// closed check and the send.
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.mu.Unlock()
}

// sendLoop drains the queue onto the wire until the session closes.
// Deduplication happens here, on the consuming side, so the window
// tracks what each session actually saw.
func (s *session) sendLoop() {
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			if s.dedup.observe(fingerprint(msg, time.Now())) {
				dedupSuppressedTotal.Inc()
				continue
			}

			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("session write failed", "session_id", s.id, "error", err)
				s.close()
				return
			}
		}
	}
}

// close marks the session dead and wakes the sender so it exits.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.wake)
	_ = s.conn.Close()
}
