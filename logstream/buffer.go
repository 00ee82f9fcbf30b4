// Package logstream provides per-run bounded log buffers with live
// subscription. Entries come from the agent log tailer and from system
// events (phase start/end, worktree lifecycle); consumers are the hub
// and the CLI log viewer.
package logstream

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/adw/notify"
)

// DefaultCapacity is the per-run buffer size unless configured otherwise.
const DefaultCapacity = 1000

// MaxCapacity is the hard cap on configured buffer size.
const MaxCapacity = 10000

// Entry is one log record within a run.
type Entry struct {
	RunID           string          `json:"run_id"`
	Phase           string          `json:"phase"`
	Timestamp       time.Time       `json:"timestamp"`
	Level           string          `json:"level"`
	Message         string          `json:"message"`
	CurrentStep     string          `json:"current_step,omitempty"`
	ProgressPercent *int            `json:"progress_percent,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Filter narrows Snapshot results. Zero value matches everything.
type Filter struct {
	Level    string
	Contains string
}

func (f Filter) matches(e Entry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Contains != "" && !strings.Contains(e.Message, f.Contains) {
		return false
	}
	return true
}

// ring is a fixed-size circular buffer of entries.
type ring struct {
	entries []Entry
	head    int // index of oldest entry
	size    int
}

func newRing(capacity int) *ring {
	return &ring{entries: make([]Entry, capacity)}
}

func (r *ring) push(e Entry) {
	if r.size < len(r.entries) {
		r.entries[(r.head+r.size)%len(r.entries)] = e
		r.size++
		return
	}
	// Full: overwrite oldest.
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
}

func (r *ring) snapshot() []Entry {
	out := make([]Entry, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.entries[(r.head+i)%len(r.entries)])
	}
	return out
}

// runStream holds the buffer and subscribers for one run.
type runStream struct {
	ring *ring
	subs map[chan Entry]struct{}
}

// Stream is the process-wide log stream, sharded by run_id.
type Stream struct {
	mu       sync.Mutex
	capacity int
	runs     map[string]*runStream
	dropped  map[string]struct{}
	pub      notify.Publisher
}

// Option configures a Stream.
type Option func(*Stream)

// WithCapacity overrides the per-run buffer capacity. Values above
// MaxCapacity are clamped; values below 1 fall back to the default.
func WithCapacity(n int) Option {
	return func(s *Stream) {
		if n < 1 {
			n = DefaultCapacity
		}
		if n > MaxCapacity {
			n = MaxCapacity
		}
		s.capacity = n
	}
}

// WithPublisher forwards every appended entry to the hub as a
// workflow_log broadcast.
func WithPublisher(pub notify.Publisher) Option {
	return func(s *Stream) { s.pub = pub }
}

// New creates an empty Stream.
func New(opts ...Option) *Stream {
	s := &Stream{
		capacity: DefaultCapacity,
		runs:     make(map[string]*runStream),
		dropped:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) run(runID string) *runStream {
	rs, ok := s.runs[runID]
	if !ok {
		rs = &runStream{
			ring: newRing(s.capacity),
			subs: make(map[chan Entry]struct{}),
		}
		s.runs[runID] = rs
	}
	return rs
}

// Append records an entry, forwards it to live subscribers, and (when a
// publisher is attached) broadcasts it as a workflow_log message.
// Oldest entries are evicted once the buffer is at capacity. Entries
// for a dropped run are discarded; deletion is final and a straggling
// tailer must not resurrect the stream or re-broadcast.
func (s *Stream) Append(entry Entry) {
	s.mu.Lock()
	if _, gone := s.dropped[entry.RunID]; gone {
		s.mu.Unlock()
		return
	}
	rs := s.run(entry.RunID)
	rs.ring.push(entry)
	// Fan out under the lock: sends are non-blocking, and holding the
	// mutex means Drop cannot close a channel mid-send.
	for ch := range rs.subs {
		select {
		case ch <- entry:
		default:
			// Subscriber not keeping up; drop rather than stall the tailer.
		}
	}
	pub := s.pub
	s.mu.Unlock()

	if pub != nil {
		pub.Publish(notify.NewMessage(notify.TypeWorkflowLog, notify.WorkflowLog{
			RunID:           entry.RunID,
			Phase:           entry.Phase,
			Timestamp:       entry.Timestamp.UTC().Format(time.RFC3339Nano),
			Level:           entry.Level,
			Message:         entry.Message,
			CurrentStep:     entry.CurrentStep,
			ProgressPercent: entry.ProgressPercent,
			Raw:             entry.Raw,
		}))
	}
}

// Subscribe returns a channel receiving entries appended for runID from
// now on, plus a cancel function that must be called when done. The
// channel is closed when the run is dropped; subscribing to an already
// dropped run yields a closed channel.
func (s *Stream) Subscribe(runID string) (<-chan Entry, func()) {
	ch := make(chan Entry, 64)
	s.mu.Lock()
	if _, gone := s.dropped[runID]; gone {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	rs := s.run(runID)
	rs.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if rs, ok := s.runs[runID]; ok {
			delete(rs.subs, ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Snapshot returns the buffered entries for runID, oldest first,
// optionally filtered.
func (s *Stream) Snapshot(runID string, filter Filter) []Entry {
	s.mu.Lock()
	rs, ok := s.runs[runID]
	var all []Entry
	if ok {
		all = rs.ring.snapshot()
	}
	s.mu.Unlock()

	if filter == (Filter{}) {
		return all
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many entries are currently buffered for runID.
func (s *Stream) Len(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.runs[runID]; ok {
		return rs.ring.size
	}
	return 0
}

// Drop discards the buffer and closes all subscriptions for runID.
// Called when a run is deleted. The run is tombstoned so late appends
// from a still-draining tailer are discarded instead of recreating the
// stream. Closing under the mutex is safe because Append sends while
// holding it.
func (s *Stream) Drop(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[runID] = struct{}{}
	rs, ok := s.runs[runID]
	if !ok {
		return
	}
	delete(s.runs, runID)
	for ch := range rs.subs {
		close(ch)
	}
}

// System appends a system-originated info entry for a run.
func (s *Stream) System(runID, phase, level, message string) {
	s.Append(Entry{
		RunID:     runID,
		Phase:     phase,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
}
