// Package ports allocates the per-run WebSocket/frontend port pair.
// Assignment is deterministic in the run ID so a given run lands on the
// same slot whenever that slot is free, which keeps endpoints stable
// across phases and makes stale-worktree leaks visible to operators.
package ports

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Port window bases. Slot i maps to (WSBase+i, FEBase+i).
const (
	WSBase = 8500
	FEBase = 9200
)

// DefaultSlots is the default window width, which also caps how many
// runs can hold ports concurrently.
const DefaultSlots = 15

// ErrNoPortsAvailable is returned when every slot in the window is busy.
var ErrNoPortsAvailable = errors.New("no port pair available")

// Pair is an allocated port pair.
type Pair struct {
	WS int
	FE int
}

// Slot returns the window slot this pair occupies.
func (p Pair) Slot() int {
	return p.WS - WSBase
}

// probeFunc attempts to bind addr and reports whether the bind
// succeeded. Swappable in tests.
type probeFunc func(addr string) bool

func tcpProbe(addr string) bool {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Allocator hands out port pairs from the configured window. Each slot
// has at most one owning run at a time; owners hold their slot until
// Release (on ship or delete), so concurrent runs always get disjoint
// pairs even when their preferred slots collide.
type Allocator struct {
	slots  int
	probe  probeFunc
	logger *slog.Logger

	mu     sync.Mutex
	owners map[string]int // run_id -> slot
	taken  map[int]string // slot -> run_id
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithSlots overrides the window width.
func WithSlots(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.slots = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func withProbe(p probeFunc) Option {
	return func(a *Allocator) { a.probe = p }
}

// New creates an Allocator with the default 15-slot window.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		slots:  DefaultSlots,
		probe:  tcpProbe,
		logger: slog.Default(),
		owners: make(map[string]int),
		taken:  make(map[int]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Slots returns the window width.
func (a *Allocator) Slots() int {
	return a.slots
}

// PreferredSlot maps a run ID to its home slot: the first 8 characters
// interpreted as base-36, modulo the window width.
func (a *Allocator) PreferredSlot(runID string) int {
	s := strings.ToLower(runID)
	if len(s) > 8 {
		s = s[:8]
	}
	n, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		// Non-base-36 run IDs should not occur; fall back to slot 0 so
		// allocation still proceeds through the fallback scan.
		return 0
	}
	return int(n % uint64(a.slots))
}

// Allocate reserves a slot for runID and returns its pair. Slots
// already owned by other runs are skipped; the remaining candidates
// are probe-bound so ports held by processes outside the allocator's
// knowledge are skipped too. A run that already owns a slot gets the
// same pair back. The reservation lasts until Release.
func (a *Allocator) Allocate(runID string) (Pair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if slot, ok := a.owners[runID]; ok {
		return Pair{WS: WSBase + slot, FE: FEBase + slot}, nil
	}

	start := a.PreferredSlot(runID)
	for attempt := 0; attempt < a.slots; attempt++ {
		slot := (start + attempt) % a.slots
		if _, owned := a.taken[slot]; owned {
			continue
		}
		pair := Pair{WS: WSBase + slot, FE: FEBase + slot}
		if !a.probe(loopback(pair.WS)) || !a.probe(loopback(pair.FE)) {
			continue
		}
		if attempt > 0 {
			a.logger.Debug("preferred port slot busy, using fallback",
				"run_id", runID, "preferred", start, "slot", slot)
		}
		a.owners[runID] = slot
		a.taken[slot] = runID
		return pair, nil
	}
	return Pair{}, fmt.Errorf("%w: all %d slots busy", ErrNoPortsAvailable, a.slots)
}

// Release frees runID's slot. Safe to call for runs that hold nothing.
func (a *Allocator) Release(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot, ok := a.owners[runID]; ok {
		delete(a.owners, runID)
		delete(a.taken, slot)
	}
}

func loopback(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
