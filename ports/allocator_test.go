package ports

import (
	"errors"
	"net"
	"strconv"
	"testing"
)

func TestPreferredSlotDeterministic(t *testing.T) {
	a := New()
	tests := []struct {
		runID string
		want  int
	}{
		// int("abc12345", 36) mod 15 and friends, precomputed.
		{"00000000", 0},
		{"00000001", 1},
		{"0000000f", 0}, // 15 mod 15
		{"0000000g", 1}, // 16 mod 15
		{"00000010", 6}, // 36 mod 15
		{"000000zz", 5}, // 36*36-1 = 1295 mod 15
	}
	for _, tt := range tests {
		if got := a.PreferredSlot(tt.runID); got != tt.want {
			t.Errorf("PreferredSlot(%q) = %d, want %d", tt.runID, got, tt.want)
		}
		// Stable across calls.
		if got := a.PreferredSlot(tt.runID); got != tt.want {
			t.Errorf("PreferredSlot(%q) not deterministic", tt.runID)
		}
	}
}

func TestPreferredSlotCaseInsensitive(t *testing.T) {
	a := New()
	if a.PreferredSlot("ABC12345") != a.PreferredSlot("abc12345") {
		t.Error("slot should be case-insensitive")
	}
}

func TestAllocatePairInvariant(t *testing.T) {
	a := New()
	pair, err := a.Allocate("a1b2c3d4")
	if err != nil {
		t.Skipf("loopback window busy on this host: %v", err)
	}
	if pair.WS < WSBase || pair.WS >= WSBase+DefaultSlots {
		t.Errorf("ws port %d out of range", pair.WS)
	}
	if pair.FE < FEBase || pair.FE >= FEBase+DefaultSlots {
		t.Errorf("fe port %d out of range", pair.FE)
	}
	if pair.WS-WSBase != pair.FE-FEBase {
		t.Errorf("pair slots disagree: ws=%d fe=%d", pair.WS, pair.FE)
	}
}

func TestAllocateFallbackOnCollision(t *testing.T) {
	busy := map[int]bool{}
	a := New(withProbe(func(addr string) bool {
		_, portStr, _ := net.SplitHostPort(addr)
		port, _ := strconv.Atoi(portStr)
		return !busy[port]
	}))

	preferred := a.PreferredSlot("a1b2c3d4")
	busy[WSBase+preferred] = true

	pair, err := a.Allocate("a1b2c3d4")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := (preferred + 1) % DefaultSlots
	if pair.Slot() != want {
		t.Errorf("slot = %d, want fallback %d", pair.Slot(), want)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	a := New(withProbe(func(string) bool { return false }))
	_, err := a.Allocate("a1b2c3d4")
	if !errors.Is(err, ErrNoPortsAvailable) {
		t.Fatalf("err = %v, want ErrNoPortsAvailable", err)
	}
}

func TestAllocateSecondPortBusy(t *testing.T) {
	// FE side of the preferred slot busy forces fallback even though the
	// WS side binds.
	busy := map[int]bool{}
	a := New(withProbe(func(addr string) bool {
		_, portStr, _ := net.SplitHostPort(addr)
		port, _ := strconv.Atoi(portStr)
		return !busy[port]
	}))
	preferred := a.PreferredSlot("deadbeef")
	busy[FEBase+preferred] = true

	pair, err := a.Allocate("deadbeef")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if pair.Slot() == preferred {
		t.Error("allocator returned a slot with a busy FE port")
	}
}

func TestCustomWindowWidth(t *testing.T) {
	a := New(WithSlots(3), withProbe(func(string) bool { return true }))
	seen := map[int]bool{}
	for _, id := range []string{"00000000", "00000001", "00000002"} {
		pair, err := a.Allocate(id)
		if err != nil {
			t.Fatalf("Allocate(%s): %v", id, err)
		}
		if pair.Slot() >= 3 {
			t.Errorf("slot %d outside 3-wide window", pair.Slot())
		}
		if seen[pair.Slot()] {
			t.Errorf("slot %d handed out twice", pair.Slot())
		}
		seen[pair.Slot()] = true
	}
	if _, err := a.Allocate("00000003"); !errors.Is(err, ErrNoPortsAvailable) {
		t.Fatalf("4th run in a 3-wide window: err = %v, want ErrNoPortsAvailable", err)
	}
}

func TestAllocateDisjointPairsOnHomeSlotCollision(t *testing.T) {
	// "00000000" and "0000000f" both hash to slot 0; while the first
	// run holds it, the second must land elsewhere.
	a := New(withProbe(func(string) bool { return true }))
	first, err := a.Allocate("00000000")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := a.Allocate("0000000f")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first.Slot() == second.Slot() {
		t.Fatalf("two live runs share slot %d", first.Slot())
	}
}

func TestAllocateIdempotentForOwner(t *testing.T) {
	a := New(withProbe(func(string) bool { return true }))
	first, err := a.Allocate("a1b2c3d4")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	again, err := a.Allocate("a1b2c3d4")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first != again {
		t.Errorf("owner re-allocation moved: %v then %v", first, again)
	}
}

func TestWindowCapAndRelease(t *testing.T) {
	a := New(withProbe(func(string) bool { return true }))
	ids := make([]string, 0, DefaultSlots)
	seen := map[int]bool{}
	for i := 0; i < DefaultSlots; i++ {
		id := "0000000" + strconv.FormatInt(int64(i), 36)
		pair, err := a.Allocate(id)
		if err != nil {
			t.Fatalf("Allocate(%s): %v", id, err)
		}
		if seen[pair.Slot()] {
			t.Fatalf("slot %d handed out twice", pair.Slot())
		}
		seen[pair.Slot()] = true
		ids = append(ids, id)
	}

	if _, err := a.Allocate("000000ff"); !errors.Is(err, ErrNoPortsAvailable) {
		t.Fatalf("16th concurrent run: err = %v, want ErrNoPortsAvailable", err)
	}

	a.Release(ids[0])
	if _, err := a.Allocate("000000ff"); err != nil {
		t.Fatalf("Allocate after Release: %v", err)
	}
}

func TestReleaseUnknownRunIsNoop(t *testing.T) {
	a := New(withProbe(func(string) bool { return true }))
	a.Release("zzzzzzzz")
	if _, err := a.Allocate("00000000"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
}
