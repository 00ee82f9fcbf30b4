package agent

import (
	"sync"
	"syscall"
)

// ProcessTable tracks the live child process groups per run so an
// explicit delete can kill everything a run still owns.
type ProcessTable struct {
	mu   sync.Mutex
	pids map[string]map[int]struct{}
}

// NewProcessTable creates an empty table.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{pids: make(map[string]map[int]struct{})}
}

func (t *ProcessTable) add(runID string, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.pids[runID]
	if !ok {
		set = make(map[int]struct{})
		t.pids[runID] = set
	}
	set[pid] = struct{}{}
}

func (t *ProcessTable) remove(runID string, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.pids[runID]; ok {
		delete(set, pid)
		if len(set) == 0 {
			delete(t.pids, runID)
		}
	}
}

// KillRun SIGKILLs every process group still registered for runID.
// Already-dead groups are ignored.
func (t *ProcessTable) KillRun(runID string) {
	t.mu.Lock()
	pids := make([]int, 0, len(t.pids[runID]))
	for pid := range t.pids[runID] {
		pids = append(pids, pid)
	}
	delete(t.pids, runID)
	t.mu.Unlock()

	for _, pid := range pids {
		// Children are started in their own process group; negative pid
		// kills the whole group.
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// Live reports how many processes are registered for runID.
func (t *ProcessTable) Live(runID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pids[runID])
}
