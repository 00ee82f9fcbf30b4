package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/c360studio/adw/notify"
)

const stateFileName = "state.json"

// Store owns the state directory. One writer per run is enforced with
// per-run locks; concurrent runs touch disjoint files.
type Store struct {
	rootDir string
	logger  *slog.Logger
	pub     notify.Publisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher makes SaveSnapshot broadcast state_change messages.
func WithPublisher(pub notify.Publisher) Option {
	return func(s *Store) { s.pub = pub }
}

// NewStore creates a store rooted at rootDir, creating it if needed.
func NewStore(rootDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state root: %w", err)
	}
	s := &Store{
		rootDir: rootDir,
		logger:  slog.Default(),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RootDir returns the state store root.
func (s *Store) RootDir() string {
	return s.rootDir
}

// RunDir returns the directory holding a run's state and agent output.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.rootDir, runID)
}

func (s *Store) statePath(runID string) string {
	return filepath.Join(s.RunDir(runID), stateFileName)
}

// lock returns the per-run write lock.
func (s *Store) lock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

// Create initializes state for a new run.
func (s *Store) Create(initial RunState) (*RunState, error) {
	if !ValidRunID(initial.RunID) {
		return nil, fmt.Errorf("invalid run_id %q", initial.RunID)
	}
	if initial.ModelSet == "" {
		initial.ModelSet = ModelSetBase
	}
	if initial.DataSource == "" {
		initial.DataSource = SourceForge
	}
	if initial.Version == 0 {
		initial.Version = 1
	}

	l := s.lock(initial.RunID)
	l.Lock()
	defer l.Unlock()

	if _, err := os.Stat(s.statePath(initial.RunID)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, initial.RunID)
	}
	if err := os.MkdirAll(s.RunDir(initial.RunID), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := s.write(&initial); err != nil {
		return nil, err
	}
	s.logger.Info("run state created", "run_id", initial.RunID, "data_source", initial.DataSource)
	return &initial, nil
}

// Load reads and validates a run's state.
func (s *Store) Load(runID string) (*RunState, error) {
	raw, err := os.ReadFile(s.statePath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := validateRaw(raw); err != nil {
		return nil, fmt.Errorf("state for %s: %w", runID, err)
	}
	var st RunState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return &st, nil
}

// Update applies a merge patch under the run's write lock and persists
// the result. Returns the updated state and the changed field names.
func (s *Store) Update(runID string, patch Patch) (*RunState, []string, error) {
	l := s.lock(runID)
	l.Lock()
	defer l.Unlock()

	st, err := s.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	changed := patch.apply(st)
	if len(changed) == 0 {
		return st, nil, nil
	}
	if err := s.write(st); err != nil {
		return nil, nil, err
	}
	return st, changed, nil
}

// SaveSnapshot applies a patch, persists, and broadcasts a state_change
// message carrying the changed fields and a full snapshot.
func (s *Store) SaveSnapshot(runID, phaseMarker string, patch Patch) (*RunState, error) {
	st, changed, err := s.Update(runID, patch)
	if err != nil {
		return nil, err
	}
	if s.pub != nil {
		snap, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
		if changed == nil {
			changed = []string{}
		}
		s.pub.Publish(notify.NewMessage(notify.TypeStateChange, notify.StateChange{
			RunID:         runID,
			PhaseMarker:   phaseMarker,
			ChangedFields: changed,
			Snapshot:      snap,
			Timestamp:     notify.Now(),
		}))
	}
	return st, nil
}

// Delete removes a run's entire state directory, including agent
// output. Deleting an absent run is not an error.
func (s *Store) Delete(runID string) error {
	l := s.lock(runID)
	l.Lock()
	defer l.Unlock()

	if err := os.RemoveAll(s.RunDir(runID)); err != nil {
		return fmt.Errorf("delete run dir: %w", err)
	}
	s.mu.Lock()
	delete(s.locks, runID)
	s.mu.Unlock()
	return nil
}

// List returns the state of every run in the store, sorted by run_id.
// Unreadable entries are skipped with a warning; listing is an
// operator convenience and should not fail on one bad run.
func (s *Store) List() ([]*RunState, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("read state root: %w", err)
	}
	var runs []*RunState
	for _, entry := range entries {
		if !entry.IsDir() || !ValidRunID(entry.Name()) {
			continue
		}
		st, err := s.Load(entry.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			s.logger.Warn("skipping unreadable run state", "run_id", entry.Name(), "error", err)
			continue
		}
		runs = append(runs, st)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

// write persists st atomically: marshal, validate, write temp, fsync,
// rename over the live file.
func (s *Store) write(st *RunState) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := validateRaw(raw); err != nil {
		return fmt.Errorf("refusing to persist invalid state: %w", err)
	}

	path := s.statePath(st.RunID)
	tmp, err := os.CreateTemp(filepath.Dir(path), stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
