// Package worktree manages the isolated working copies runs execute
// in: creation from main, three-way validation (state, filesystem, git
// metadata), env scaffolding, and teardown.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Worktree lifecycle errors.
var (
	// ErrMissing is returned when state references a worktree that no
	// longer exists on disk.
	ErrMissing = errors.New("worktree missing")

	// ErrInconsistent is returned when state, the filesystem, and git
	// metadata disagree about a worktree.
	ErrInconsistent = errors.New("worktree inconsistent")

	// ErrCreateFailed wraps any failure during creation; state is never
	// updated when creation fails.
	ErrCreateFailed = errors.New("worktree create failed")
)

// GitOps is the slice of the git executor the manager needs.
type GitOps interface {
	WorktreeAdd(ctx context.Context, path, branch, base string) error
	WorktreeList(ctx context.Context) ([]string, error)
	WorktreeRemove(ctx context.Context, path string) error
}

// Manager creates and destroys per-run worktrees under treesDir.
type Manager struct {
	treesDir   string
	repoRoot   string
	baseBranch string
	git        GitOps
	logger     *slog.Logger

	// envFiles are files copied from the primary repo into each new
	// worktree (typically ".env").
	envFiles []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithBaseBranch overrides the branch worktrees are cut from
// (default main).
func WithBaseBranch(branch string) Option {
	return func(m *Manager) {
		if branch != "" {
			m.baseBranch = branch
		}
	}
}

// WithEnvFiles sets the repo-relative files copied into new worktrees.
func WithEnvFiles(files ...string) Option {
	return func(m *Manager) { m.envFiles = files }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager.
func NewManager(treesDir, repoRoot string, git GitOps, opts ...Option) *Manager {
	m := &Manager{
		treesDir:   treesDir,
		repoRoot:   repoRoot,
		baseBranch: "main",
		git:        git,
		logger:     slog.Default(),
		envFiles:   []string{".env"},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns where a run's worktree lives (whether or not it exists).
func (m *Manager) Path(runID string) string {
	return filepath.Join(m.treesDir, runID)
}

// Create makes the worktree for runID on a fresh branch cut from the
// base branch, copies env files from the primary repo, and writes
// .ports.env with the run's allocated ports. On any failure the
// half-made worktree is torn down and ErrCreateFailed is returned.
func (m *Manager) Create(ctx context.Context, runID, branch string, wsPort, fePort int) (string, error) {
	path := m.Path(runID)
	if err := os.MkdirAll(m.treesDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s already exists", ErrCreateFailed, path)
	}

	if err := m.git.WorktreeAdd(ctx, path, branch, m.baseBranch); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	if err := m.scaffold(path, wsPort, fePort); err != nil {
		// Roll back so a retry starts clean.
		_ = m.git.WorktreeRemove(ctx, path)
		_ = os.RemoveAll(path)
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	m.logger.Info("worktree created",
		"run_id", runID, "path", path, "branch", branch, "ws_port", wsPort, "fe_port", fePort)
	return path, nil
}

// scaffold copies env files and writes .ports.env.
func (m *Manager) scaffold(path string, wsPort, fePort int) error {
	for _, name := range m.envFiles {
		src := filepath.Join(m.repoRoot, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(path, name)); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}

	portsEnv := fmt.Sprintf("WS_PORT=%d\nFE_PORT=%d\nBACKEND_URL=http://localhost:%d\n",
		wsPort, fePort, wsPort)
	if err := os.WriteFile(filepath.Join(path, ".ports.env"), []byte(portsEnv), 0o644); err != nil {
		return fmt.Errorf("write .ports.env: %w", err)
	}
	return nil
}

// Validate performs the three-way check for a run whose state claims a
// worktree at statePath: the directory exists, and git lists it as a
// worktree. A missing directory is ErrMissing; any other disagreement
// is ErrInconsistent.
func (m *Manager) Validate(ctx context.Context, runID, statePath string) error {
	if statePath == "" {
		return fmt.Errorf("%w: state has no worktree_path for %s", ErrMissing, runID)
	}
	info, err := os.Stat(statePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrMissing, statePath)
	}
	if err != nil {
		return fmt.Errorf("stat worktree: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInconsistent, statePath)
	}

	known, err := m.git.WorktreeList(ctx)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}
	for _, p := range known {
		if sameDir(p, statePath) {
			return nil
		}
	}
	return fmt.Errorf("%w: git does not know %s", ErrInconsistent, statePath)
}

// Remove tears down a run's worktree: git worktree remove (force),
// then best-effort directory removal. Idempotent.
func (m *Manager) Remove(ctx context.Context, runID string) error {
	path := m.Path(runID)
	if err := m.git.WorktreeRemove(ctx, path); err != nil {
		m.logger.Warn("git worktree remove failed, removing directory anyway",
			"run_id", runID, "error", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove worktree dir: %w", err)
	}
	m.logger.Info("worktree removed", "run_id", runID, "path", path)
	return nil
}

func sameDir(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
