package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGit simulates the git worktree subcommands against the real
// filesystem so the manager's scaffolding can be observed.
type fakeGit struct {
	worktrees map[string]bool
	addErr    error
	removed   []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{worktrees: map[string]bool{}}
}

func (f *fakeGit) WorktreeAdd(_ context.Context, path, branch, base string) error {
	if f.addErr != nil {
		return f.addErr
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	f.worktrees[path] = true
	return nil
}

func (f *fakeGit) WorktreeList(_ context.Context) ([]string, error) {
	var paths []string
	for p := range f.worktrees {
		paths = append(paths, p)
	}
	return paths, nil
}

func (f *fakeGit) WorktreeRemove(_ context.Context, path string) error {
	delete(f.worktrees, path)
	f.removed = append(f.removed, path)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeGit, string) {
	t.Helper()
	root := t.TempDir()
	repo := filepath.Join(root, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	git := newFakeGit()
	m := NewManager(filepath.Join(root, "trees"), repo, git)
	return m, git, repo
}

func TestCreateWritesPortsEnv(t *testing.T) {
	m, _, repo := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".env"), []byte("SECRET=x\n"), 0o644))

	path, err := m.Create(context.Background(), "a1b2c3d4", "feat-x", 8503, 9203)
	require.NoError(t, err)
	assert.Equal(t, m.Path("a1b2c3d4"), path)

	ports, err := os.ReadFile(filepath.Join(path, ".ports.env"))
	require.NoError(t, err)
	assert.Equal(t, "WS_PORT=8503\nFE_PORT=9203\nBACKEND_URL=http://localhost:8503\n", string(ports))

	env, err := os.ReadFile(filepath.Join(path, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "SECRET=x\n", string(env))
}

func TestCreateWithoutRepoEnvFile(t *testing.T) {
	m, _, _ := newTestManager(t)
	path, err := m.Create(context.Background(), "a1b2c3d4", "feat-x", 8500, 9200)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(path, ".env"))
	assert.True(t, os.IsNotExist(err), "missing repo .env must not be copied")
}

func TestCreateFailurePropagates(t *testing.T) {
	m, git, _ := newTestManager(t)
	git.addErr = errors.New("branch exists")

	_, err := m.Create(context.Background(), "a1b2c3d4", "feat-x", 8500, 9200)
	require.ErrorIs(t, err, ErrCreateFailed)
}

func TestCreateRejectsExistingDir(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.Path("a1b2c3d4"), 0o755))

	_, err := m.Create(context.Background(), "a1b2c3d4", "feat-x", 8500, 9200)
	require.ErrorIs(t, err, ErrCreateFailed)
}

func TestValidateHappyPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	path, err := m.Create(context.Background(), "a1b2c3d4", "feat-x", 8500, 9200)
	require.NoError(t, err)
	require.NoError(t, m.Validate(context.Background(), "a1b2c3d4", path))
}

func TestValidateMissingDirectory(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Validate(context.Background(), "a1b2c3d4", m.Path("a1b2c3d4"))
	require.ErrorIs(t, err, ErrMissing)
}

func TestValidateUnsetPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Validate(context.Background(), "a1b2c3d4", "")
	require.ErrorIs(t, err, ErrMissing)
}

func TestValidateGitDisagrees(t *testing.T) {
	m, git, _ := newTestManager(t)
	path, err := m.Create(context.Background(), "a1b2c3d4", "feat-x", 8500, 9200)
	require.NoError(t, err)

	// Simulate a worktree git has forgotten (e.g. manual prune).
	delete(git.worktrees, path)

	err = m.Validate(context.Background(), "a1b2c3d4", path)
	require.ErrorIs(t, err, ErrInconsistent)
}

func TestRemoveIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	path, err := m.Create(context.Background(), "a1b2c3d4", "feat-x", 8500, 9200)
	require.NoError(t, err)

	require.NoError(t, m.Remove(context.Background(), "a1b2c3d4"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Second removal of an already-gone worktree succeeds.
	require.NoError(t, m.Remove(context.Background(), "a1b2c3d4"))
}

func TestCreateValidateRemoveCycle(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "a1b2c3d4", "feat-x", 8500, 9200)
	require.NoError(t, err)
	require.NoError(t, m.Validate(ctx, "a1b2c3d4", path))
	require.NoError(t, m.Remove(ctx, "a1b2c3d4"))
	require.ErrorIs(t, m.Validate(ctx, "a1b2c3d4", path), ErrMissing)
}
