package git

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/adw/tools"
)

// fakeRunner records invocations and replies from a script keyed on the
// joined argument string.
type fakeRunner struct {
	calls   [][]string
	dirs    []string
	replies map[string]tools.Result
}

func (f *fakeRunner) Run(_ context.Context, dir, name string, args ...string) (tools.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	f.dirs = append(f.dirs, dir)
	if res, ok := f.replies[strings.Join(args, " ")]; ok {
		return res, nil
	}
	return tools.Result{}, nil
}

func TestValidBranchName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"feat-issue-456-run-abc123-add-csv", true},
		{"bug/fix_thing.2", true},
		{"", false},
		{"-leading-dash", false},
		{"has space", false},
		{"bad;rm -rf", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, ValidBranchName(tt.name), tt.name)
	}
}

func TestCommitSkipsCleanTree(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"status --porcelain": {Stdout: "  \n"},
	}}
	e := NewExecutor("/repo", fr)

	committed, err := e.Commit(context.Background(), "/trees/abc", "build: changes")
	require.NoError(t, err)
	assert.False(t, committed)

	// add + status, but no commit.
	require.Len(t, fr.calls, 2)
	assert.Equal(t, []string{"git", "add", "-A"}, fr.calls[0])
	assert.Equal(t, "/trees/abc", fr.dirs[0])
}

func TestCommitDirtyTree(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"status --porcelain": {Stdout: " M main.go\n"},
	}}
	e := NewExecutor("/repo", fr)

	committed, err := e.Commit(context.Background(), "/trees/abc", "build: changes")
	require.NoError(t, err)
	assert.True(t, committed)
	require.Len(t, fr.calls, 3)
	assert.Equal(t, []string{"git", "commit", "-m", "build: changes"}, fr.calls[2])
}

func TestMergeConflictSurfacesFiles(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"merge --squash feat-x":            {ExitCode: 1, Stderr: "CONFLICT"},
		"diff --name-only --diff-filter=U": {Stdout: "a.go\nb.go\n"},
		"merge --abort":                    {},
		"rev-parse --abbrev-ref HEAD":      {Stdout: "main\n"},
	}}
	e := NewExecutor("/repo", fr)

	err := e.Merge(context.Background(), "/repo", "feat-x", StrategySquash)
	var conflict *MergeConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"a.go", "b.go"}, conflict.Files)
	assert.Equal(t, "feat-x", conflict.Branch)

	// Merge must have been aborted to leave the tree usable.
	last := fr.calls[len(fr.calls)-1]
	assert.Equal(t, []string{"git", "merge", "--abort"}, last)
}

func TestMergeNonConflictFailure(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"merge --no-ff feat-x":             {ExitCode: 128, Stderr: "fatal: not something we can merge"},
		"diff --name-only --diff-filter=U": {Stdout: "\n"},
	}}
	e := NewExecutor("/repo", fr)

	err := e.Merge(context.Background(), "/repo", "feat-x", StrategyMerge)
	require.Error(t, err)
	var conflict *MergeConflictError
	assert.False(t, errors.As(err, &conflict))
	assert.Contains(t, err.Error(), "not something we can merge")
}

func TestWorktreeAddArgs(t *testing.T) {
	fr := &fakeRunner{}
	e := NewExecutor("/repo", fr)

	err := e.WorktreeAdd(context.Background(), "/trees/abc12345", "feat-x", "main")
	require.NoError(t, err)
	require.Len(t, fr.calls, 1)
	assert.Equal(t, []string{"git", "worktree", "add", "-b", "feat-x", "/trees/abc12345", "main"}, fr.calls[0])
	// Worktree management always runs from the primary repo.
	assert.Equal(t, "/repo", fr.dirs[0])
}

func TestWorktreeList(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"worktree list --porcelain": {Stdout: "worktree /repo\nHEAD abc\n\nworktree /trees/x1y2z3w4\nHEAD def\nbranch refs/heads/feat-x\n"},
	}}
	e := NewExecutor("/repo", fr)

	paths, err := e.WorktreeList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/repo", "/trees/x1y2z3w4"}, paths)
}

func TestWorktreeRemoveIdempotent(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"worktree remove --force /trees/gone": {ExitCode: 128, Stderr: "fatal: '/trees/gone' is not a working tree"},
	}}
	e := NewExecutor("/repo", fr)
	assert.NoError(t, e.WorktreeRemove(context.Background(), "/trees/gone"))
}

func TestBranchCreateRejectsInvalidName(t *testing.T) {
	e := NewExecutor("/repo", &fakeRunner{})
	err := e.BranchCreate(context.Background(), "/repo", "bad name")
	require.Error(t, err)
}
