// Package git wraps the git CLI for the workflow engine: branch
// management, commits, pushes, merges, and worktree lifecycle. All
// operations run against an explicit working directory so concurrent
// runs never touch each other's trees.
package git

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/adw/tools"
)

// MergeStrategy selects how Merge integrates a branch.
type MergeStrategy string

// Supported merge strategies.
const (
	StrategySquash MergeStrategy = "squash"
	StrategyMerge  MergeStrategy = "merge"
	StrategyRebase MergeStrategy = "rebase"
)

// MergeConflictError reports a merge that stopped on conflicts.
type MergeConflictError struct {
	Branch string
	Files  []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge of %s conflicts in %d file(s): %s",
		e.Branch, len(e.Files), strings.Join(e.Files, ", "))
}

// branchNamePattern constrains generated branch names to what git and
// the forge both accept.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// ValidBranchName reports whether name is safe to pass to git.
func ValidBranchName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "-") && branchNamePattern.MatchString(name)
}

// Executor runs git operations via subprocess.
type Executor struct {
	repoRoot string
	runner   tools.CommandRunner
}

// NewExecutor creates a git executor rooted at the primary repository.
// Worktree-scoped operations take their directory per call.
func NewExecutor(repoRoot string, runner tools.CommandRunner) *Executor {
	if runner == nil {
		runner = &tools.ExecRunner{}
	}
	return &Executor{repoRoot: repoRoot, runner: runner}
}

func (e *Executor) run(ctx context.Context, dir string, args ...string) (tools.Result, error) {
	if dir == "" {
		dir = e.repoRoot
	}
	res, err := e.runner.Run(ctx, dir, "git", args...)
	if err != nil {
		return res, fmt.Errorf("git %s: %w", args[0], err)
	}
	return res, nil
}

// mustRun runs git and converts a non-zero exit into an error carrying
// captured stderr.
func (e *Executor) mustRun(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := e.run(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git %s exited %d: %s",
			strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// BranchCreate creates and checks out a branch in dir.
func (e *Executor) BranchCreate(ctx context.Context, dir, name string) error {
	if !ValidBranchName(name) {
		return fmt.Errorf("invalid branch name %q", name)
	}
	_, err := e.mustRun(ctx, dir, "checkout", "-b", name)
	return err
}

// Checkout switches dir to an existing branch.
func (e *Executor) Checkout(ctx context.Context, dir, name string) error {
	_, err := e.mustRun(ctx, dir, "checkout", name)
	return err
}

// CurrentBranch returns the branch checked out in dir.
func (e *Executor) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := e.mustRun(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return tools.FirstLine(out), nil
}

// Commit stages everything in dir and commits with message. A clean
// tree is not an error; it reports committed=false.
func (e *Executor) Commit(ctx context.Context, dir, message string) (bool, error) {
	if _, err := e.mustRun(ctx, dir, "add", "-A"); err != nil {
		return false, err
	}
	status, err := e.mustRun(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if _, err := e.mustRun(ctx, dir, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Push pushes branch from dir, setting upstream on first push.
func (e *Executor) Push(ctx context.Context, dir, branch string) error {
	_, err := e.mustRun(ctx, dir, "push", "-u", "origin", branch)
	return err
}

// Merge integrates branch into the branch checked out in dir using the
// given strategy. Conflicts surface as *MergeConflictError with the
// conflicted paths, and the merge is aborted so dir stays usable.
func (e *Executor) Merge(ctx context.Context, dir, branch string, strategy MergeStrategy) error {
	var args []string
	switch strategy {
	case StrategySquash:
		args = []string{"merge", "--squash", branch}
	case StrategyRebase:
		args = []string{"rebase", branch}
	case StrategyMerge, "":
		args = []string{"merge", "--no-ff", branch}
	default:
		return fmt.Errorf("unknown merge strategy %q", strategy)
	}

	res, err := e.run(ctx, dir, args...)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return nil
	}

	files, listErr := e.conflictedFiles(ctx, dir)
	if listErr == nil && len(files) > 0 {
		if strategy == StrategyRebase {
			_, _ = e.run(ctx, dir, "rebase", "--abort")
		} else {
			_, _ = e.run(ctx, dir, "merge", "--abort")
		}
		return &MergeConflictError{Branch: branch, Files: files}
	}
	return fmt.Errorf("git %s exited %d: %s",
		strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
}

// conflictedFiles lists unmerged paths in dir.
func (e *Executor) conflictedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := e.mustRun(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// WorktreeAdd creates a worktree at path on a new branch cut from base.
func (e *Executor) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	if !ValidBranchName(branch) {
		return fmt.Errorf("invalid branch name %q", branch)
	}
	_, err := e.mustRun(ctx, "", "worktree", "add", "-b", branch, path, base)
	return err
}

// WorktreeList returns the absolute paths git knows as worktrees.
func (e *Executor) WorktreeList(ctx context.Context) ([]string, error) {
	out, err := e.mustRun(ctx, "", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, strings.TrimSpace(rest))
		}
	}
	return paths, nil
}

// WorktreeRemove force-removes the worktree at path. Removing a
// worktree git no longer knows about is not an error.
func (e *Executor) WorktreeRemove(ctx context.Context, path string) error {
	res, err := e.run(ctx, "", "worktree", "remove", "--force", path)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "is not a working tree") {
		return fmt.Errorf("git worktree remove exited %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
