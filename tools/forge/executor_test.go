package forge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/adw/tools"
)

type fakeRunner struct {
	calls   [][]string
	replies map[string]tools.Result
}

func (f *fakeRunner) Run(_ context.Context, _, name string, args ...string) (tools.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if res, ok := f.replies[strings.Join(args[:2], " ")]; ok {
		return res, nil
	}
	return tools.Result{}, nil
}

func TestFetchIssueParsesJSON(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"issue view": {Stdout: `{"number":456,"title":"Add CSV export button","body":"Please add it","labels":[{"name":"enhancement"}]}`},
	}}
	e := NewExecutor("/repo", "owner/repo", fr)

	issue, err := e.FetchIssue(context.Background(), "456")
	require.NoError(t, err)
	assert.Equal(t, "456", issue.Number)
	assert.Equal(t, "Add CSV export button", issue.Title)
	assert.Equal(t, []string{"enhancement"}, issue.Labels)

	// Every invocation targets the configured repo.
	last := fr.calls[len(fr.calls)-1]
	assert.Contains(t, last, "--repo")
	assert.Contains(t, last, "owner/repo")
}

func TestFetchIssueExitError(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"issue view": {ExitCode: 1, Stderr: "could not resolve issue"},
	}}
	e := NewExecutor("/repo", "owner/repo", fr)

	_, err := e.FetchIssue(context.Background(), "999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not resolve issue")
}

func TestBoardModeReadsSynthesized(t *testing.T) {
	board := &Issue{Number: "77", Title: "Board card", Body: "from board", Labels: []string{"bug"}}
	fr := &fakeRunner{}
	e := NewExecutor("/repo", "owner/repo", fr, WithBoardIssue(board))

	issue, err := e.FetchIssue(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, board, issue)
	assert.Empty(t, fr.calls, "board mode must not shell out for reads")
}

func TestBoardModeWritesSuppressed(t *testing.T) {
	fr := &fakeRunner{}
	e := NewExecutor("/repo", "owner/repo", fr, WithBoardIssue(&Issue{Number: "77"}))

	require.NoError(t, e.PostComment(context.Background(), "77", "hello"))
	pr, err := e.PRCreate(context.Background(), "feat-x", "t", "b")
	require.NoError(t, err)
	assert.Equal(t, "feat-x", pr.Branch)
	require.NoError(t, e.PRApprove(context.Background(), 1))
	require.NoError(t, e.PRMerge(context.Background(), 1))
	assert.Empty(t, fr.calls, "board mode must not shell out for writes")
}

func TestPRFindForBranch(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"pr list": {Stdout: `[{"number":12,"url":"https://forge.example/owner/repo/pull/12"}]`},
	}}
	e := NewExecutor("/repo", "owner/repo", fr)

	pr, err := e.PRFindForBranch(context.Background(), "feat-x")
	require.NoError(t, err)
	assert.Equal(t, 12, pr.Number)
	assert.Equal(t, "feat-x", pr.Branch)
}

func TestPRFindForBranchMissing(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"pr list": {Stdout: `[]`},
	}}
	e := NewExecutor("/repo", "owner/repo", fr)

	_, err := e.PRFindForBranch(context.Background(), "feat-x")
	require.ErrorIs(t, err, ErrNoPullRequest)
}

func TestPRCreateParsesURL(t *testing.T) {
	fr := &fakeRunner{replies: map[string]tools.Result{
		"pr create": {Stdout: "https://forge.example/owner/repo/pull/34\n"},
	}}
	e := NewExecutor("/repo", "owner/repo", fr)

	pr, err := e.PRCreate(context.Background(), "feat-x", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, 34, pr.Number)
	assert.Equal(t, "https://forge.example/owner/repo/pull/34", pr.URL)
}

func TestPRMergeArgs(t *testing.T) {
	fr := &fakeRunner{}
	e := NewExecutor("/repo", "owner/repo", fr)
	require.NoError(t, e.PRMerge(context.Background(), 34))
	require.Len(t, fr.calls, 1)
	assert.Equal(t, []string{"gh", "pr", "merge", "34", "--squash", "--delete-branch", "--repo", "owner/repo"}, fr.calls[0])
}
