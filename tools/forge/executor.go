// Package forge wraps the forge's gh-style CLI: issue reads, comments,
// and pull-request lifecycle. In board mode write operations become
// no-ops and issue reads are served from an inline payload, so phases
// behave identically whether the work item came from the forge or from
// the board UI.
package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/c360studio/adw/tools"
)

// ErrNoPullRequest is returned when no open PR exists for a branch.
var ErrNoPullRequest = errors.New("no pull request for branch")

// Issue is the subset of forge issue data the workflow consumes.
type Issue struct {
	Number      string   `json:"number"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Labels      []string `json:"labels"`
	Attachments []string `json:"attachments,omitempty"`
}

// PullRequest identifies a forge pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// Executor talks to the forge through its CLI.
type Executor struct {
	repoRoot string
	repoURL  string
	runner   tools.CommandRunner
	logger   *slog.Logger

	// boardIssue, when set, serves reads and suppresses writes.
	boardIssue *Issue
}

// Option configures an Executor.
type Option func(*Executor)

// WithBoardIssue switches the executor to board mode: fetches return
// the inline issue, posts and PR creation succeed without touching the
// forge.
func WithBoardIssue(issue *Issue) Option {
	return func(e *Executor) { e.boardIssue = issue }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a forge executor for repoURL, running the CLI
// from repoRoot.
func NewExecutor(repoRoot, repoURL string, runner tools.CommandRunner, opts ...Option) *Executor {
	if runner == nil {
		runner = &tools.ExecRunner{}
	}
	e := &Executor{
		repoRoot: repoRoot,
		repoURL:  repoURL,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BoardMode reports whether writes are suppressed.
func (e *Executor) BoardMode() bool {
	return e.boardIssue != nil
}

func (e *Executor) run(ctx context.Context, args ...string) (string, error) {
	args = append(args, "--repo", e.repoURL)
	res, err := e.runner.Run(ctx, e.repoRoot, "gh", args...)
	if err != nil {
		return "", fmt.Errorf("gh %s: %w", args[0], err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("gh %s exited %d: %s",
			strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// FetchIssue loads an issue by number. Board mode serves the inline
// payload regardless of the requested number.
func (e *Executor) FetchIssue(ctx context.Context, number string) (*Issue, error) {
	if e.boardIssue != nil {
		return e.boardIssue, nil
	}
	out, err := e.run(ctx, "issue", "view", number, "--json", "number,title,body,labels")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse issue %s: %w", number, err)
	}
	issue := &Issue{
		Number: strconv.Itoa(raw.Number),
		Title:  raw.Title,
		Body:   raw.Body,
	}
	for _, l := range raw.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue, nil
}

// PostComment adds a comment to an issue. No-op in board mode.
func (e *Executor) PostComment(ctx context.Context, number, body string) error {
	if e.boardIssue != nil {
		e.logger.Debug("board mode: comment suppressed", "issue", number)
		return nil
	}
	_, err := e.run(ctx, "issue", "comment", number, "--body", body)
	return err
}

// PRCreate opens a pull request for branch. No-op in board mode,
// returning a synthetic PR so downstream bookkeeping still works.
func (e *Executor) PRCreate(ctx context.Context, branch, title, body string) (*PullRequest, error) {
	if e.boardIssue != nil {
		e.logger.Debug("board mode: PR creation suppressed", "branch", branch)
		return &PullRequest{Branch: branch}, nil
	}
	out, err := e.run(ctx, "pr", "create", "--head", branch, "--title", title, "--body", body)
	if err != nil {
		return nil, err
	}
	url := tools.FirstLine(out)
	return &PullRequest{Number: prNumberFromURL(url), URL: url, Branch: branch}, nil
}

// PRFindForBranch locates the open PR whose head is branch.
func (e *Executor) PRFindForBranch(ctx context.Context, branch string) (*PullRequest, error) {
	if e.boardIssue != nil {
		return &PullRequest{Branch: branch}, nil
	}
	out, err := e.run(ctx, "pr", "list", "--head", branch, "--state", "open", "--json", "number,url", "--limit", "1")
	if err != nil {
		return nil, err
	}
	var prs []struct {
		Number int    `json:"number"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse pr list: %w", err)
	}
	if len(prs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPullRequest, branch)
	}
	return &PullRequest{Number: prs[0].Number, URL: prs[0].URL, Branch: branch}, nil
}

// PREditBody replaces a PR's body (used by review to attach screenshot
// links). No-op in board mode.
func (e *Executor) PREditBody(ctx context.Context, number int, body string) error {
	if e.boardIssue != nil {
		return nil
	}
	_, err := e.run(ctx, "pr", "edit", strconv.Itoa(number), "--body", body)
	return err
}

// PRApprove approves a pull request. No-op in board mode.
func (e *Executor) PRApprove(ctx context.Context, number int) error {
	if e.boardIssue != nil {
		return nil
	}
	_, err := e.run(ctx, "pr", "review", strconv.Itoa(number), "--approve")
	return err
}

// PRMerge squash-merges a pull request and deletes the remote branch.
// No-op in board mode.
func (e *Executor) PRMerge(ctx context.Context, number int) error {
	if e.boardIssue != nil {
		return nil
	}
	_, err := e.run(ctx, "pr", "merge", strconv.Itoa(number), "--squash", "--delete-branch")
	return err
}

// prNumberFromURL extracts the trailing number from a PR URL, 0 if
// the URL has no numeric tail.
func prNumberFromURL(url string) int {
	idx := strings.LastIndexByte(url, '/')
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
