// Package tools holds the subprocess plumbing shared by the git and
// forge executors.
package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Result captures everything a shim needs from a finished subprocess.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs a subprocess in a working directory. Extracted as
// an interface so the executors can be tested without git or gh on the
// host.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// ExecRunner is the production CommandRunner backed by os/exec.
type ExecRunner struct {
	// Env entries appended to the inherited environment for every
	// invocation (e.g. GH_TOKEN).
	Env []string
}

// Run implements CommandRunner. A non-zero exit is reported through
// Result.ExitCode with a nil error; err is reserved for failures to
// start the process at all.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// FirstLine returns the first line of s, trimmed. Convenient for CLI
// tools that print a URL or ref on stdout.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
