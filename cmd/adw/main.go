// Package main provides the adw binary entry point.
// adw is an agentic development workflow orchestrator: it drives
// headless AI coding agents through plan/build/test/review/document/
// ship pipelines, each run isolated in its own git worktree.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/c360studio/adw/commands"
)

const Version = "0.1.0"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := commands.NewRoot(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
