package agent

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/adw/logstream"
)

// maxStreamLine bounds a single NDJSON line; tool results can carry
// whole files.
const maxStreamLine = 4 * 1024 * 1024

// Tailer follows an append-only NDJSON file and feeds parsed entries
// into the log stream. It keeps reading until the watched context is
// cancelled (child exited) and the file is drained to EOF.
type Tailer struct {
	path   string
	runID  string
	phase  string
	logs   *logstream.Stream
	logger *slog.Logger

	// partial carries an incomplete trailing line between drains.
	partial []byte
}

// NewTailer creates a tailer for one agent invocation.
func NewTailer(path, runID, phase string, logs *logstream.Stream, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{path: path, runID: runID, phase: phase, logs: logs, logger: logger}
}

// Run tails the file until ctx is cancelled, then drains whatever
// remains. Returns only on unrecoverable watcher setup failure; in
// that case it degrades to polling.
func (t *Tailer) Run(ctx context.Context) {
	f, err := t.waitForFile(ctx)
	if err != nil {
		return
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		t.pollLoop(ctx, reader)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Warn("watch failed, falling back to polling", "error", err)
		t.pollLoop(ctx, reader)
		return
	}

	for {
		t.drain(reader)
		select {
		case <-ctx.Done():
			t.drain(reader)
			return
		case ev := <-watcher.Events:
			if ev.Name != t.path || !ev.Has(fsnotify.Write) {
				continue
			}
		case err := <-watcher.Errors:
			t.logger.Debug("watcher error", "error", err)
		case <-time.After(500 * time.Millisecond):
			// Periodic drain covers missed events on some platforms.
		}
	}
}

// waitForFile blocks until the CLI creates the output file. When the
// child exits before the first poll succeeds, one final open covers a
// file written in the last instant.
func (t *Tailer) waitForFile(ctx context.Context) (*os.File, error) {
	for {
		f, err := os.Open(t.path)
		if err == nil {
			return f, nil
		}
		select {
		case <-ctx.Done():
			if f, err := os.Open(t.path); err == nil {
				return f, nil
			}
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (t *Tailer) pollLoop(ctx context.Context, reader *bufio.Reader) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.drain(reader)
		select {
		case <-ctx.Done():
			t.drain(reader)
			return
		case <-ticker.C:
		}
	}
}

// drain reads complete lines until EOF, appending an entry per line.
// A trailing partial line (writer mid-append) is carried over to the
// next drain.
func (t *Tailer) drain(reader *bufio.Reader) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("tail read error", "error", err)
			}
			if len(line) > 0 {
				t.partial = append(t.partial, line...)
			}
			return
		}
		if len(t.partial) > 0 {
			line = append(t.partial, line...)
			t.partial = nil
		}
		if len(line) > maxStreamLine {
			t.logger.Debug("oversized stream line dropped", "bytes", len(line))
			continue
		}
		t.emit(line)
	}
}

func (t *Tailer) emit(line []byte) {
	ev, err := ParseStreamLine(line)
	if err != nil {
		t.logs.Append(logstream.Entry{
			RunID:     t.runID,
			Phase:     t.phase,
			Timestamp: time.Now(),
			Level:     "debug",
			Message:   "unparseable agent output line",
		})
		return
	}
	if ev == nil {
		return
	}
	t.logs.Append(logstream.Entry{
		RunID:     t.runID,
		Phase:     t.phase,
		Timestamp: time.Now(),
		Level:     ev.Level(),
		Message:   ev.Text(),
		Raw:       ev.Raw,
	})
}
