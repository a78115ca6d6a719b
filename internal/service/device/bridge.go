package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Bridge runs bridge tool commands.
type Bridge interface {
	// Output runs a command to completion and returns its combined output.
	Output(ctx context.Context, args ...string) (string, error)
	// Stream runs a command and hands every output line to onLine.
	Stream(ctx context.Context, onLine func(string), args ...string) error
}

// CommandBridge runs the bridge tool executable.
type CommandBridge struct {
	path string
}

// NewCommandBridge creates a bridge backed by the executable at path.
func NewCommandBridge(path string) *CommandBridge {
	return &CommandBridge{path: path}
}

// Output implements Bridge.
func (b *CommandBridge) Output(ctx context.Context, args ...string) (string, error) {
	//nolint:gosec // The bridge path comes from the tool settings.
	output, err := exec.CommandContext(ctx, b.path, args...).CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w", b.path, strings.Join(args, " "), err)
	}

	return string(output), nil
}

// Stream implements Bridge.
func (b *CommandBridge) Stream(ctx context.Context, onLine func(string), args ...string) error {
	writer := &lineWriter{onLine: onLine}

	//nolint:gosec // The bridge path comes from the tool settings.
	cmd := exec.CommandContext(ctx, b.path, args...)
	cmd.Stdout = writer
	cmd.Stderr = writer

	err := cmd.Run()

	writer.flush()

	if err != nil {
		return fmt.Errorf("%s %s: %w", b.path, strings.Join(args, " "), err)
	}

	return nil
}

// lineWriter splits written bytes into lines.
type lineWriter struct {
	mu      sync.Mutex
	pending bytes.Buffer
	onLine  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)

	for {
		line, err := w.pending.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.pending.Reset()
			w.pending.WriteString(line)

			break
		}

		w.emit(line)
	}

	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Len() > 0 {
		w.emit(w.pending.String())
		w.pending.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	if line = strings.TrimRight(line, "\r\n"); line != "" {
		w.onLine(line)
	}
}
