package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Writer is an io.Writer that forwards local command output to slog line by line.
// Partial lines are buffered until a newline or Flush.
type Writer struct {
	logger *slog.Logger
	level  slog.Level
	attrs  []any

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewWriter constructs a Writer that logs at info level with the given attributes.
func NewWriter(logger *slog.Logger, attrs ...any) *Writer {
	return &Writer{logger: logger, level: slog.LevelInfo, attrs: attrs}
}

// NewDebugWriter constructs a Writer that logs at debug level.
func NewDebugWriter(logger *slog.Logger, attrs ...any) *Writer {
	return &Writer{logger: logger, level: slog.LevelDebug, attrs: attrs}
}

// Write logs every complete line in p.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *Writer) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || w.logger == nil {
		return
	}
	args := append([]any{"line", line}, w.attrs...)
	w.logger.Log(context.Background(), w.level, "command output", args...)
}
