package procmgr

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
)

// maxLineBytes bounds a single protocol line. Symbol dumps for large
// modules can run long, so this is generous.
const maxLineBytes = 16 * 1024 * 1024

// readStdout delivers exactly one EventMessage per complete newline
// terminated line. bufio.Scanner buffers partial lines across read chunks,
// so a line split over several pipe reads still arrives as one event and
// two lines are never merged.
func (m *Manager) readStdout(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}
		m.markRunning()
		m.events <- Event{Type: EventMessage, Line: line}
	}
	if err := sc.Err(); err != nil {
		slog.Error("interpreter stdout read failed", "error", err)
		m.events <- Event{Type: EventError, Err: err}
	}
}

// readStderr forwards diagnostic lines as EventStderr and mirrors them to
// the rotated stderr log when configured. Stderr is never parsed as
// protocol data.
func (m *Manager) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		text := sc.Text()
		m.mu.Lock()
		w := m.stderrLog
		m.mu.Unlock()
		if w != nil {
			_, _ = io.WriteString(w, text+"\n")
		}
		slog.Debug("interpreter stderr", "text", text)
		m.events <- Event{Type: EventStderr, Text: text}
	}
}
