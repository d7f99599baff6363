// Package procmgr owns the single Pike interpreter child process and turns
// its raw stdout byte stream into discrete line events. Nothing else in the
// repo touches the process handle or its pipes.
package procmgr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/poppa/pike-lsp-sub000/internal/env"
	"github.com/poppa/pike-lsp-sub000/internal/logger"
	"github.com/poppa/pike-lsp-sub000/internal/metrics"
)

var (
	// ErrSpawn reports that the interpreter executable could not be launched.
	ErrSpawn = errors.New("interpreter spawn failed")
	// ErrNotRunning reports a Send against a stopped or crashed interpreter.
	ErrNotRunning = errors.New("interpreter not running")
)

// Spec describes how to launch the interpreter.
type Spec struct {
	Name    string        `json:"name"`     // label for logs and metrics (default "pike")
	Path    string        `json:"path"`     // interpreter executable
	Args    []string      `json:"args"`     // typically the analysis script path
	Env     []string      `json:"env"`      // extra KEY=VALUE entries
	WorkDir string        `json:"work_dir"` // optional working dir
	Log     logger.Config `json:"log"`      // stderr mirroring config
}

func (s Spec) label() string {
	if s.Name == "" {
		return "pike"
	}
	return s.Name
}

// Status is a point-in-time snapshot of the child process.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Restarts  int       `json:"restarts"`
	LastExit  string    `json:"last_exit,omitempty"`
}

// Manager owns exactly one child process. Start may be called again after
// the process stopped or crashed; the event channel stays valid across runs.
type Manager struct {
	mu     sync.Mutex
	spec   Spec
	envM   *env.Env
	events chan Event

	state     State
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderrLog io.WriteCloser
	outbox    []string // lines queued while Starting
	stopping  bool
	waitDone  chan struct{} // closed when the current run's waiter returns

	startedAt time.Time
	stoppedAt time.Time
	restarts  int
	lastExit  string

	exitEvents atomic.Uint64 // EventExit emissions, for consumer catch-up
}

func New(spec Spec) *Manager {
	e := env.New()
	e.SetAll(spec.Env)
	return &Manager{
		spec:   spec,
		envM:   e,
		events: make(chan Event, 256),
		state:  StateStopped,
	}
}

// Events returns the lifecycle event stream. The channel is never closed;
// consumers multiplex it with their own shutdown signal.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Name:      m.spec.label(),
		State:     m.state,
		StartedAt: m.startedAt,
		StoppedAt: m.stoppedAt,
		Restarts:  m.restarts,
		LastExit:  m.lastExit,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		st.PID = m.cmd.Process.Pid
	}
	return st
}

// Start spawns the interpreter. It is an error to start while a run is
// already Starting or Running. A restart after a crash counts in Restarts.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.state == StateStarting || m.state == StateRunning {
		m.mu.Unlock()
		return nil
	}
	// Reserve the transition before dropping the lock; a concurrent Start
	// must not spawn a second child.
	prev := m.state
	m.setStateLocked(StateStarting)
	m.outbox = nil
	wasCrashed := prev == StateCrashed
	spec := m.spec
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.setStateLocked(prev)
		m.mu.Unlock()
		return err
	}

	// #nosec G204 -- executable and args come from operator config
	cmd := exec.Command(spec.Path, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = m.envM.Merge(nil)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err))
	}
	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrSpawn, err))
	}

	m.mu.Lock()
	m.cmd = cmd
	m.stdin = stdin
	m.setStateLocked(StateStarting)
	m.startedAt = time.Now()
	m.stoppedAt = time.Time{}
	m.lastExit = ""
	m.stopping = false
	m.waitDone = make(chan struct{})
	if m.stderrLog == nil {
		m.stderrLog = spec.Log.StderrWriter(spec.label())
	}
	if wasCrashed {
		m.restarts++
		metrics.IncProcessRestart(spec.label())
	}
	metrics.IncProcessStart(spec.label())
	done := m.waitDone
	m.mu.Unlock()

	slog.Debug("interpreter started", "path", spec.Path, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.readStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		m.readStderr(stderr)
	}()
	go m.waitExit(cmd, &readers, done)
	return nil
}

// Send writes one newline-terminated protocol line to the interpreter's
// stdin. While the process is still Starting the line is queued and flushed
// once the first output line is observed.
func (m *Manager) Send(line string) error {
	m.mu.Lock()
	switch m.state {
	case StateStarting:
		m.outbox = append(m.outbox, line)
		m.mu.Unlock()
		return nil
	case StateRunning:
		stdin := m.stdin
		m.mu.Unlock()
		if _, err := io.WriteString(stdin, line+"\n"); err != nil {
			return fmt.Errorf("write to interpreter: %w", err)
		}
		return nil
	default:
		m.mu.Unlock()
		return ErrNotRunning
	}
}

// Stop terminates the child: SIGTERM, then SIGKILL after grace. It is
// idempotent and guarantees the handle and writers are released on every
// path.
func (m *Manager) Stop(grace time.Duration) error {
	m.mu.Lock()
	cmd := m.cmd
	done := m.waitDone
	if cmd == nil || cmd.Process == nil || (m.state != StateRunning && m.state != StateStarting) {
		m.setStateLocked(StateStopped)
		m.closeWritersLocked()
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	m.mu.Unlock()

	// Signal the whole process group; the interpreter may have forked.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	if grace <= 0 {
		grace = 3 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}

	m.mu.Lock()
	m.setStateLocked(StateStopped)
	m.closeWritersLocked()
	m.mu.Unlock()
	metrics.IncProcessStop(m.spec.label())
	return nil
}

func (m *Manager) closeWritersLocked() {
	if m.stdin != nil {
		_ = m.stdin.Close()
		m.stdin = nil
	}
	if m.stderrLog != nil {
		_ = m.stderrLog.Close()
		m.stderrLog = nil
	}
	m.cmd = nil
	m.outbox = nil
}

// markRunning flips Starting->Running on the first observed output line and
// flushes any queued protocol lines in order.
func (m *Manager) markRunning() {
	m.mu.Lock()
	if m.state != StateStarting {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateRunning)
	queued := m.outbox
	m.outbox = nil
	stdin := m.stdin
	m.mu.Unlock()
	for _, line := range queued {
		if _, err := io.WriteString(stdin, line+"\n"); err != nil {
			slog.Warn("flushing queued line failed", "error", err)
			return
		}
	}
}

func (m *Manager) waitExit(cmd *exec.Cmd, readers *sync.WaitGroup, done chan struct{}) {
	readers.Wait()
	err := cmd.Wait()
	code, sig := exitCodeSignal(cmd, err)

	m.mu.Lock()
	m.stoppedAt = time.Now()
	if err != nil {
		m.lastExit = err.Error()
	} else {
		m.lastExit = "exit status 0"
	}
	stopping := m.stopping
	if stopping {
		m.setStateLocked(StateStopped)
	} else {
		m.setStateLocked(StateCrashed)
	}
	m.mu.Unlock()
	close(done)

	if !stopping {
		slog.Warn("interpreter exited unexpectedly", "code", code, "signal", sig)
	}
	m.exitEvents.Add(1)
	m.events <- Event{Type: EventExit, Code: code, Signal: sig, Unexpected: !stopping}
}

// ExitCount reports how many EventExit events have ever been emitted.
// Consumers draining Events can compare against it to know whether a
// stopped session's exit notification is still in flight.
func (m *Manager) ExitCount() uint64 { return m.exitEvents.Load() }

func exitCodeSignal(cmd *exec.Cmd, err error) (int, string) {
	if cmd.ProcessState == nil {
		if err != nil {
			return -1, ""
		}
		return 0, ""
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return cmd.ProcessState.ExitCode(), ""
}

func (m *Manager) setStateLocked(next State) {
	if m.state == next {
		return
	}
	metrics.ObserveStateTransition(m.spec.label(), m.state.String(), next.String())
	m.state = next
}
