// Package bridge turns the interpreter's line-oriented channel into a
// correlated call interface: every outbound request gets a unique id, a
// per-call deadline, and a one-shot waiter that settles on the matching
// response line, on timeout, or on process death, whichever comes first.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poppa/pike-lsp-sub000/internal/detector"
	"github.com/poppa/pike-lsp-sub000/internal/history"
	"github.com/poppa/pike-lsp-sub000/internal/metrics"
	"github.com/poppa/pike-lsp-sub000/internal/procmgr"
)

// DefaultTimeout applies when a call passes no explicit timeout.
const DefaultTimeout = 10 * time.Second

const stderrTailLen = 32

// Transport is the slice of procmgr the bridge needs. Satisfied by
// *procmgr.Manager; tests substitute a scripted fake.
type Transport interface {
	Start() error
	Stop(grace time.Duration) error
	Send(line string) error
	Events() <-chan procmgr.Event
	Snapshot() procmgr.Status
	ExitCount() uint64
}

// Options tunes a Bridge.
type Options struct {
	DefaultTimeout time.Duration
	StopGrace      time.Duration
	// Detect probes local interpreter availability for the health surface.
	Detect detector.Detector
	// RecordEvent, when set, receives audit events (spawn/exit/crash).
	// It must not block.
	RecordEvent func(history.Event)
}

// outcome settles exactly one waiter. Whoever deletes the pending entry
// under the mutex is the one who sends it; the channel is buffered so the
// send never blocks.
type outcome struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	method   string
	issuedAt time.Time
	ch       chan outcome
}

// Bridge correlates calls over a single Transport. It is the only writer
// of the pending table.
type Bridge struct {
	tr   Transport
	opts Options

	mu      sync.Mutex
	pending map[uint64]*pendingRequest

	nextID    atomic.Uint64
	healthy   atomic.Bool
	exitsSeen atomic.Uint64

	tailMu sync.Mutex
	tail   []string // recent interpreter stderr lines

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(tr Transport, opts Options) *Bridge {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 3 * time.Second
	}
	b := &Bridge{
		tr:      tr,
		opts:    opts,
		pending: make(map[uint64]*pendingRequest),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Start launches the interpreter and marks the bridge healthy.
func (b *Bridge) Start() error {
	if err := b.tr.Start(); err != nil {
		return err
	}
	b.healthy.Store(true)
	b.record(history.Event{Type: history.EventSpawn, OccurredAt: time.Now().UTC(), PID: b.tr.Snapshot().PID})
	return nil
}

// Restart stops the interpreter (if any) and launches a fresh one. Pending
// calls from the previous session fail with ErrCrash via the exit event.
func (b *Bridge) Restart() error {
	_ = b.tr.Stop(b.opts.StopGrace)
	b.drainExits()
	if err := b.tr.Start(); err != nil {
		return err
	}
	b.healthy.Store(true)
	b.record(history.Event{Type: history.EventRestart, OccurredAt: time.Now().UTC(), PID: b.tr.Snapshot().PID})
	return nil
}

// Close stops the interpreter and the dispatch loop. The bridge cannot be
// reused afterwards.
func (b *Bridge) Close() error {
	err := b.tr.Stop(b.opts.StopGrace)
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	b.failAllPending(ErrCrash)
	return err
}

// Healthy reports whether the last known interpreter session is usable.
func (b *Bridge) Healthy() bool { return b.healthy.Load() }

// Status exposes the child process snapshot for the operational surface.
func (b *Bridge) Status() procmgr.Status { return b.tr.Snapshot() }

// StderrTail returns the most recent interpreter diagnostic lines.
func (b *Bridge) StderrTail() []string {
	b.tailMu.Lock()
	defer b.tailMu.Unlock()
	out := make([]string, len(b.tail))
	copy(out, b.tail)
	return out
}

// Call dispatches one request and blocks until the matching response
// arrives, the timeout elapses, or the interpreter dies. The returned
// raw message is the response's result field.
//
// Timeout is client-side abandonment only: the interpreter may still
// execute the request, and its late response is dropped by id.
func (b *Bridge) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = b.opts.DefaultTimeout
	}
	id := b.nextID.Add(1)
	line, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	p := &pendingRequest{method: method, issuedAt: time.Now(), ch: make(chan outcome, 1)}
	b.mu.Lock()
	b.pending[id] = p
	metrics.SetPending(len(b.pending))
	b.mu.Unlock()

	slog.Debug("bridge request", "id", id, "method", method)
	if err := b.tr.Send(string(line)); err != nil {
		b.remove(id)
		metrics.IncBridgeCall(method, "send_error")
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out outcome
	select {
	case out = <-p.ch:
	case <-timer.C:
		if b.remove(id) {
			metrics.IncBridgeCall(method, "timeout")
			return nil, fmt.Errorf("%w after %s (method %s)", ErrTimeout, timeout, method)
		}
		// Entry already settled under the lock; the outcome is buffered.
		out = <-p.ch
	case <-ctx.Done():
		if b.remove(id) {
			metrics.IncBridgeCall(method, "canceled")
			return nil, ctx.Err()
		}
		out = <-p.ch
	}

	metrics.ObserveCallDuration(method, time.Since(p.issuedAt).Seconds())
	if out.err != nil {
		metrics.IncBridgeCall(method, "error")
		return nil, out.err
	}
	metrics.IncBridgeCall(method, "ok")
	return out.result, nil
}

// remove deletes a pending entry; true means the caller won the race and
// owns the settlement.
func (b *Bridge) remove(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	metrics.SetPending(len(b.pending))
	return true
}

// dispatch is the single consumer of transport events.
func (b *Bridge) dispatch() {
	defer close(b.doneCh)
	events := b.tr.Events()
	for {
		select {
		case <-b.stopCh:
			return
		case ev := <-events:
			switch ev.Type {
			case procmgr.EventMessage:
				b.handleLine(ev.Line)
			case procmgr.EventStderr:
				b.pushStderr(ev.Text)
			case procmgr.EventExit:
				b.exitsSeen.Add(1)
				b.healthy.Store(false)
				n := b.failAllPending(fmt.Errorf("%w (code %d)", ErrCrash, ev.Code))
				if ev.Unexpected {
					metrics.IncCrash()
					slog.Error("interpreter crashed", "code", ev.Code, "signal", ev.Signal, "failed_calls", n)
					b.record(history.Event{Type: history.EventCrash, OccurredAt: time.Now().UTC(),
						Detail: fmt.Sprintf("code=%d signal=%s pending=%d", ev.Code, ev.Signal, n)})
				} else {
					b.record(history.Event{Type: history.EventExit, OccurredAt: time.Now().UTC(),
						Detail: fmt.Sprintf("code=%d", ev.Code)})
				}
			case procmgr.EventError:
				b.healthy.Store(false)
				_ = b.failAllPending(fmt.Errorf("%w: %v", ErrCrash, ev.Err))
			}
		}
	}
}

// drainExits waits until dispatch has consumed every exit event the
// transport has emitted so far. Without it a restart could mark the
// bridge healthy and then process the dead session's exit, failing calls
// that belong to the new session. Bounded; gives up after two seconds.
func (b *Bridge) drainExits() {
	want := b.tr.ExitCount()
	deadline := time.Now().Add(2 * time.Second)
	for b.exitsSeen.Load() < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// handleLine resolves the waiter matching the response id. Unparsable
// lines and unknown ids affect no pending call.
func (b *Bridge) handleLine(line string) {
	resp, ok := parseResponse(line)
	if !ok {
		metrics.IncProtocolError()
		slog.Warn("dropping unparsable interpreter line", "line", truncate(line, 200))
		return
	}
	id := *resp.ID
	b.mu.Lock()
	p, found := b.pending[id]
	if found {
		delete(b.pending, id)
		metrics.SetPending(len(b.pending))
		if resp.Error != nil {
			p.ch <- outcome{err: resp.Error}
		} else {
			p.ch <- outcome{result: resp.Result}
		}
	}
	b.mu.Unlock()
	if !found {
		// Timed out earlier or never ours. Best-effort cancellation
		// means late responses are expected; drop silently.
		slog.Debug("dropping response for unknown id", "id", id)
	}
}

func (b *Bridge) failAllPending(err error) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	for id, p := range b.pending {
		delete(b.pending, id)
		p.ch <- outcome{err: err}
	}
	metrics.SetPending(0)
	return n
}

func (b *Bridge) pushStderr(text string) {
	b.tailMu.Lock()
	b.tail = append(b.tail, text)
	if len(b.tail) > stderrTailLen {
		b.tail = b.tail[len(b.tail)-stderrTailLen:]
	}
	b.tailMu.Unlock()
}

func (b *Bridge) record(e history.Event) {
	if b.opts.RecordEvent != nil {
		b.opts.RecordEvent(e)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
