package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poppa/pike-lsp-sub000/internal/procmgr"
)

// fakeTransport scripts the interpreter side of the wire. respond is
// invoked for every sent line; whatever it returns is delivered back as
// stdout lines.
type fakeTransport struct {
	mu      sync.Mutex
	events  chan procmgr.Event
	sent    []string
	respond func(line string) []string
	sendErr error
	exits   atomic.Uint64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan procmgr.Event, 64)}
}

func (f *fakeTransport) Start() error                 { return nil }
func (f *fakeTransport) Stop(time.Duration) error     { return nil }
func (f *fakeTransport) Events() <-chan procmgr.Event { return f.events }
func (f *fakeTransport) ExitCount() uint64            { return f.exits.Load() }

func (f *fakeTransport) emitExit(code int) {
	f.exits.Add(1)
	f.events <- procmgr.Event{Type: procmgr.EventExit, Code: code, Unexpected: true}
}
func (f *fakeTransport) Snapshot() procmgr.Status {
	return procmgr.Status{Name: "fake", State: procmgr.StateRunning, PID: 4242}
}

func (f *fakeTransport) Send(line string) error {
	f.mu.Lock()
	f.sent = append(f.sent, line)
	responder := f.respond
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if responder != nil {
		for _, out := range responder(line) {
			f.events <- procmgr.Event{Type: procmgr.EventMessage, Line: out}
		}
	}
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// echoResult answers every request with the given result payload.
func echoResult(result string) func(string) []string {
	return func(line string) []string {
		var req struct {
			ID uint64 `json:"id"`
		}
		_ = json.Unmarshal([]byte(line), &req)
		return []string{fmt.Sprintf(`{"id":%d,"result":%s}`, req.ID, result)}
	}
}

func TestCallResolves(t *testing.T) {
	tr := newFakeTransport()
	tr.respond = echoResult(`{"ok":true}`)
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()

	raw, err := b.Call(context.Background(), MethodParse, SourceParams{Path: "a.pike"}, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(string(raw), `"ok":true`) {
		t.Fatalf("result = %s", raw)
	}
}

func TestRemoteErrorRejectsOnlyThatCall(t *testing.T) {
	tr := newFakeTransport()
	tr.respond = func(line string) []string {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		_ = json.Unmarshal([]byte(line), &req)
		if req.Method == MethodCompile {
			return []string{fmt.Sprintf(`{"id":%d,"error":{"message":"syntax error","code":"E001"}}`, req.ID)}
		}
		return []string{fmt.Sprintf(`{"id":%d,"result":1}`, req.ID)}
	}
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	_, err := b.Call(ctx, MethodCompile, SourceParams{}, time.Second)
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != "E001" {
		t.Fatalf("err = %v, want RemoteError E001", err)
	}
	if _, err := b.Call(ctx, MethodParse, SourceParams{}, time.Second); err != nil {
		t.Fatalf("unrelated call affected: %v", err)
	}
}

func TestOutOfOrderResponses(t *testing.T) {
	tr := newFakeTransport()
	var pending []uint64
	var mu sync.Mutex
	tr.respond = func(line string) []string {
		var req struct {
			ID uint64 `json:"id"`
		}
		_ = json.Unmarshal([]byte(line), &req)
		mu.Lock()
		defer mu.Unlock()
		pending = append(pending, req.ID)
		if len(pending) < 2 {
			return nil
		}
		// answer in reverse arrival order
		out := []string{
			fmt.Sprintf(`{"id":%d,"result":"second"}`, pending[1]),
			fmt.Sprintf(`{"id":%d,"result":"first"}`, pending[0]),
		}
		pending = nil
		return out
	}
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := b.Call(ctx, MethodParse, SourceParams{Path: fmt.Sprintf("%d.pike", i)}, time.Second)
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			results[i] = string(raw)
		}(i)
	}
	wg.Wait()
	// Correlation is by id: the first dispatched call gets "first" even
	// though its response arrived last.
	all := results[0] + results[1]
	if !strings.Contains(all, "first") || !strings.Contains(all, "second") {
		t.Fatalf("results = %q", results)
	}
}

func TestTimeoutThenLateResponseIsDropped(t *testing.T) {
	tr := newFakeTransport()
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()

	start := time.Now()
	_, err := b.Call(context.Background(), MethodParse, SourceParams{}, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timeout fired after %s", elapsed)
	}

	// Deliver the late response for id 1: it must settle nothing and the
	// bridge must keep working.
	tr.events <- procmgr.Event{Type: procmgr.EventMessage, Line: `{"id":1,"result":"late"}`}
	tr.respond = echoResult(`"fresh"`)
	raw, err := b.Call(context.Background(), MethodParse, SourceParams{}, time.Second)
	if err != nil || string(raw) != `"fresh"` {
		t.Fatalf("follow-up call: %s %v", raw, err)
	}
}

func TestGarbageLinesAffectNoCall(t *testing.T) {
	tr := newFakeTransport()
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()

	done := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), MethodParse, SourceParams{}, time.Second)
		done <- err
	}()
	// wait until the request is on the wire
	for tr.sentCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	tr.events <- procmgr.Event{Type: procmgr.EventMessage, Line: `this is not json`}
	tr.events <- procmgr.Event{Type: procmgr.EventMessage, Line: `{"ready":true}`}
	tr.events <- procmgr.Event{Type: procmgr.EventMessage, Line: `42`}
	tr.events <- procmgr.Event{Type: procmgr.EventMessage, Line: `{"id":1,"result":"ok"}`}
	if err := <-done; err != nil {
		t.Fatalf("garbage lines broke the pending call: %v", err)
	}
}

func TestCrashFailsAllPending(t *testing.T) {
	tr := newFakeTransport()
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := b.Call(context.Background(), MethodAnalyze, SourceParams{}, 5*time.Second)
			errs <- err
		}()
	}
	for tr.sentCount() < n {
		time.Sleep(time.Millisecond)
	}
	tr.emitExit(1)

	for i := 0; i < n; i++ {
		if err := <-errs; !errors.Is(err, ErrCrash) {
			t.Fatalf("pending call %d err = %v, want ErrCrash", i, err)
		}
	}
	if b.Healthy() {
		t.Fatalf("bridge still healthy after crash")
	}
}

func TestContextCancellation(t *testing.T) {
	tr := newFakeTransport()
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, MethodParse, SourceParams{}, time.Minute)
		done <- err
	}()
	for tr.sentCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSendFailurePropagates(t *testing.T) {
	tr := newFakeTransport()
	tr.sendErr = procmgr.ErrNotRunning
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()

	_, err := b.Call(context.Background(), MethodParse, SourceParams{}, time.Second)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestIDsAreUniqueAndPipelined(t *testing.T) {
	tr := newFakeTransport()
	tr.respond = echoResult(`null`)
	b := New(tr, Options{})
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Call(ctx, MethodTokenize, SourceParams{}, time.Second)
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, line := range tr.sent {
		var req struct {
			ID uint64 `json:"id"`
		}
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			t.Fatalf("unparsable request line %q", line)
		}
		if seen[req.ID] {
			t.Fatalf("request id %d reused", req.ID)
		}
		seen[req.ID] = true
	}
	if len(seen) != 20 {
		t.Fatalf("sent %d requests, want 20", len(seen))
	}
}
