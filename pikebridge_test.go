package pikebridge

import (
	"context"
	"testing"
	"time"
)

// loopbackConfig runs sh as the interpreter: it prints the ready banner and
// then echoes every request line back, which the bridge reads as a response
// with a matching id and a null result.
func loopbackConfig() *Config {
	cfg := DefaultConfig()
	cfg.Interpreter.Path = "sh"
	cfg.Interpreter.Args = []string{"-c", `echo '{"ready":true}'; exec cat`}
	cfg.Bridge.DefaultTimeout = 2 * time.Second
	cfg.Bridge.StopGrace = time.Second
	return cfg
}

func TestBackendLifecycle(t *testing.T) {
	b, err := New(loopbackConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.Parse(ctx, SourceParams{Path: "test.pike", Code: "int main() { return 0; }"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !b.Healthy() {
		t.Fatalf("expected healthy backend")
	}
	st := b.Status()
	if st.PID == 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestBackendCacheStats(t *testing.T) {
	b, err := New(loopbackConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the loopback result is null, which the cache treats as not found
	if m := b.GetModule(ctx, "No.Such.Module"); m != nil {
		t.Fatalf("module = %+v, want nil", m)
	}
	s := b.Stats()
	if s.Misses != 1 || s.NegativeCount != 1 {
		t.Fatalf("stats = %+v", s)
	}

	b.ClearCache()
	if s := b.Stats(); s.NegativeCount != 0 || s.Misses != 0 {
		t.Fatalf("stats after clear = %+v", s)
	}
}

func TestBackendRejectsBadSpawn(t *testing.T) {
	cfg := loopbackConfig()
	cfg.Interpreter.Path = "/nonexistent/pike-binary"
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.Start(); err == nil {
		_ = b.Close()
		t.Fatalf("expected spawn error")
	}
}
