package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/poppa/pike-lsp-sub000/internal/history"
)

func TestSinkRoundTrip(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventSpawn, OccurredAt: time.Now().UTC(), PID: 100},
		{Type: history.EventCrash, OccurredAt: time.Now().UTC(), PID: 100, Detail: "code=9 signal= pending=2"},
		{Type: history.EventResolveFail, OccurredAt: time.Now().UTC(), Module: "No.Such", Detail: "module not found"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM backend_events").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(events) {
		t.Fatalf("count = %d, want %d", count, len(events))
	}

	var module, detail string
	err = sink.db.QueryRowContext(ctx,
		"SELECT module, detail FROM backend_events WHERE type = ?", string(history.EventResolveFail),
	).Scan(&module, &detail)
	if err != nil {
		t.Fatalf("select resolve_fail: %v", err)
	}
	if module != "No.Such" || detail != "module not found" {
		t.Fatalf("row = %q/%q", module, detail)
	}
}

func TestSinkDSNPrefix(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.Send(context.Background(), history.Event{Type: history.EventExit, OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSinkEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
