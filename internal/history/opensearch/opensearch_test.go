package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poppa/pike-lsp-sub000/internal/history"
)

func TestSinkPostsDocument(t *testing.T) {
	var gotPath string
	var gotEvent history.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotEvent)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := New(srv.URL, "backend-events")
	e := history.Event{Type: history.EventCrash, OccurredAt: time.Now().UTC(), PID: 42, Detail: "code=9"}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/backend-events/_doc" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotEvent.Type != history.EventCrash || gotEvent.PID != 42 {
		t.Fatalf("event = %+v", gotEvent)
	}
}

func TestSinkSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := New(srv.URL, "backend-events")
	if err := sink.Send(context.Background(), history.Event{Type: history.EventExit}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}
