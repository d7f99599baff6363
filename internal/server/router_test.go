package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poppa/pike-lsp-sub000/internal/bridge"
	"github.com/poppa/pike-lsp-sub000/internal/procmgr"
	"github.com/poppa/pike-lsp-sub000/internal/stdlib"
)

type fakeBackend struct {
	health    bridge.HealthInfo
	restarted int
	restart   error
}

func (f *fakeBackend) Health(context.Context) bridge.HealthInfo { return f.health }
func (f *fakeBackend) Status() procmgr.Status {
	return procmgr.Status{Name: "pike", State: procmgr.StateRunning, PID: 1234}
}
func (f *fakeBackend) StderrTail() []string { return []string{"warning: deprecated"} }
func (f *fakeBackend) Restart() error {
	f.restarted++
	return f.restart
}

type fakeCache struct {
	modules map[string]*stdlib.Module
	cleared int
}

func (f *fakeCache) GetModule(_ context.Context, path string) *stdlib.Module {
	return f.modules[path]
}
func (f *fakeCache) Stats() stdlib.Stats { return stdlib.Stats{Hits: 3, Misses: 1, HitRate: 75} }
func (f *fakeCache) Clear()              { f.cleared++ }

func newTestRouter(be *fakeBackend, fc *fakeCache) http.Handler {
	return NewRouter(be, fc, "").Handler()
}

func TestHealthEndpoint(t *testing.T) {
	be := &fakeBackend{health: bridge.HealthInfo{Healthy: true, State: "running", Available: true}}
	h := newTestRouter(be, &fakeCache{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var info bridge.HealthInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !info.Healthy || info.State != "running" {
		t.Fatalf("info = %+v", info)
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	be := &fakeBackend{health: bridge.HealthInfo{Healthy: false, Error: "interpreter session not running"}}
	h := newTestRouter(be, &fakeCache{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newTestRouter(&fakeBackend{}, &fakeCache{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var st statusResp
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.PID != 1234 || len(st.StderrTail) != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestRouter(&fakeBackend{}, &fakeCache{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var s stdlib.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.HitRate != 75 {
		t.Fatalf("hit rate = %v", s.HitRate)
	}
}

func TestModuleEndpoint(t *testing.T) {
	fc := &fakeCache{modules: map[string]*stdlib.Module{
		"Stdio.File": {Path: "Stdio.File", Symbols: map[string]stdlib.Symbol{
			"read": {Name: "read", Kind: "method"},
		}},
	}}
	h := newTestRouter(&fakeBackend{}, fc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/modules/Stdio.File", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var m stdlib.Module
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Path != "Stdio.File" || len(m.Symbols) != 1 {
		t.Fatalf("module = %+v", m)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/modules/No.Such", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing module code = %d, want 404", w.Code)
	}
}

func TestModuleEndpointRejectsTraversal(t *testing.T) {
	h := newTestRouter(&fakeBackend{}, &fakeCache{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/modules/..%2Fetc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	fc := &fakeCache{}
	h := newTestRouter(&fakeBackend{}, fc)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if fc.cleared != 1 {
		t.Fatalf("cleared = %d", fc.cleared)
	}
}

func TestRestartEndpoint(t *testing.T) {
	be := &fakeBackend{}
	h := newTestRouter(be, &fakeCache{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/restart", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if be.restarted != 1 {
		t.Fatalf("restarted = %d", be.restarted)
	}
}

func TestBasePathMounting(t *testing.T) {
	h := NewRouter(&fakeBackend{}, &fakeCache{}, "api").Handler()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestIsSafeModulePath(t *testing.T) {
	good := []string{"Stdio", "Stdio.File", "Protocols.HTTP.Query", "_static_modules.Builtin"}
	for _, p := range good {
		if !isSafeModulePath(p) {
			t.Fatalf("%q rejected", p)
		}
	}
	bad := []string{"", ".", "a..b", ".Stdio", "Stdio.", "a/b", "a b", "a;b"}
	for _, p := range bad {
		if isSafeModulePath(p) {
			t.Fatalf("%q accepted", p)
		}
	}
}
