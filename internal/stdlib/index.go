// Package stdlib caches introspected library modules resolved through the
// interpreter. The universe of module paths is unbounded; the cache keeps
// it inside an entry-count and memory-byte budget with strict LRU eviction,
// and remembers failed resolutions permanently (until Clear) so they are
// never retried.
package stdlib

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/poppa/pike-lsp-sub000/internal/history"
	"github.com/poppa/pike-lsp-sub000/internal/metrics"
)

// Defaults match what a workspace with heavy stdlib usage needs without
// letting symbol tables grow without bound.
const (
	DefaultMaxEntries     = 64
	DefaultMaxMemoryBytes = 32 << 20
)

// Resolver is the slice of the bridge this cache consumes. The raw payload
// is the resolveStdlib result field.
type Resolver interface {
	ResolveStdlib(ctx context.Context, module string) (json.RawMessage, error)
}

// Symbol is one introspected member of a module.
type Symbol struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"` // method, variable, constant, class, ...
	Type      string   `json:"type,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	Line      int      `json:"line,omitempty"`
	Doc       string   `json:"doc,omitempty"`
}

// Module is a positively cached resolution result.
type Module struct {
	Path      string            `json:"path"`
	Symbols   map[string]Symbol `json:"symbols"`
	FilePath  string            `json:"file_path,omitempty"`
	Inherits  []string          `json:"inherits,omitempty"`
	SizeBytes int64             `json:"size_bytes"`

	lastAccess  uint64
	accessCount uint64
}

// moduleResult is the wire shape of a resolveStdlib result.
type moduleResult struct {
	Found    bool              `json:"found"`
	Path     string            `json:"path"`
	Symbols  map[string]Symbol `json:"symbols"`
	Inherits []string          `json:"inherits"`
}

// Options tunes an Index.
type Options struct {
	MaxEntries     int
	MaxMemoryBytes int64
	// RecordEvent, when set, receives a resolve_fail audit event for every
	// new negative-cache insertion. It must not block.
	RecordEvent func(history.Event)
}

// Index is the budgeted lazy-loading module cache. It is the single writer
// of its two maps; every mutation happens under mu. Resolution round-trips
// run outside the lock so one slow module never blocks hits or unrelated
// misses, and singleflight collapses concurrent misses for the same path.
type Index struct {
	resolver Resolver
	opts     Options

	mu       sync.Mutex
	modules  map[string]*Module
	negative map[string]time.Time // recordedAt; removed only by Clear
	counter  uint64               // monotonic recency counter, not wall clock
	memBytes int64
	stats    statsCounters

	group singleflight.Group
}

func New(resolver Resolver, opts Options) *Index {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxMemoryBytes <= 0 {
		opts.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	return &Index{
		resolver: resolver,
		opts:     opts,
		modules:  make(map[string]*Module),
		negative: make(map[string]time.Time),
	}
}

// GetModule returns the cached module, resolving on first use. A nil
// return means the module does not resolve; the failure has been absorbed
// into the negative cache and will not be retried until Clear.
func (ix *Index) GetModule(ctx context.Context, path string) *Module {
	ix.mu.Lock()
	if _, bad := ix.negative[path]; bad {
		ix.stats.NegativeHits++
		ix.mu.Unlock()
		metrics.IncCacheEvent("negative_hit")
		return nil
	}
	if m, ok := ix.modules[path]; ok {
		ix.counter++
		m.lastAccess = ix.counter
		m.accessCount++
		ix.stats.Hits++
		ix.mu.Unlock()
		metrics.IncCacheEvent("hit")
		return m
	}
	ix.stats.Misses++
	ix.mu.Unlock()
	metrics.IncCacheEvent("miss")

	v, _, _ := ix.group.Do(path, func() (any, error) {
		return ix.resolve(ctx, path), nil
	})
	m, _ := v.(*Module)
	return m
}

// GetSymbols is a convenience accessor over GetModule.
func (ix *Index) GetSymbols(ctx context.Context, path string) map[string]Symbol {
	m := ix.GetModule(ctx, path)
	if m == nil {
		return nil
	}
	return m.Symbols
}

// IsCached reports positive-cache membership without side effects: no
// recency bump, no resolution.
func (ix *Index) IsCached(path string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.modules[path]
	return ok
}

// Clear drops both caches and resets every counter. The bridge is
// untouched.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.modules = make(map[string]*Module)
	ix.negative = make(map[string]time.Time)
	ix.counter = 0
	ix.memBytes = 0
	ix.stats = statsCounters{}
	ix.mu.Unlock()
	metrics.SetCacheSize(0, 0)
}

// resolve performs the miss path: one bridge round-trip, then either a
// positive insertion plus eviction pass, or a permanent negative entry.
// Any failure degrades to "not found"; introspection is an optimization,
// never a correctness requirement.
func (ix *Index) resolve(ctx context.Context, path string) *Module {
	// Another flight for the same path may have completed between the miss
	// being recorded and this call joining the group; re-resolving would
	// double-count the entry's bytes.
	ix.mu.Lock()
	if m, ok := ix.modules[path]; ok {
		ix.counter++
		m.lastAccess = ix.counter
		m.accessCount++
		ix.mu.Unlock()
		return m
	}
	if _, bad := ix.negative[path]; bad {
		ix.mu.Unlock()
		return nil
	}
	ix.mu.Unlock()

	raw, err := ix.resolver.ResolveStdlib(ctx, path)
	if err != nil {
		ix.insertNegative(path, err.Error())
		return nil
	}
	var res moduleResult
	if err := json.Unmarshal(raw, &res); err != nil {
		ix.insertNegative(path, "malformed result: "+err.Error())
		return nil
	}
	if !res.Found {
		ix.insertNegative(path, "module not found")
		return nil
	}

	m := &Module{
		Path:     path,
		Symbols:  res.Symbols,
		FilePath: res.Path,
		Inherits: res.Inherits,
	}
	if m.Symbols == nil {
		m.Symbols = map[string]Symbol{}
	}
	m.SizeBytes = estimateSize(m)

	ix.mu.Lock()
	delete(ix.negative, path) // a path lives in at most one of the two maps
	if old, ok := ix.modules[path]; ok {
		ix.memBytes -= old.SizeBytes
	}
	ix.counter++
	m.lastAccess = ix.counter
	m.accessCount = 1
	ix.modules[path] = m
	ix.memBytes += m.SizeBytes
	ix.evictLocked()
	count, bytes := len(ix.modules), ix.memBytes
	ix.mu.Unlock()

	metrics.SetCacheSize(count, bytes)
	slog.Debug("stdlib module cached", "module", path, "symbols", len(m.Symbols), "bytes", m.SizeBytes)
	return m
}

func (ix *Index) insertNegative(path, reason string) {
	ix.mu.Lock()
	if old, ok := ix.modules[path]; ok {
		ix.memBytes -= old.SizeBytes
		delete(ix.modules, path)
	}
	_, already := ix.negative[path]
	if !already {
		ix.negative[path] = time.Now()
	}
	count, bytes := len(ix.modules), ix.memBytes
	ix.mu.Unlock()
	metrics.SetCacheSize(count, bytes)
	if !already {
		slog.Debug("stdlib module negative-cached", "module", path, "reason", reason)
		if ix.opts.RecordEvent != nil {
			ix.opts.RecordEvent(history.Event{
				Type:       history.EventResolveFail,
				OccurredAt: time.Now().UTC(),
				Module:     path,
				Detail:     reason,
			})
		}
	}
}

// evictLocked enforces both budgets with strict LRU: one smallest-recency
// entry removed per iteration, never more than necessary.
func (ix *Index) evictLocked() {
	for len(ix.modules) > ix.opts.MaxEntries || ix.memBytes > ix.opts.MaxMemoryBytes {
		var victim string
		var oldest uint64
		first := true
		for path, m := range ix.modules {
			if first || m.lastAccess < oldest {
				victim, oldest = path, m.lastAccess
				first = false
			}
		}
		if first {
			return
		}
		ix.memBytes -= ix.modules[victim].SizeBytes
		delete(ix.modules, victim)
		ix.stats.Evictions++
		metrics.IncCacheEvent("eviction")
	}
}

// estimateSize approximates the retained footprint from the symbol shapes.
// Exact accounting is not the point; the budget only needs a stable,
// deterministic measure.
func estimateSize(m *Module) int64 {
	size := int64(112 + len(m.Path) + len(m.FilePath))
	for _, inh := range m.Inherits {
		size += int64(16 + len(inh))
	}
	for name, sym := range m.Symbols {
		size += int64(48 + len(name) + len(sym.Name) + len(sym.Kind) + len(sym.Type) + len(sym.Doc))
		for _, mod := range sym.Modifiers {
			size += int64(8 + len(mod))
		}
	}
	return size
}
