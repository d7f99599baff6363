// Package pikebridge is the embeddable facade over the analysis backend:
// a supervised Pike interpreter session, the correlated request/response
// bridge on top of it, and the budgeted stdlib module cache.
package pikebridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poppa/pike-lsp-sub000/internal/bridge"
	"github.com/poppa/pike-lsp-sub000/internal/config"
	"github.com/poppa/pike-lsp-sub000/internal/history"
	historyfactory "github.com/poppa/pike-lsp-sub000/internal/history/factory"
	"github.com/poppa/pike-lsp-sub000/internal/metrics"
	"github.com/poppa/pike-lsp-sub000/internal/procmgr"
	"github.com/poppa/pike-lsp-sub000/internal/server"
	"github.com/poppa/pike-lsp-sub000/internal/stdlib"
	itls "github.com/poppa/pike-lsp-sub000/internal/tls"
)

// Re-export the types external consumers touch. Aliases keep conversions
// zero-cost.

type Config = config.Config

type SourceParams = bridge.SourceParams

type IncludeParams = bridge.IncludeParams

type BatchResult = bridge.BatchResult

type HealthInfo = bridge.HealthInfo

type Status = procmgr.Status

type Module = stdlib.Module

type Symbol = stdlib.Symbol

type CacheStats = stdlib.Stats

type HistoryEvent = history.Event

type HistorySink = history.Sink

// Sentinel errors callers branch on.
var (
	ErrTimeout    = bridge.ErrTimeout
	ErrCrash      = bridge.ErrCrash
	ErrNotRunning = bridge.ErrNotRunning
	ErrSpawn      = bridge.ErrSpawn
)

// Backend bundles the interpreter session, the wire bridge and the module
// cache behind one lifecycle.
type Backend struct {
	cfg    *Config
	bridge *bridge.Bridge
	index  *stdlib.Index
	sink   history.Sink
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return config.Default() }

// New wires a Backend from configuration. The interpreter is not launched
// yet; call Start.
func New(cfg *Config) (*Backend, error) {
	spec, err := cfg.InterpreterSpec()
	if err != nil {
		return nil, err
	}

	b := &Backend{cfg: cfg}

	if cfg.History.DSN != "" {
		sink, err := historyfactory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		b.sink = sink
	}

	opts := cfg.BridgeOptions()
	opts.RecordEvent = b.recordEvent
	b.bridge = bridge.New(procmgr.New(spec), opts)

	cacheOpts := cfg.CacheOptions()
	cacheOpts.RecordEvent = b.recordEvent
	b.index = stdlib.New(b.bridge, cacheOpts)
	return b, nil
}

// recordEvent forwards audit events to the configured sink without ever
// blocking the caller.
func (b *Backend) recordEvent(e history.Event) {
	if b.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.sink.Send(ctx, e)
	}()
}

// Start launches the interpreter session.
func (b *Backend) Start() error { return b.bridge.Start() }

// Restart replaces the interpreter session. Pending calls from the old
// session fail with ErrCrash.
func (b *Backend) Restart() error { return b.bridge.Restart() }

// Close stops the interpreter and releases the bridge. The module cache
// survives; a later Backend can be built on the same config.
func (b *Backend) Close() error { return b.bridge.Close() }

// Health aggregates local detection and a wire round-trip.
func (b *Backend) Health(ctx context.Context) HealthInfo { return b.bridge.Health(ctx) }

// Healthy reports whether the current interpreter session is usable.
func (b *Backend) Healthy() bool { return b.bridge.Healthy() }

// Status returns the child process snapshot.
func (b *Backend) Status() Status { return b.bridge.Status() }

// StderrTail returns the interpreter's most recent diagnostic lines.
func (b *Backend) StderrTail() []string { return b.bridge.StderrTail() }

// Analysis operations. Result payloads stay raw JSON; their shapes belong
// to the presentation layer.

func (b *Backend) Parse(ctx context.Context, p SourceParams) (json.RawMessage, error) {
	return b.bridge.Parse(ctx, p, 0)
}

func (b *Backend) Compile(ctx context.Context, p SourceParams) (json.RawMessage, error) {
	return b.bridge.Compile(ctx, p, 0)
}

func (b *Backend) Tokenize(ctx context.Context, p SourceParams) (json.RawMessage, error) {
	return b.bridge.Tokenize(ctx, p, 0)
}

func (b *Backend) Analyze(ctx context.Context, p SourceParams) (json.RawMessage, error) {
	return b.bridge.Analyze(ctx, p, 0)
}

func (b *Backend) ResolveInclude(ctx context.Context, target, from string) (json.RawMessage, error) {
	return b.bridge.ResolveInclude(ctx, IncludeParams{Target: target, From: from}, 0)
}

func (b *Backend) GetInherited(ctx context.Context, module string) (json.RawMessage, error) {
	return b.bridge.GetInherited(ctx, bridge.ModuleParams{Module: module}, 0)
}

func (b *Backend) BatchParse(ctx context.Context, docs []SourceParams) ([]BatchResult, error) {
	return b.bridge.BatchParse(ctx, docs, 0)
}

// Module cache surface.

func (b *Backend) GetModule(ctx context.Context, path string) *Module {
	return b.index.GetModule(ctx, path)
}

func (b *Backend) GetSymbols(ctx context.Context, path string) map[string]Symbol {
	return b.index.GetSymbols(ctx, path)
}

func (b *Backend) IsCached(path string) bool { return b.index.IsCached(path) }

func (b *Backend) ClearCache() { b.index.Clear() }

func (b *Backend) Stats() CacheStats { return b.index.Stats() }

// NewHTTPServer starts the operational HTTP API for this backend per the
// server section of the config.
func (b *Backend) NewHTTPServer() (*http.Server, error) {
	tlsCfg, err := itls.Setup(b.cfg.Server)
	if err != nil {
		return nil, err
	}
	return server.NewServer(b.cfg.Server.Listen, b.cfg.Server.BasePath, tlsCfg, b.bridge, b.index), nil
}

// NewHTTPServerOn is NewHTTPServer with an explicit listen address,
// useful when embedding.
func (b *Backend) NewHTTPServerOn(addr, basePath string, tlsCfg *tls.Config) *http.Server {
	return server.NewServer(addr, basePath, tlsCfg, b.bridge, b.index)
}

// Metrics helpers.

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
