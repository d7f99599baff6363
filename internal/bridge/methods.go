package bridge

import (
	"context"
	"encoding/json"
	"time"
)

// Thin typed wrappers over Call for the methods downstream feature
// consumers use. Result payloads stay raw: their shapes belong to the
// presentation layer, not this core.

// SourceParams addresses a document by path with its current buffer text.
type SourceParams struct {
	Path string `json:"path"`
	Code string `json:"code"`
}

// IncludeParams resolves an include/import target relative to a source file.
type IncludeParams struct {
	Target string `json:"target"`
	From   string `json:"from"`
}

// ModuleParams names a library module by its dotted path, e.g. "Stdio.File".
type ModuleParams struct {
	Module string `json:"modulePath"`
}

func (b *Bridge) Parse(ctx context.Context, p SourceParams, timeout time.Duration) (json.RawMessage, error) {
	return b.Call(ctx, MethodParse, p, timeout)
}

func (b *Bridge) Compile(ctx context.Context, p SourceParams, timeout time.Duration) (json.RawMessage, error) {
	return b.Call(ctx, MethodCompile, p, timeout)
}

func (b *Bridge) Tokenize(ctx context.Context, p SourceParams, timeout time.Duration) (json.RawMessage, error) {
	return b.Call(ctx, MethodTokenize, p, timeout)
}

func (b *Bridge) Analyze(ctx context.Context, p SourceParams, timeout time.Duration) (json.RawMessage, error) {
	return b.Call(ctx, MethodAnalyze, p, timeout)
}

func (b *Bridge) ResolveInclude(ctx context.Context, p IncludeParams, timeout time.Duration) (json.RawMessage, error) {
	return b.Call(ctx, MethodResolveInclude, p, timeout)
}

func (b *Bridge) GetInherited(ctx context.Context, p ModuleParams, timeout time.Duration) (json.RawMessage, error) {
	return b.Call(ctx, MethodGetInherited, p, timeout)
}

// ResolveStdlib resolves a library module through the interpreter. The
// stdlib index is the sole consumer; it decodes the raw payload itself.
func (b *Bridge) ResolveStdlib(ctx context.Context, module string) (json.RawMessage, error) {
	return b.Call(ctx, MethodResolveStdlib, ModuleParams{Module: module}, 0)
}

// BatchParse parses many documents in one round-trip. One bad document
// reports per-item and does not block results for the others.
func (b *Bridge) BatchParse(ctx context.Context, docs []SourceParams, timeout time.Duration) ([]BatchResult, error) {
	items := make([]BatchItem, len(docs))
	for i, d := range docs {
		items[i] = BatchItem{Method: MethodParse, Params: d}
	}
	return b.CallBatch(ctx, items, timeout)
}
