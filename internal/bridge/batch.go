package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BatchItem is one sub-request of a batch call.
type BatchItem struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// BatchResult carries one sub-result. Err is a *RemoteError when that item
// failed inside the interpreter; other items are unaffected.
type BatchResult struct {
	Result json.RawMessage
	Err    error
}

// batchEntry mirrors the wire shape of one element of the result array.
type batchEntry struct {
	Result json.RawMessage `json:"result"`
	Error  *RemoteError    `json:"error"`
}

// CallBatch sends all items as one framed request. The interpreter
// processes them in order and returns a single response whose result array
// preserves input order; a malformed item yields a per-item error without
// failing the batch. The error return covers the batch as a whole
// (timeout, crash, transport failure).
func (b *Bridge) CallBatch(ctx context.Context, items []BatchItem, timeout time.Duration) ([]BatchResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	raw, err := b.Call(ctx, methodBatch, map[string]any{"requests": items}, timeout)
	if err != nil {
		return nil, err
	}
	var entries []batchEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("malformed batch result: %w", err)
	}
	if len(entries) != len(items) {
		return nil, fmt.Errorf("batch result count %d does not match request count %d", len(entries), len(items))
	}
	out := make([]BatchResult, len(entries))
	for i, e := range entries {
		if e.Error != nil {
			out[i] = BatchResult{Err: e.Error}
		} else {
			out[i] = BatchResult{Result: e.Result}
		}
	}
	return out, nil
}
