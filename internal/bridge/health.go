package bridge

import (
	"context"
	"encoding/json"
	"time"
)

const healthTimeout = 5 * time.Second

// HealthInfo is the aggregate health surface. Consumers use it to mark the
// backend degraded without crashing themselves, so Health never returns an
// error.
type HealthInfo struct {
	Healthy       bool   `json:"healthy"`
	State         string `json:"state"`
	Available     bool   `json:"available"`
	Version       string `json:"version,omitempty"`
	ScriptPresent bool   `json:"script_present"`
	Restarts      int    `json:"restarts"`
	Error         string `json:"error,omitempty"`
}

// healthResult is what the analyzer returns for the health method.
type healthResult struct {
	Available bool   `json:"available"`
	Version   string `json:"version"`
	Script    bool   `json:"script"`
}

// Health combines local detection (executable and analysis script on disk)
// with a wire round-trip when the session looks usable.
func (b *Bridge) Health(ctx context.Context) HealthInfo {
	st := b.tr.Snapshot()
	det := b.opts.Detect.Detect(ctx)
	info := HealthInfo{
		State:         st.State.String(),
		Available:     det.ExecutableFound,
		Version:       det.Version,
		ScriptPresent: det.ScriptFound,
		Restarts:      st.Restarts,
	}
	if !b.healthy.Load() {
		info.Error = "interpreter session not running"
		return info
	}

	raw, err := b.Call(ctx, MethodHealth, struct{}{}, healthTimeout)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	var hr healthResult
	if err := json.Unmarshal(raw, &hr); err != nil {
		info.Error = "malformed health result: " + err.Error()
		return info
	}
	info.Healthy = hr.Available
	info.Available = info.Available || hr.Available
	if hr.Version != "" {
		info.Version = hr.Version
	}
	info.ScriptPresent = info.ScriptPresent || hr.Script
	return info
}
