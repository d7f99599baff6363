package client

import "time"

// HealthResponse mirrors the daemon's /health payload.
type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	State         string `json:"state"`
	Available     bool   `json:"available"`
	Version       string `json:"version,omitempty"`
	ScriptPresent bool   `json:"script_present"`
	Restarts      int    `json:"restarts"`
	Error         string `json:"error,omitempty"`
}

// StatusResponse mirrors the daemon's /status payload.
type StatusResponse struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	Restarts   int       `json:"restarts"`
	LastExit   string    `json:"last_exit,omitempty"`
	StderrTail []string  `json:"stderr_tail,omitempty"`
}

// CacheStatsResponse mirrors the daemon's /stats payload.
type CacheStatsResponse struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	NegativeHits  uint64  `json:"negative_hits"`
	ModuleCount   int     `json:"module_count"`
	NegativeCount int     `json:"negative_count"`
	MemoryBytes   int64   `json:"memory_bytes"`
	HitRate       float64 `json:"hit_rate"`
}

// ModuleSymbol is one introspected member of a module.
type ModuleSymbol struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Type      string   `json:"type,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	Line      int      `json:"line,omitempty"`
	Doc       string   `json:"doc,omitempty"`
}

// ModuleResponse mirrors the daemon's /modules payload.
type ModuleResponse struct {
	Path      string                  `json:"path"`
	Symbols   map[string]ModuleSymbol `json:"symbols"`
	FilePath  string                  `json:"file_path,omitempty"`
	Inherits  []string                `json:"inherits,omitempty"`
	SizeBytes int64                   `json:"size_bytes"`
}

// ErrorResponse is the daemon's error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
