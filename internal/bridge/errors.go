package bridge

import (
	"errors"

	"github.com/poppa/pike-lsp-sub000/internal/procmgr"
)

var (
	// ErrTimeout reports that a single call ran out of time. The request
	// may still complete inside the interpreter; its late response is
	// dropped. Local to the one call.
	ErrTimeout = errors.New("bridge: call timed out")
	// ErrCrash reports that the interpreter exited while the call was
	// pending. Every in-flight call gets it; the bridge stays unhealthy
	// until restarted.
	ErrCrash = errors.New("bridge: interpreter exited")
	// ErrNotRunning mirrors procmgr's sentinel so callers need not import
	// the process layer.
	ErrNotRunning = procmgr.ErrNotRunning
	// ErrSpawn mirrors procmgr's launch failure sentinel.
	ErrSpawn = procmgr.ErrSpawn
)

// RemoteError is a failure reported by the interpreter for one request.
type RemoteError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return "remote error " + e.Code + ": " + e.Message
	}
	return "remote error: " + e.Message
}
