// Package detector performs local checks for interpreter availability:
// whether the Pike executable can be launched and whether the companion
// analysis script is present. The results feed the health surface so
// consumers can report "interpreter missing" without a wire call.
package detector

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

const versionProbeTimeout = 5 * time.Second

// Result describes what was found on the local system.
type Result struct {
	ExecutableFound bool   `json:"executable_found"`
	Version         string `json:"version,omitempty"`
	ScriptFound     bool   `json:"script_found"`
}

// OK reports whether the backend can run at all.
func (r Result) OK() bool { return r.ExecutableFound && r.ScriptFound }

// Detector probes a fixed executable/script pair.
type Detector struct {
	ExecutablePath string
	ScriptPath     string
}

// Detect runs all probes. It never returns an error; absence is data,
// not a failure.
func (d Detector) Detect(ctx context.Context) Result {
	var res Result
	res.ExecutableFound, res.Version = probeExecutable(ctx, d.ExecutablePath)
	res.ScriptFound = fileExists(d.ScriptPath)
	return res
}

// probeExecutable runs "<path> --version" and captures the first line.
// Pike prints its version banner on stderr.
func probeExecutable(ctx context.Context, path string) (bool, string) {
	if path == "" {
		return false, ""
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return false, ""
	}
	cctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	// #nosec G204 -- path comes from operator config
	cmd := exec.CommandContext(cctx, resolved, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		// Some builds exit non-zero on --version; a banner still counts.
		if out.Len() == 0 {
			return false, ""
		}
	}
	return true, firstLine(out.String())
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
