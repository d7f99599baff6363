package env

import (
	"os"
	"strings"
)

// Env composes the environment handed to the interpreter subprocess.
// Base comes from the host process, overridden by configured globals,
// overridden by per-launch entries. Values may reference ${VAR} from
// the composed map; expansion is a single pass, no recursion.
type Env struct {
	vars map[string]string // configured globals (K->V)
	base map[string]string // cached host environment
}

func New() *Env {
	return &Env{vars: make(map[string]string)}
}

// FromOS caches the host environment as the base.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

// Set records a global override applied to every launch.
func (e *Env) Set(k, v string) {
	if e.vars == nil {
		e.vars = make(map[string]string)
	}
	e.vars[k] = v
}

// SetAll records a list of "K=V" overrides, skipping malformed entries.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// Merge builds the final "K=V" slice for one launch: host env, then
// configured globals, then perLaunch entries, then ${VAR} expansion.
func (e *Env) Merge(perLaunch []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(map[string]string, len(e.base)+len(e.vars)+len(perLaunch))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range perLaunch {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
