// Package config loads the daemon's TOML configuration and maps it onto
// the interpreter, bridge, cache, history and server subsystems.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/poppa/pike-lsp-sub000/internal/bridge"
	"github.com/poppa/pike-lsp-sub000/internal/detector"
	"github.com/poppa/pike-lsp-sub000/internal/logger"
	"github.com/poppa/pike-lsp-sub000/internal/procmgr"
	"github.com/poppa/pike-lsp-sub000/internal/stdlib"
)

// Config is the top-level TOML structure.
type Config struct {
	Interpreter InterpreterConfig `toml:"interpreter" mapstructure:"interpreter"`
	Bridge      BridgeConfig      `toml:"bridge" mapstructure:"bridge"`
	Cache       CacheConfig       `toml:"cache" mapstructure:"cache"`
	Log         logger.Config     `toml:"log" mapstructure:"log"`
	History     HistoryConfig     `toml:"history" mapstructure:"history"`
	Server      ServerConfig      `toml:"server" mapstructure:"server"`
}

// InterpreterConfig describes how to launch the Pike interpreter and its
// companion analysis script.
type InterpreterConfig struct {
	Path     string   `toml:"path" mapstructure:"path"`
	Script   string   `toml:"script" mapstructure:"script"`
	Args     []string `toml:"args" mapstructure:"args"`
	WorkDir  string   `toml:"workdir" mapstructure:"workdir"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`
}

type BridgeConfig struct {
	DefaultTimeout time.Duration `toml:"default_timeout" mapstructure:"default_timeout"`
	StopGrace      time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
}

type CacheConfig struct {
	MaxEntries  int `toml:"max_entries" mapstructure:"max_entries"`
	MaxMemoryMB int `toml:"max_memory_mb" mapstructure:"max_memory_mb"`
}

// HistoryConfig selects an audit sink by DSN. Empty means no persistence.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"autogen" mapstructure:"autogen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// Defaults applied by Load when the file leaves a field unset.
const (
	DefaultListen      = "127.0.0.1:8484"
	DefaultInterpreter = "pike"
)

// Load reads a TOML config file and applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Interpreter.Path == "" {
		c.Interpreter.Path = DefaultInterpreter
	}
	if c.Bridge.DefaultTimeout <= 0 {
		c.Bridge.DefaultTimeout = bridge.DefaultTimeout
	}
	if c.Bridge.StopGrace <= 0 {
		c.Bridge.StopGrace = 3 * time.Second
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = stdlib.DefaultMaxEntries
	}
	if c.Cache.MaxMemoryMB <= 0 {
		c.Cache.MaxMemoryMB = stdlib.DefaultMaxMemoryBytes / (1 << 20)
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Log.Slog.Level == "" {
		c.Log.Slog.Level = logger.LevelInfo
	}
	if c.Log.Slog.Format == "" {
		c.Log.Slog.Format = logger.FormatText
	}
}

func (c *Config) validate() error {
	if c.Interpreter.Path == "" {
		return fmt.Errorf("interpreter.path must not be empty")
	}
	if c.Server.TLS != nil && c.Server.TLS.Enabled {
		t := c.Server.TLS
		if t.CertFile == "" && t.KeyFile == "" && t.Dir == "" {
			return fmt.Errorf("server.tls enabled but no cert_file/key_file or dir configured")
		}
	}
	return nil
}

// InterpreterEnv merges the interpreter environment per precedence: OS env
// (when use_os_env) as base, then env_files in order, then the inline env
// list overriding last.
func (c *Config) InterpreterEnv() ([]string, error) {
	m := make(map[string]string)
	if c.Interpreter.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.Interpreter.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, val := range pairs {
			m[k] = val
		}
	}
	for _, kv := range c.Interpreter.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, val := range m {
		out = append(out, k+"="+val)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

// InterpreterSpec builds the child process spec for the analysis session.
// The companion script, when set, is passed as the first argument.
func (c *Config) InterpreterSpec() (procmgr.Spec, error) {
	env, err := c.InterpreterEnv()
	if err != nil {
		return procmgr.Spec{}, err
	}
	args := make([]string, 0, len(c.Interpreter.Args)+1)
	if c.Interpreter.Script != "" {
		args = append(args, c.Interpreter.Script)
	}
	args = append(args, c.Interpreter.Args...)
	return procmgr.Spec{
		Name:    "pike",
		Path:    c.Interpreter.Path,
		Args:    args,
		Env:     env,
		WorkDir: c.Interpreter.WorkDir,
		Log:     c.Log,
	}, nil
}

// Detector builds the availability probe matching the interpreter config.
func (c *Config) Detector() detector.Detector {
	return detector.Detector{
		ExecutablePath: c.Interpreter.Path,
		ScriptPath:     c.Interpreter.Script,
	}
}

// BridgeOptions maps the bridge section onto bridge.Options. The caller
// fills in RecordEvent.
func (c *Config) BridgeOptions() bridge.Options {
	return bridge.Options{
		DefaultTimeout: c.Bridge.DefaultTimeout,
		StopGrace:      c.Bridge.StopGrace,
		Detect:         c.Detector(),
	}
}

// CacheOptions maps the cache section onto stdlib.Options.
func (c *Config) CacheOptions() stdlib.Options {
	return stdlib.Options{
		MaxEntries:     c.Cache.MaxEntries,
		MaxMemoryBytes: int64(c.Cache.MaxMemoryMB) << 20,
	}
}
