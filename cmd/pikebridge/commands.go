package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	pikebridge "github.com/poppa/pike-lsp-sub000"
	"github.com/poppa/pike-lsp-sub000/internal/detector"
	"github.com/poppa/pike-lsp-sub000/pkg/client"
)

type command struct {
	client  *client.Client
	timeout func() (context.Context, context.CancelFunc)
}

func newCommand(flags *APIFlags) *command {
	cfg := client.DefaultConfig()
	if flags.URL != "" {
		cfg.BaseURL = flags.URL
	}
	if flags.Timeout > 0 {
		cfg.Timeout = flags.Timeout
	}
	c := client.New(cfg)
	return &command{
		client: c,
		timeout: func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), cfg.Timeout)
		},
	}
}

func (c *command) requireDaemon(ctx context.Context) error {
	if !c.client.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable - start it first with 'pikebridge serve'")
	}
	return nil
}

func (c *command) Status() error {
	ctx, cancel := c.timeout()
	defer cancel()
	st, err := c.client.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c *command) Health() error {
	ctx, cancel := c.timeout()
	defer cancel()
	h, err := c.client.Health(ctx)
	if err != nil {
		return err
	}
	printJSON(h)
	if !h.Healthy {
		return fmt.Errorf("interpreter session degraded: %s", h.Error)
	}
	return nil
}

func (c *command) Stats() error {
	ctx, cancel := c.timeout()
	defer cancel()
	s, err := c.client.CacheStats(ctx)
	if err != nil {
		return err
	}
	printJSON(s)
	return nil
}

func (c *command) Module(path string) error {
	ctx, cancel := c.timeout()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	m, err := c.client.Module(ctx, path)
	if err != nil {
		return err
	}
	printJSON(m)
	return nil
}

func (c *command) CacheClear() error {
	ctx, cancel := c.timeout()
	defer cancel()
	if err := c.client.ClearCache(ctx); err != nil {
		return err
	}
	fmt.Println("cache cleared")
	return nil
}

func (c *command) Restart() error {
	ctx, cancel := c.timeout()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	if err := c.client.Restart(ctx); err != nil {
		return err
	}
	fmt.Println("interpreter restarted")
	return nil
}

func loadConfig(configPath string) (*pikebridge.Config, error) {
	if configPath == "" {
		return pikebridge.DefaultConfig(), nil
	}
	cfg, err := pikebridge.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the process default so
// every package-level slog call honors the configured level and format.
func setupLogging(cfg *pikebridge.Config) *slog.Logger {
	logger := cfg.Log.NewSlogger()
	slog.SetDefault(logger)
	return logger
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogging(cfg)
	logger.Info("starting pikebridge", "interpreter", cfg.Interpreter.Path, "listen", cfg.Server.Listen)

	if err := pikebridge.RegisterMetricsDefault(); err != nil {
		logger.Warn("metrics registration failed", "error", err)
	}

	backend, err := pikebridge.New(cfg)
	if err != nil {
		return err
	}
	if err := backend.Start(); err != nil {
		return fmt.Errorf("failed to launch interpreter: %w", err)
	}

	srv, err := backend.NewHTTPServer()
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	protocol := "HTTP"
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		protocol = "HTTPS"
	}
	fmt.Printf("pikebridge %s server on %s%s\n", protocol, cfg.Server.Listen, cfg.Server.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	_ = srv.Close()
	return backend.Close()
}

func runDetect(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	det := detector.Detector{
		ExecutablePath: cfg.Interpreter.Path,
		ScriptPath:     cfg.Interpreter.Script,
	}
	res := det.Detect(context.Background())
	printJSON(res)
	if !res.ExecutableFound {
		return fmt.Errorf("pike executable not found at %q", cfg.Interpreter.Path)
	}
	return nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(out))
}
