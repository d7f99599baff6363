package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for client-side commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(),
		createHealthCommand(),
		createStatsCommand(),
		createModuleCommand(),
		createCacheClearCommand(),
		createRestartCommand(),
		createDetectCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "pikebridge",
		Short: "Pike analysis backend daemon",
		Long: `Pikebridge supervises a Pike interpreter session, speaks its
line-oriented analysis protocol, and caches introspected stdlib modules.

Examples:
  pikebridge serve --config=pikebridge.toml   # Start daemon
  pikebridge health                           # Check interpreter health
  pikebridge module Stdio.File                # Resolve a stdlib module
  pikebridge status --api-url=http://remote:8484`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.URL, "api-url", "", "daemon URL (default http://127.0.0.1:8484)")
	cmd.Flags().DurationVar(&flags.Timeout, "api-timeout", 15*time.Second, "request timeout")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the pikebridge daemon",
		Long: `Start the daemon: launch the interpreter, expose the HTTP API and
keep both supervised until SIGINT/SIGTERM.

Examples:
  pikebridge serve                  # built-in defaults, pike from PATH
  pikebridge serve pikebridge.toml
  pikebridge serve --config=pikebridge.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}
}

func createStatusCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show interpreter process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(flags).Status()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createHealthCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show aggregated interpreter health",
		Long: `Check health of the running daemon's interpreter session. Exits
non-zero when the session is degraded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(flags).Health()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStatsCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show module cache counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(flags).Stats()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createModuleCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "module <path>",
		Short: "Resolve a stdlib module",
		Long: `Resolve a library module by dotted path through the daemon and
print its symbol table.

Examples:
  pikebridge module Stdio.File
  pikebridge module Protocols.HTTP.Query`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(flags).Module(args[0])
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createCacheClearCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "cache-clear",
		Short: "Drop the daemon's module cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(flags).CacheClear()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createRestartCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Replace the interpreter session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(flags).Restart()
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createDetectCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Probe the local Pike installation",
		Long: `Probe the configured interpreter executable and analysis script
on this machine, without a running daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(globalFlags.ConfigPath)
		},
	}
}
