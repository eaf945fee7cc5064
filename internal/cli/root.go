// Package cli implements the plugreg command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/dshills/plugreg/internal/config"
	"github.com/dshills/plugreg/internal/logging"
)

// BuildInfo is the version information set at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Options holds the global flags.
type Options struct {
	ConfigPath string
	Paths      []string
	LogLevel   string
	LogFormat  string
	Loader     string
	Output     string
	Grants     []string
}

// app is the state shared by every command after flag parsing.
type app struct {
	opts  Options
	build BuildInfo
	cfg   *config.Config
	log   logr.Logger
}

// NewRootCommand creates the plugreg command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	a := &app{build: build}

	cmd := &cobra.Command{
		Use:   "plugreg",
		Short: "Inspect and resolve runtime plugins",
		Long: `plugreg discovers plugins in its search paths, registers them by
extension-point type and resolves their classes through isolated loading
domains.

Plugins in the same type and group share one loading domain; plugins
without a group each get their own.`,
		Example: `  # List every registered plugin
  plugreg list

  # List plugins of one type as JSON
  plugreg list formatter -o json

  # Resolve a class and call a method on it
  plugreg resolve formatter gofmt format.Formatter --call format "x:=1"

  # Reload plugins as they change on disk
  plugreg watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigPath, "config", "c", config.DefaultPath(), "Path to configuration file")
	flags.StringSliceVarP(&a.opts.Paths, "path", "p", nil, "Plugin search path (repeatable, overrides config)")
	flags.StringVar(&a.opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.opts.LogFormat, "log-format", "", "Log format (text, json)")
	flags.StringVar(&a.opts.Loader, "loader", "", "Class loader (lua, native, none)")
	flags.StringSliceVar(&a.opts.Grants, "grant", nil, "Lua sandbox grant (repeatable)")
	flags.StringVarP(&a.opts.Output, "output", "o", formatTable, "Output format (table, yaml, json)")

	cmd.AddCommand(newListCommand(a))
	cmd.AddCommand(newTypesCommand(a))
	cmd.AddCommand(newResolveCommand(a))
	cmd.AddCommand(newDomainsCommand(a))
	cmd.AddCommand(newInspectCommand(a))
	cmd.AddCommand(newWatchCommand(a))
	cmd.AddCommand(newConfigCommand(a))
	cmd.AddCommand(newVersionCommand(a))

	return cmd
}

// init loads the configuration and applies the global flags over it.
func (a *app) init(cmd *cobra.Command) error {
	if !slices.Contains(outputFormats, a.opts.Output) {
		return fmt.Errorf("invalid output format %q (must be table, yaml, or json)", a.opts.Output)
	}

	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(a.opts.Paths) > 0 {
		cfg.Plugins.Paths = a.opts.Paths
	}
	if a.opts.LogLevel != "" {
		cfg.Logging.Level = a.opts.LogLevel
	}
	if a.opts.LogFormat != "" {
		cfg.Logging.Format = a.opts.LogFormat
	}
	if a.opts.Loader != "" {
		cfg.Plugins.Loader = a.opts.Loader
	}
	if len(a.opts.Grants) > 0 {
		cfg.Lua.Grants = a.opts.Grants
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.log = logging.New(logging.Config{
		Level:  logging.ParseLogLevel(cfg.Logging.Level),
		JSON:   cfg.Logging.Format == config.FormatJSON,
		Output: cmd.ErrOrStderr(),
	})
	for _, name := range config.UnknownEnv(os.Environ()) {
		a.log.Info("ignoring unknown environment variable", "name", name)
	}
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, build BuildInfo, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(build)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
