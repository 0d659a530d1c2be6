// Package cli implements pointsctl, the operator CLI of the points engine.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/campushub/campus-hub/config"
	"github.com/campushub/campus-hub/internal/bootstrap"
	"github.com/campushub/campus-hub/pkg/logger"
)

// ConfigLoader loads configuration, optionally from a dotenv file.
type ConfigLoader func(envFile string) (*config.Config, error)

// LoadConfig is the default ConfigLoader.
func LoadConfig(envFile string) (*config.Config, error) {
	if envFile == "" {
		return config.Load()
	}
	return config.Load(envFile)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Format  string // "json" | "text"
	Verbose bool
	NoColor bool

	load ConfigLoader
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of pointsctl.
func NewRootCommand(load ConfigLoader) *cobra.Command {
	if load == nil {
		load = LoadConfig
	}
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:   "pointsctl",
		Short: "Operate the Campus Hub points engine",
		Long: `pointsctl runs maintenance tasks against the points engine storage:
schema migrations, catalog seeding, ledger reconciliation, and manual
awards or spends.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.NoColor {
				color.NoColor = true
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable coloured output")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))
	cmd.AddCommand(NewRankCommand(opts))
	cmd.AddCommand(NewAwardCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))

	return cmd
}

// loadConfig loads configuration through the injected loader.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := o.load(o.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// newLogger writes text logs to stderr so stdout stays parseable.
func (o *RootOptions) newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = logger.ParseLevel(cfg.Observability.LogLevel)
	}
	return logger.New(logger.Options{
		Output: cmd.ErrOrStderr(),
		Level:  level,
		Format: logger.FormatText,
	})
}

// runtime builds the full engine for commands that need it.
func (o *RootOptions) runtime(ctx context.Context, cmd *cobra.Command) (*bootstrap.Runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := bootstrap.New(ctx, cfg, o.newLogger(cmd, cfg))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "initialize engine", err)
	}
	return rt, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
