// Package cli implements the fitsync command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OGUN01/fitai-sub001/internal/app"
	"github.com/OGUN01/fitai-sub001/internal/config"
	"github.com/OGUN01/fitai-sub001/internal/observability"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool

	build func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fitsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{build: app.Build})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fitsync",
		Short: "fitsync - offline-first fitness data sync",
		Long:  "Synchronizes on-device workout, meal, body metric and profile data with the account store and keeps the daily activity streak.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv(config.FileEnv), "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level to stderr")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCleanCommand(opts))
	cmd.AddCommand(NewStreakCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewDevTokenCommand(opts))

	return cmd
}

// open loads configuration and wires the engine. The caller closes the App.
func (o *RootOptions) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadFile(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	logger := zap.NewNop()
	if o.Verbose {
		logger, err = observability.NewLogger("debug", "console")
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "create logger", err)
		}
	}
	a, err := o.build(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open stores", err)
	}
	return a, nil
}

// withApp runs fn against a freshly wired App and closes it afterwards.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, out *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()})
}
