package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OGUN01/fitai-sub001/internal/app"
	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/syncer"
	"github.com/OGUN01/fitai-sub001/internal/validate"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the device API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, _ *OutputFormatter) error {
				return a.Serve(ctx)
			})
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync session for the signed-in account",
		Long: `Run one sync session: snapshot local data, rebind anonymous records to the
signed-in account, merge and upsert every entity type, then replay the offline
mutation queue. Exits 1 when the session failed or was rolled back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, runSync)
		},
	}
}

func runSync(ctx context.Context, a *app.App, out *OutputFormatter) error {
	owner, err := a.Identity.Current(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve account", err)
	}
	result, err := a.Sync.RunSync(ctx, owner)
	if err != nil {
		if errors.Is(err, syncer.ErrSessionInProgress) {
			return WrapExitError(ExitCommandError, "sync not started", err)
		}
		return WrapExitError(ExitCommandError, "run sync", err)
	}
	if err := out.Print(result, func(w io.Writer) {
		fmt.Fprintln(w, result.Message)
		printCounts(w, result.Counts)
	}); err != nil {
		return err
	}
	if !result.Success {
		return NewExitError(ExitFailure, result.Message)
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var withReport bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current or most recent sync session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if withReport {
					return printReport(ctx, a, out)
				}
				status, err := a.Sync.GetSyncStatus(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "read sync status", err)
				}
				return out.Print(status, func(w io.Writer) {
					switch {
					case status.InProgress:
						fmt.Fprintf(w, "session %s in progress since %s\n", status.SessionID, status.StartedAt.Format(time.RFC3339))
					case status.LastSyncAt != nil:
						fmt.Fprintf(w, "last successful sync %s\n", status.LastSyncAt.Format(time.RFC3339))
					default:
						fmt.Fprintln(w, "never synced")
					}
					if status.Error != "" {
						fmt.Fprintf(w, "error: %s\n", status.Error)
					}
					if status.Rollback != nil && status.Rollback.Attempted {
						fmt.Fprintf(w, "rollback attempted, successful=%t\n", status.Rollback.Successful)
					}
					printCounts(w, status.Entities)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&withReport, "report", false, "show per-record diagnostics of the last session")
	return cmd
}

func printReport(ctx context.Context, a *app.App, out *OutputFormatter) error {
	report, err := a.Sync.GetReport(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "read sync report", err)
	}
	if report == nil {
		return NewExitError(ExitCommandError, "no sync session has run on this device")
	}
	return out.Print(report, func(w io.Writer) {
		fmt.Fprintf(w, "session %s success=%t\n", report.SessionID, report.Success)
		if report.SnapshotError != "" {
			fmt.Fprintf(w, "snapshot: %s\n", report.SnapshotError)
		}
		for _, e := range report.Entities {
			fmt.Fprintf(w, "  %-12s processed=%d success=%d failed=%d", e.Kind, e.Counters.Processed, e.Counters.Success, e.Counters.Failed)
			if e.Error != "" {
				fmt.Fprintf(w, " error[%s]=%s", e.ErrorClass, e.Error)
			}
			fmt.Fprintln(w)
		}
		for _, v := range report.ValidationErrors() {
			fmt.Fprintf(w, "  dropped %s\n", v.Error())
		}
		if report.Queue != nil {
			fmt.Fprintf(w, "queue processed=%d quarantined=%d remaining=%d\n",
				report.Queue.Drain.Processed, report.Queue.Drain.Quarantined, report.Queue.Drain.Remaining)
		}
	})
}

// NewCleanCommand creates the clean command.
func NewCleanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Validate local records and drop the invalid ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				report, err := validate.Clean(ctx, a.Local, a.Validator, a.Lock)
				if err != nil {
					return WrapExitError(ExitCommandError, "clean local records", err)
				}
				return out.Print(report, func(w io.Writer) {
					fmt.Fprintf(w, "dropped %d record(s)\n", report.Dropped())
					for _, s := range report.Summaries {
						fmt.Fprintf(w, "  %-12s total=%d valid=%d invalid=%d pending=%d\n", s.Kind, s.Total, s.Valid, s.Invalid, report.Pending[s.Kind])
					}
				})
			})
		},
	}
}

func printCounts(w io.Writer, counts map[domain.EntityKind]domain.EntityCounters) {
	for _, kind := range domain.SyncOrder {
		c, ok := counts[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-12s %d/%d processed, %d ok, %d failed\n", kind, c.Processed, c.Total, c.Success, c.Failed)
	}
}
