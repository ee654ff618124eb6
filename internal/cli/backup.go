package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/OGUN01/fitai-sub001/internal/app"
	"github.com/OGUN01/fitai-sub001/internal/backup"
	"github.com/OGUN01/fitai-sub001/internal/queue"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect and prune pre-sync snapshots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				infos, err := a.Backups.List(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "list snapshots", err)
				}
				if infos == nil {
					infos = []backup.Info{}
				}
				return out.Print(infos, func(w io.Writer) {
					if len(infos) == 0 {
						fmt.Fprintln(w, "no snapshots")
					}
					for _, info := range infos {
						fmt.Fprintf(w, "%s  %s  %d key(s)\n", info.SessionID, info.CreatedAt.Format(time.RFC3339), info.Keys)
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Apply the snapshot retention policy now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				removed, err := a.Backups.Prune(ctx, "")
				if err != nil {
					return WrapExitError(ExitCommandError, "prune snapshots", err)
				}
				if removed == nil {
					removed = []string{}
				}
				return out.Print(map[string][]string{"removed": removed}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d snapshot(s)\n", len(removed))
				})
			})
		},
	})
	return cmd
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline mutation queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending and quarantined mutations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				pending, err := a.Queue.Pending(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "read queue", err)
				}
				quarantined, err := a.Queue.Quarantined(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "read queue", err)
				}
				view := map[string][]queue.Mutation{"pending": pending, "quarantined": quarantined}
				return out.Print(view, func(w io.Writer) {
					fmt.Fprintf(w, "%d pending, %d quarantined\n", len(pending), len(quarantined))
					for _, m := range quarantined {
						fmt.Fprintf(w, "  %s %s attempts=%d reason=%q last_error=%q\n", m.ID, m.Table, m.Attempts, m.QuarantineReason, m.LastError)
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <mutation-id>",
		Short: "Release a quarantined mutation for the next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if err := a.Queue.Requeue(ctx, args[0]); err != nil {
					return WrapExitError(ExitCommandError, "requeue", err)
				}
				return out.Print(map[string]string{"requeued": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "requeued %s\n", args[0])
				})
			})
		},
	})
	return cmd
}
