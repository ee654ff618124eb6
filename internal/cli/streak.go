package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/OGUN01/fitai-sub001/internal/app"
	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/streak"
)

// NewStreakCommand creates the streak command and its subcommands.
func NewStreakCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Show the daily activity streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				owner, err := a.Identity.Current(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "resolve account", err)
				}
				state, err := a.Streak.State(ctx, owner)
				if err != nil {
					return WrapExitError(ExitCommandError, "read streak", err)
				}
				return printStreak(out, state)
			})
		},
	}
	cmd.AddCommand(newStreakRecordCommand(rootOpts))
	cmd.AddCommand(newStreakReconcileCommand(rootOpts))
	return cmd
}

func newStreakRecordCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		date       string
		meal       string
		incomplete bool
	)
	cmd := &cobra.Command{
		Use:   "record <workout|meal|water>",
		Short: "Record an activity completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				owner, err := a.Identity.Current(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "resolve account", err)
				}
				day := date
				if day == "" {
					loc, err := a.Config.Location()
					if err != nil {
						return WrapExitError(ExitCommandError, "time zone", err)
					}
					day = domain.Today(domain.SystemClock, loc)
				}
				current, err := a.Streak.RecordActivity(ctx, owner, streak.Activity{
					Date:      day,
					Kind:      domain.ActivityKind(args[0]),
					Meal:      domain.MealCategory(meal),
					Completed: !incomplete,
				})
				if err != nil {
					return WrapExitError(ExitCommandError, "record activity", err)
				}
				return out.Print(map[string]any{"date": day, "current_streak": current}, func(w io.Writer) {
					fmt.Fprintf(w, "%s recorded for %s; current streak %d\n", args[0], day, current)
				})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "activity date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&meal, "meal", "", "meal category for meal activities (breakfast|lunch|dinner|snack)")
	cmd.Flags().BoolVar(&incomplete, "undo", false, "mark the activity as not completed")
	return cmd
}

func newStreakReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair divergence between the local and account streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				owner, err := a.Identity.Current(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "resolve account", err)
				}
				state, err := a.Streak.Reconcile(ctx, owner)
				if err != nil {
					if errors.Is(err, domain.ErrUnauthenticated) {
						return WrapExitError(ExitCommandError, "sign in first", err)
					}
					return WrapExitError(ExitFailure, "reconcile streak", err)
				}
				return printStreak(out, state)
			})
		},
	}
}

func printStreak(out *OutputFormatter, state domain.StreakState) error {
	view := struct {
		OwnerID            string `json:"owner_id"`
		CurrentStreak      int    `json:"current_streak"`
		LongestStreak      int    `json:"longest_streak"`
		LastCompletionDate string `json:"last_completion_date,omitempty"`
	}{state.OwnerID, state.CurrentStreak, state.LongestStreak, state.LastCompletionDate}
	return out.Print(view, func(w io.Writer) {
		fmt.Fprintf(w, "current streak %d (longest %d)\n", state.CurrentStreak, state.LongestStreak)
		if state.LastCompletionDate != "" {
			fmt.Fprintf(w, "last completed day %s\n", state.LastCompletionDate)
		}
	})
}
