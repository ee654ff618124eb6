package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/OGUN01/fitai-sub001/internal/app"
	"github.com/OGUN01/fitai-sub001/internal/config"
	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/identity"
)

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <session-token>",
		Short: "Store the account session token on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				owner, err := a.Tokens.StoreToken(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "login", err)
				}
				return out.Print(map[string]string{"owner_id": owner.Tag()}, func(w io.Writer) {
					fmt.Fprintf(w, "signed in as %s\n", owner.Tag())
				})
			})
		},
	}
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if err := a.Tokens.SignOut(ctx); err != nil {
					return WrapExitError(ExitCommandError, "sign out", err)
				}
				return out.Print(map[string]string{"owner_id": domain.AnonymousOwnerTag}, func(w io.Writer) {
					fmt.Fprintln(w, "signed out")
				})
			})
		},
	}
}

// NewDevTokenCommand creates the dev-token command, which mints a session
// token with the configured secret for local testing.
func NewDevTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:    "dev-token <account-id>",
		Short:  "Mint a session token for local testing",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(rootOpts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			if !domain.IsCanonicalOwnerID(args[0]) {
				return NewExitError(ExitCommandError, fmt.Sprintf("%q is not an account id", args[0]))
			}
			token, err := identity.Sign(args[0], ttl, identity.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
			if err != nil {
				return WrapExitError(ExitCommandError, "sign token", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Print(map[string]string{"token": token}, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
