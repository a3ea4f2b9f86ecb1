package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"pses-auth/internal/client"
)

func (a *app) signupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup <username>",
		Short: "Store a pending signup awaiting identity verification",
		Long: `Store a pending signup. The account becomes usable after the external
identity is verified and finalize runs.

Examples:
  authctl signup learner01 --preferred-language English
  authctl signup learner01 --poll --oidc-token-url https://... --oidc-refresh-token ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(cmd, "password", "Password: ")
			if err != nil {
				return err
			}
			prefs := preferencesFrom(cmd)
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.client().Signup(ctx, args[0], pw, prefs); err != nil {
				return err
			}
			if err := a.print(map[string]any{"ok": true, "username": args[0], "pending": true},
				"Pending signup stored for %s. Verify your email, then run finalize.", args[0]); err != nil {
				return err
			}
			if poll, _ := cmd.Flags().GetBool("poll"); poll {
				return a.poll(cmd, client.FinalizeRequest{Username: args[0], Preferences: &prefs})
			}
			return nil
		},
	}
	cmd.Flags().String("password", "", "password (prompted when empty)")
	cmd.Flags().Bool("poll", false, "wait for verification and finalize")
	addPreferenceFlags(cmd)
	return cmd
}

func (a *app) finalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize [username]",
		Short: "Link the verified external identity to the pending signup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.FinalizeRequest{}
			if len(args) == 1 {
				req.Username = args[0]
			}
			if cmd.Flags().Changed("preferred-language") || cmd.Flags().Changed("spoken-language") {
				prefs := preferencesFrom(cmd)
				req.Preferences = &prefs
			}
			if poll, _ := cmd.Flags().GetBool("poll"); poll {
				return a.poll(cmd, req)
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			tok, err := a.idToken(ctx)
			if err != nil {
				return err
			}
			res, err := a.client().Finalize(ctx, tok, req)
			if err != nil {
				return err
			}
			return a.print(res, "Account %s verified.", res.Username)
		},
	}
	cmd.Flags().Bool("poll", false, "poll until the identity is verified")
	addPreferenceFlags(cmd)
	return cmd
}

// poll runs the verification poller until finalize succeeds or the user interrupts.
func (a *app) poll(cmd *cobra.Command, req client.FinalizeRequest) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	src, err := a.identity(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Waiting for verification (Ctrl-C to stop)...")
	p := &client.VerificationPoller{
		Client:   a.client(),
		Identity: src,
		Logger:   a.logger(),
	}
	res, err := p.Run(ctx, req)
	if err != nil {
		return err
	}
	return a.print(res, "Account %s verified.", res.Username)
}

func (a *app) loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and print a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(cmd, "password", "Password: ")
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			s, err := a.client().Login(ctx, args[0], pw)
			if err != nil {
				if client.IsCode(err, "NOT_VERIFIED") {
					return errors.New("account is not verified yet; verify your email and run finalize")
				}
				return err
			}
			return a.print(s, "%s", s.Token)
		},
	}
	cmd.Flags().String("password", "", "password (prompted when empty)")
	return cmd
}

func (a *app) meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the account behind the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := a.sessionToken()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			u, err := a.client().RestoreSession(ctx, tok)
			if errors.Is(err, client.ErrSessionExpired) {
				return errors.New("session expired; log in again")
			}
			if err != nil {
				return err
			}
			return a.print(u, "%s <%s>", u.Username, u.Email)
		},
	}
}

func (a *app) resetRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-request <username>",
		Short: "Request a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			d, err := a.client().RequestPasswordReset(ctx, args[0])
			if err != nil {
				return err
			}
			if d.DevLink != "" {
				return a.print(d, "%s\nReset link: %s", d.Warning, d.DevLink)
			}
			return a.print(d, "Reset link sent to the email on file.")
		},
	}
}

func (a *app) resetConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-confirm <reset-token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(cmd, "new-password", "New password: ")
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.client().ConfirmPasswordReset(ctx, args[0], pw); err != nil {
				return err
			}
			return a.print(map[string]any{"ok": true}, "Password updated.")
		},
	}
	cmd.Flags().String("new-password", "", "new password (prompted when empty)")
	return cmd
}

func (a *app) resetByHintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-by-identity",
		Short: "Set a new password proving ownership with the external identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			if username == "" && email == "" {
				return errors.New("--username or --email is required")
			}
			pw, err := a.password(cmd, "new-password", "New password: ")
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			tok, err := a.idToken(ctx)
			if err != nil {
				return err
			}
			u, err := a.client().ConfirmPasswordResetByHint(ctx, tok, username, email, pw)
			if err != nil {
				return err
			}
			return a.print(map[string]any{"ok": true, "username": u}, "Password updated for %s.", u)
		},
	}
	cmd.Flags().String("username", "", "account username")
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("new-password", "", "new password (prompted when empty)")
	return cmd
}

func (a *app) changePasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change-password <username>",
		Short: "Change the password with the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPw, err := a.password(cmd, "old-password", "Current password: ")
			if err != nil {
				return err
			}
			newPw, err := a.password(cmd, "new-password", "New password: ")
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.client().ChangePassword(ctx, args[0], oldPw, newPw); err != nil {
				return err
			}
			return a.print(map[string]any{"ok": true}, "Password changed.")
		},
	}
	cmd.Flags().String("old-password", "", "current password (prompted when empty)")
	cmd.Flags().String("new-password", "", "new password (prompted when empty)")
	return cmd
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <username>",
		Short: "Show the identity mapping of a username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			m, err := a.client().ResolveUsername(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(m, "%s -> %s (%s, %s)", m.Username, m.ExternalID, m.Email, m.Provider)
		},
	}
}

func (a *app) profileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the learner profile (session token or identity token)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			bearer := a.v.GetString("token")
			if bearer == "" {
				tok, err := a.idToken(ctx)
				if err != nil {
					return err
				}
				bearer = tok
			}
			p, err := a.client().Profile(ctx, bearer)
			if err != nil {
				return err
			}
			return a.print(p, "%s <%s> verified=%t language=%s", p.Username, p.Email, p.Verified, p.Preferences.PreferredLanguage)
		},
	}
}

func addPreferenceFlags(cmd *cobra.Command) {
	cmd.Flags().String("preferred-language", "", "preferred learning language")
	cmd.Flags().String("spoken-language", "", "spoken language")
	cmd.Flags().String("spoken-language-secondary", "", "secondary spoken language")
}

func preferencesFrom(cmd *cobra.Command) client.Preferences {
	preferred, _ := cmd.Flags().GetString("preferred-language")
	spoken, _ := cmd.Flags().GetString("spoken-language")
	secondary, _ := cmd.Flags().GetString("spoken-language-secondary")
	return client.Preferences{
		PreferredLanguage:       preferred,
		SpokenLanguage:          spoken,
		SpokenLanguageSecondary: secondary,
	}
}
