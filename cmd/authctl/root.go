package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"pses-auth/internal/client"
)

const envPrefix = "AUTHCTL"

// app carries the resolved settings shared by every subcommand.
type app struct {
	v   *viper.Viper
	out io.Writer
	// readPassword prompts without echo; replaced in tests.
	readPassword func(prompt string) (string, error)
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), readPassword: promptPassword}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Command-line client for the PSES auth API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.out = cmd.OutOrStdout()
		},
	}
	pf := root.PersistentFlags()
	pf.String("api-url", "http://localhost:5000", "auth API base URL")
	pf.String("token", "", "session token from login")
	pf.String("id-token", "", "identity token from the external provider")
	pf.String("oidc-token-url", "", "token endpoint used to refresh the identity token")
	pf.String("oidc-client-id", "", "OAuth client id for the refresh grant")
	pf.String("oidc-refresh-token", "", "refresh token for the external identity")
	pf.Duration("timeout", 30*time.Second, "per-command timeout (poll runs until verified or interrupted)")
	pf.Bool("json", false, "print raw JSON")

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindPFlags(pf)

	root.AddCommand(
		a.signupCmd(),
		a.finalizeCmd(),
		a.loginCmd(),
		a.meCmd(),
		a.resetRequestCmd(),
		a.resetConfirmCmd(),
		a.resetByHintCmd(),
		a.changePasswordCmd(),
		a.resolveCmd(),
		a.profileCmd(),
	)
	return root
}

func (a *app) client() *client.Client {
	return client.New(a.v.GetString("api-url"), &http.Client{Timeout: 15 * time.Second})
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.v.GetDuration("timeout"))
}

// identity returns the configured identity token source: a static token, or a refresh grant
// against the provider's token endpoint.
func (a *app) identity(ctx context.Context) (client.IdentitySource, error) {
	if tok := a.v.GetString("id-token"); tok != "" {
		return client.StaticIdentity(tok), nil
	}
	refresh := a.v.GetString("oidc-refresh-token")
	tokenURL := a.v.GetString("oidc-token-url")
	if refresh == "" || tokenURL == "" {
		return nil, errors.New("an identity token is required: set --id-token, or --oidc-token-url with --oidc-refresh-token")
	}
	cfg := &oauth2.Config{
		ClientID: a.v.GetString("oidc-client-id"),
		Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
	}
	return client.NewRefreshTokenSource(ctx, cfg, refresh), nil
}

func (a *app) idToken(ctx context.Context) (string, error) {
	src, err := a.identity(ctx)
	if err != nil {
		return "", err
	}
	return client.FetchIDToken(ctx, src, client.DefaultTokenDelays)
}

func (a *app) sessionToken() (string, error) {
	tok := a.v.GetString("token")
	if tok == "" {
		return "", errors.New("a session token is required: run login and pass --token (or AUTHCTL_TOKEN)")
	}
	return tok, nil
}

// password returns the flag value, or prompts when it is empty.
func (a *app) password(cmd *cobra.Command, flag, prompt string) (string, error) {
	if p, _ := cmd.Flags().GetString(flag); p != "" {
		return p, nil
	}
	return a.readPassword(prompt)
}

// print writes v as JSON with --json, otherwise the human line.
func (a *app) print(v any, format string, args ...any) error {
	if a.v.GetBool("json") {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(a.out, format+"\n", args...)
	return err
}

func (a *app) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(a.out, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
