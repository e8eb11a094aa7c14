package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the bearer token for the configured server",
		Long: `Save a bearer token for the server named by [api] base_url. The token
is verified with an authenticated request before it is written; pass
--offline to skip the check when the server is not reachable.

Without --token, the token is prompted for so it never lands in shell
history.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("token", "", "bearer token (prompted for when omitted)")
	cmd.Flags().Bool("offline", false, "save without verifying against the server")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved bearer token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if cc.Cfg.API.BaseURL == "" {
		return errors.New("no server configured; set [api] base_url or pass --server")
	}

	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return fmt.Errorf("reading --token flag: %w", err)
	}

	if token == "" {
		if token, err = promptToken(cc.Cfg.API.BaseURL); err != nil {
			return err
		}
	}

	offline, err := cmd.Flags().GetBool("offline")
	if err != nil {
		return fmt.Errorf("reading --offline flag: %w", err)
	}

	if !offline {
		if err := verifyToken(ctx, cc, token); err != nil {
			return err
		}
	}

	if err := tokenfile.Save(cc.Cfg.TokenPath(), token, cc.Cfg.API.BaseURL); err != nil {
		return err
	}

	cc.Logger.Info("token saved", "server", cc.Cfg.API.BaseURL)
	cc.Statusf("Logged in to %s.", cc.Cfg.API.BaseURL)

	return nil
}

// promptToken asks for the token interactively, masked.
func promptToken(serverURL string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", errors.New("pass --token (no terminal to prompt on)")
	}

	var token string

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(fmt.Sprintf("Bearer token for %s", serverURL)).
			EchoMode(huh.EchoModePassword).
			Value(&token).
			Validate(func(s string) error {
				if s == "" {
					return errors.New("token must not be empty")
				}

				return nil
			}),
	))

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("login aborted: %w", err)
	}

	return token, nil
}

// verifyToken makes one authenticated request with the candidate token
// before anything is written to disk.
func verifyToken(ctx context.Context, cc *CLIContext, token string) error {
	client := api.NewClient(cc.Cfg.API.BaseURL, defaultHTTPClient(cc.Cfg), api.StaticTokens(token), cc.Logger)

	if _, err := client.ListProjects(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("server %s rejected the token; nothing saved", cc.Cfg.API.BaseURL)
		}

		return fmt.Errorf("could not verify token against %s (rerun with --offline to save anyway): %w",
			cc.Cfg.API.BaseURL, err)
	}

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path := cc.Cfg.TokenPath()

	if err := tokenfile.Delete(path); err != nil {
		return err
	}

	cc.Logger.Info("token removed", "path", path)
	cc.Statusf("Logged out.")

	return nil
}
