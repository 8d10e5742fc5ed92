package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize an OAuth backend in the browser",
		Long: `Open the provider's consent page in a browser and store the resulting
tokens. The redirect_url configured for the backend must point at a free
loopback port, for example http://127.0.0.1:53682/callback, and be
registered with the provider.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored tokens for an OAuth backend",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	sess, err := newSessionDeps(ctx, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	coord, err := sess.Coordinator()
	if err != nil {
		return err
	}

	logger.Info("login started", slog.String("backend", coord.Backend()))

	if err := coord.Login(ctx); err != nil {
		return err
	}

	logger.Info("login successful", slog.String("backend", coord.Backend()))
	statusf("Logged in to %s.\n", coord.Backend())

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	sess, err := newSessionDeps(ctx, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	coord, err := sess.Coordinator()
	if err != nil {
		return err
	}

	if err := coord.Logout(ctx); err != nil {
		return err
	}

	logger.Info("logout successful", slog.String("backend", coord.Backend()))
	statusf("Logged out of %s.\n", coord.Backend())

	return nil
}
