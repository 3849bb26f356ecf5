package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <google-credential>",
	Short: "Sign in with a Google ID token and keep the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient(loadConfig())
		if _, err := client.SignIn(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		user, err := client.CheckAuth(cmd.Context())
		if err != nil {
			return fmt.Errorf("check auth: %w", err)
		}
		slog.Info("signed in", "email", user.Email, "name", user.Name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient(loadConfig()).Tokens().Clear()
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
