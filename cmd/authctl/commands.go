package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	server  string
	secret  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:          "authctl",
		Short:        "Administer an authd server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.secret == "" {
				_ = godotenv.Load()
				g.secret = os.Getenv("AUTHD_ADMIN_SECRET")
			}
			if g.secret == "" {
				return fmt.Errorf("admin secret required: pass --secret or set AUTHD_ADMIN_SECRET")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.server, "server", "http://localhost:8080", "authd base URL")
	root.PersistentFlags().StringVar(&g.secret, "secret", "", "admin signing secret (default $AUTHD_ADMIN_SECRET)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")

	client := func() (*client, error) { return newClient(g.server, []byte(g.secret), g.timeout) }

	root.AddCommand(
		userCmd("sessions", "List the live sessions of a user", http.MethodGet, "/sessions", client),
		userCmd("logout-user", "Revoke every session of a user", http.MethodPost, "/logout", client),
		userCmd("unlock", "Unlock an account and clear its failure counter", http.MethodPost, "/unlock", client),
		logoutSessionCmd(client),
		lockCmd(client),
		simpleCmd("cleanup", "Sweep expired sessions", http.MethodPost, "/admin/sessions/cleanup", client),
		simpleCmd("retry-stats", "Show retry executor counters", http.MethodGet, "/admin/retry-stats", client),
	)
	return root
}

type clientFunc func() (*client, error)

func userCmd(use, short, method, suffix string, newClient clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " USER_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), cmd.OutOrStdout(), method, "/admin/users/"+url.PathEscape(args[0])+suffix, nil)
		},
	}
}

func logoutSessionCmd(newClient clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "logout-session SESSION_ID",
		Short: "Revoke one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, "/admin/sessions/"+url.PathEscape(args[0])+"/logout", nil)
		},
	}
}

func lockCmd(newClient clientFunc) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "lock USER_ID",
		Short: "Lock an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			body := []byte(`{"minutes":` + strconv.Itoa(minutes) + `}`)
			return c.do(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, "/admin/users/"+url.PathEscape(args[0])+"/lock", body)
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "lock duration; 0 uses the server policy")
	return cmd
}

func simpleCmd(use, short, method, path string, newClient clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), cmd.OutOrStdout(), method, path, nil)
		},
	}
}
