package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the local daemon and cache the token",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = localUsername()
			}

			c := newClient()
			var resp struct {
				Token string          `json:"token"`
				User  json.RawMessage `json:"user"`
			}
			if err := c.post("/api/v1/auth/login", map[string]string{"username": username}, &resp); err != nil {
				return err
			}
			if err := saveToken(resp.Token); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username to log in as (default: OS user)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the cached token",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clearToken(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var me json.RawMessage
			if err := newClient().get("/api/v1/auth/whoami", &me); err != nil {
				return err
			}
			return printJSON(me)
		},
	}
}

func localUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "agor"
}
