package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var (
	errUsage = errors.New("usage error")
	errAuth  = errors.New("authentication error")
)

var daemonURL string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agor",
		Short:         "agor — coordinate AI coding agents",
		Long:          "agor is the command-line client for agord, the local daemon that runs and coordinates AI coding agent sessions across git worktrees.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&daemonURL, "daemon-url", defaultDaemonURL(), "agord base URL")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	root.AddCommand(loginCmd())
	root.AddCommand(logoutCmd())
	root.AddCommand(whoamiCmd())
	root.AddCommand(sessionCmd())
	root.AddCommand(boardCmd())
	root.AddCommand(terminalCmd())

	return root
}

// exactArgs is cobra.ExactArgs with the CLI's usage exit code attached.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %q expects %d argument(s), got %d", errUsage, cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}
