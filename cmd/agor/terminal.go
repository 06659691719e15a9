package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func terminalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminal",
		Short: "Manage daemon-hosted terminals",
	}

	cmd.AddCommand(terminalOpenCmd())
	cmd.AddCommand(terminalListCmd())

	return cmd
}

func terminalOpenCmd() *cobra.Command {
	var worktreeID, command string
	var cols, rows int

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a shell terminal hosted by the daemon",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"worktree_id": worktreeID,
				"command":     command,
				"cols":        cols,
				"rows":        rows,
			}
			var term struct {
				ID         string `json:"id"`
				WorkingDir string `json:"working_dir"`
				TmuxTarget string `json:"tmux_target"`
			}
			if err := newClient().post("/api/v1/terminals", body, &term); err != nil {
				return err
			}
			fmt.Printf("Terminal %s opened in %s\n", term.ID, term.WorkingDir)
			if term.TmuxTarget != "" {
				fmt.Printf("Attach directly with: tmux attach -t %s\n", term.TmuxTarget)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&worktreeID, "worktree", "", "open in this worktree's directory (tmux-backed)")
	cmd.Flags().StringVar(&command, "command", "", "command to run instead of the login shell")
	cmd.Flags().IntVar(&cols, "cols", 0, "terminal width")
	cmd.Flags().IntVar(&rows, "rows", 0, "terminal height")
	return cmd
}

func terminalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open terminals",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp json.RawMessage
			if err := newClient().get("/api/v1/terminals", &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}
