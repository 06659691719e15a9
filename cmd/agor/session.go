package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage agent sessions",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionCreateCmd())
	cmd.AddCommand(sessionPromptCmd())
	cmd.AddCommand(sessionForkCmd())
	cmd.AddCommand(sessionSpawnCmd())
	cmd.AddCommand(sessionCancelCmd())
	cmd.AddCommand(sessionLoadCmd("load-claude", "claude-code", findClaudeTranscript))
	cmd.AddCommand(sessionLoadCmd("load-codex", "codex", findCodexTranscript))

	return cmd
}

func sessionListCmd() *cobra.Command {
	var status, worktreeID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/sessions"
			query := ""
			if status != "" {
				query = appendQuery(query, "status", status)
			}
			if worktreeID != "" {
				query = appendQuery(query, "worktree_id", worktreeID)
			}
			var resp json.RawMessage
			if err := newClient().get(path+query, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (idle, running, completed, failed)")
	cmd.Flags().StringVar(&worktreeID, "worktree", "", "filter by worktree id")
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	var tool, worktreeID, title, model, permissionMode string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an idle session bound to a worktree",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tool == "" || worktreeID == "" {
				return fmt.Errorf("%w: --tool and --worktree are required", errUsage)
			}
			body := map[string]any{
				"tool":        tool,
				"worktree_id": worktreeID,
				"title":       title,
			}
			if permissionMode != "" {
				body["permission_mode"] = permissionMode
			}
			if model != "" {
				body["model"] = map[string]string{"mode": "alias", "model": model}
			}
			var session json.RawMessage
			if err := newClient().post("/api/v1/sessions", body, &session); err != nil {
				return err
			}
			return printJSON(session)
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "vendor family: claude-code, codex, gemini, opencode")
	cmd.Flags().StringVar(&worktreeID, "worktree", "", "worktree id the session works in")
	cmd.Flags().StringVar(&title, "title", "", "session title")
	cmd.Flags().StringVar(&model, "model", "", "model alias to run with")
	cmd.Flags().StringVar(&permissionMode, "permission-mode", "", "tool permission mode")
	return cmd
}

func sessionPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt <session-id> <prompt>",
		Short: "Send a prompt to a session",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task json.RawMessage
			body := map[string]string{"prompt": args[1]}
			if err := newClient().post("/api/v1/sessions/"+args[0]+"/prompt", body, &task); err != nil {
				return err
			}
			return printJSON(task)
		},
	}
	return cmd
}

func sessionForkCmd() *cobra.Command {
	return branchCmd("fork", "Fork a session at a task into a sibling session")
}

func sessionSpawnCmd() *cobra.Command {
	return branchCmd("spawn", "Spawn a child session from a task")
}

func branchCmd(verb, short string) *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   verb + " <session-id> <prompt>",
		Short: short,
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"prompt": args[1]}
			if taskID != "" {
				body["task_id"] = taskID
			}
			var resp json.RawMessage
			if err := newClient().post("/api/v1/sessions/"+args[0]+"/"+verb, body, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "branch point task id (default: latest task)")
	return cmd
}

func sessionCancelCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel the session's running task",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"task_id": taskID}
			if err := newClient().post("/api/v1/sessions/"+args[0]+"/cancel", body, nil); err != nil {
				return err
			}
			fmt.Println("Cancellation requested")
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "task id to cancel (default: the running task)")
	return cmd
}

// sessionLoadCmd imports a vendor transcript. The argument is a path to
// the transcript file, or a vendor session id resolved against the
// vendor's own storage directory.
func sessionLoadCmd(verb, tool string, find func(string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <path-or-session-id>",
		Short: "Import a " + tool + " transcript as a session",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := find(args[0])
			if err != nil {
				return err
			}
			var resp struct {
				Session json.RawMessage `json:"session"`
				Created bool            `json:"created"`
			}
			body := map[string]string{"tool": tool, "path": path}
			if err := newClient().post("/api/v1/sessions/import", body, &resp); err != nil {
				return err
			}
			if !resp.Created {
				fmt.Println("Already imported:")
			}
			return printJSON(resp.Session)
		},
	}
}

// findClaudeTranscript resolves an argument to a Claude Code transcript.
// Claude stores conversations at ~/.claude/projects/<escaped-cwd>/<session-id>.jsonl.
func findClaudeTranscript(arg string) (string, error) {
	if fileExists(arg) {
		return absPath(arg)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	matches, _ := filepath.Glob(filepath.Join(home, ".claude", "projects", "*", arg+".jsonl"))
	if len(matches) == 0 {
		return "", fmt.Errorf("no claude transcript found for %q", arg)
	}
	return matches[0], nil
}

// findCodexTranscript resolves an argument to a codex rollout file under
// ~/.codex/sessions/YYYY/MM/DD/.
func findCodexTranscript(arg string) (string, error) {
	if fileExists(arg) {
		return absPath(arg)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	matches, _ := filepath.Glob(filepath.Join(home, ".codex", "sessions", "*", "*", "*", "rollout-*"+arg+"*.jsonl"))
	if len(matches) == 0 {
		return "", fmt.Errorf("no codex rollout found for %q", arg)
	}
	return matches[len(matches)-1], nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func appendQuery(query, key, value string) string {
	sep := "&"
	if query == "" {
		sep = "?"
	}
	return query + sep + key + "=" + value
}
