package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func boardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Manage boards",
	}

	cmd.AddCommand(boardListCmd())
	cmd.AddCommand(boardCreateCmd())
	cmd.AddCommand(boardExportCmd())
	cmd.AddCommand(boardImportCmd())

	return cmd
}

func boardListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List boards",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp json.RawMessage
			if err := newClient().get("/api/v1/boards", &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func boardCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a board",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var board json.RawMessage
			if err := newClient().post("/api/v1/boards", map[string]string{"name": args[0]}, &board); err != nil {
				return err
			}
			return printJSON(board)
		},
	}
}

func boardExportCmd() *cobra.Command {
	var output, format string

	cmd := &cobra.Command{
		Use:   "export <board-id>",
		Short: "Export a board as YAML (or a lossless blob)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().getRaw("/api/v1/boards/" + args[0] + "/export?format=" + format)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Exported board to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "yaml", "export format: yaml or blob")
	return cmd
}

func boardImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a board from a YAML export",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var board json.RawMessage
			if err := newClient().postRaw("/api/v1/boards/import", "application/yaml", data, &board); err != nil {
				return err
			}
			return printJSON(board)
		},
	}
}
