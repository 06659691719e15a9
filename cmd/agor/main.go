// Package main is the entry point for the agor CLI, the command-line
// client for a local agord daemon.
//
// Exit codes: 0 success, 1 generic failure, 2 usage error, 3 auth error.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		switch {
		case errors.Is(err, errAuth):
			os.Exit(3)
		case errors.Is(err, errUsage):
			os.Exit(2)
		default:
			os.Exit(1)
		}
	}
}
