// Package main is the entry point for agor-executor, the short-lived
// subprocess agord spawns to run one task against a vendor agent CLI.
// It streams progress back to the daemon and exits when the task settles.
//
// Exit codes: 0 task completed, 1 agent or daemon failure, 2 usage error,
// 3 authentication failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/executor"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := executor.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		return executor.ExitUsage
	}

	// Executor logs go to stderr; stdout stays clean for the parent.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      envOr("AGOR_EXECUTOR_LOG_LEVEL", "info"),
		Format:     "json",
		OutputPath: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return executor.ExitSDKFailure
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := executor.NewClient(cfg.DaemonURL, cfg.SessionToken, log)
	runner := executor.NewRunner(cfg, client, log)

	if err := runner.Run(ctx); err != nil {
		if errors.Is(err, executor.ErrAuth) {
			log.Error("Daemon rejected session token", zap.Error(err))
			return executor.ExitAuth
		}
		log.Error("Task execution failed", zap.Error(err), zap.String("task_id", cfg.TaskID))
		return executor.ExitSDKFailure
	}
	return executor.ExitOK
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
