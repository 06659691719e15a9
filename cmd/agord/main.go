// Package main is the entry point for agord, the Agor coordination daemon.
// The daemon owns all durable state and exposes HTTP and WebSocket endpoints;
// agent work happens in short-lived agor-executor subprocesses it spawns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/auth"
	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/gateway"
	"github.com/agor-sh/agor/internal/gateway/handlers"
	gws "github.com/agor-sh/agor/internal/gateway/websocket"
	"github.com/agor-sh/agor/internal/importer"
	"github.com/agor-sh/agor/internal/mcpresolve"
	"github.com/agor-sh/agor/internal/mcpserver"
	"github.com/agor-sh/agor/internal/permission"
	"github.com/agor-sh/agor/internal/scheduler"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store"
	"github.com/agor-sh/agor/internal/terminal"
	"github.com/agor-sh/agor/internal/tracing"
	"github.com/agor-sh/agor/internal/worktree"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agord...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory unless NATS is configured)
	eventBus, err := events.NewEventBus(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to connect event bus", zap.Error(err))
	}
	defer eventBus.Close()
	if cfg.NATS.URL != "" {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// 5. Open the store
	repo, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err), zap.String("dialect", cfg.Database.Dialect))
	}
	defer repo.Close()
	log.Info("Database ready", zap.String("dialect", cfg.Database.Dialect))

	// 6. Token signer shared by the gateway and the scheduler
	signer := auth.NewSigner(cfg.Auth.Secret)

	// 7. Scheduler: spawns and supervises executor subprocesses
	sched := scheduler.New(cfg.Scheduler, repo, eventBus, signer,
		cfg.Auth.SessionTokenDurationTime(), executorDaemonURL(cfg.Server), log)

	// 8. Worktree manager
	worktreeMgr, err := worktree.NewManager(cfg.Worktree, log)
	if err != nil {
		log.Fatal("Failed to initialize worktree manager", zap.Error(err))
	}

	// 9. Services
	taskSvc := service.NewTaskService(repo, eventBus, log)
	messageSvc := service.NewMessageService(repo, eventBus, log)
	sessionSvc := service.NewSessionService(repo, eventBus, sched, log)
	worktreeSvc := service.NewWorktreeService(repo, worktreeMgr, eventBus, log)
	boardSvc := service.NewBoardService(repo, eventBus, log)
	mcpSvc := service.NewMCPService(repo, eventBus, log)
	userSvc := service.NewUserService(repo)

	// 10. Terminal service, transcript importer, permission arbiter, MCP resolver
	termSvc := terminal.NewService(repo, eventBus, log)
	importSvc := importer.NewService(repo, eventBus, log)
	arbiter := permission.NewArbiter(repo, eventBus, cfg.Scheduler.PermissionTimeoutDuration(), log)
	resolver := mcpresolve.NewResolver(repo, log)

	// 11. WebSocket hub
	hub := gws.NewHub(eventBus, log)
	if err := hub.Start(ctx); err != nil {
		log.Fatal("Failed to start websocket hub", zap.Error(err))
	}

	// 12. Mark tasks left running by a previous daemon as orphaned
	if err := sched.Reconcile(ctx); err != nil {
		log.Error("Startup reconciliation failed", zap.Error(err))
	}

	// 13. HTTP gateway
	server := gateway.New(cfg.Server, handlers.Deps{
		Sessions:    sessionSvc,
		Tasks:       taskSvc,
		Messages:    messageSvc,
		Worktrees:   worktreeSvc,
		Boards:      boardSvc,
		MCP:         mcpSvc,
		Users:       userSvc,
		Terminals:   termSvc,
		Importer:    importSvc,
		Arbiter:     arbiter,
		Resolver:    resolver,
		Signer:      signer,
		TokenTTL:    cfg.Auth.TokenDurationTime(),
		UserEnvKeys: cfg.MCP.UserEnvKeys,
		Hub:         hub,
		Logger:      log,
	}, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 14. Embedded MCP server (optional)
	var mcpSrv *mcpserver.Server
	if cfg.MCP.ServerEnabled {
		mcpSrv = mcpserver.New(cfg.MCP, sessionSvc, boardSvc, userSvc, log)
		go func() {
			if err := mcpSrv.Start(ctx); err != nil {
				log.Error("MCP server stopped", zap.Error(err))
			}
		}()
		log.Info("Embedded MCP server enabled", zap.Int("port", cfg.MCP.ServerPort))
	}

	log.Info("agord ready",
		zap.String("http", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("websocket", "/api/v1/ws"),
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agord...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if mcpSrv != nil {
		if err := mcpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("MCP server shutdown error", zap.Error(err))
		}
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Error("Scheduler shutdown error", zap.Error(err))
	}
	termSvc.Shutdown()
	hub.Stop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("agord stopped")
}

// executorDaemonURL is the URL executor subprocesses call back on. A
// wildcard bind address is not dialable, so loopback is substituted.
func executorDaemonURL(cfg config.ServerConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Port)
}
