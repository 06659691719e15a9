// Package scheduler supervises executor subprocesses: one per running
// task, capped process-wide, cancellable, reconciled on restart.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agor-sh/agor/internal/auth"
	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// RunningExecution tracks one live executor subprocess.
type RunningExecution struct {
	TaskID    string
	SessionID string
	Cmd       *exec.Cmd
	Cancel    context.CancelFunc
	StartedAt time.Time

	cancelled bool
	done      chan struct{}
}

// Scheduler maps task ids to running executions. It is the only writer
// of that map; per-execution supervisors report back through it.
type Scheduler struct {
	cfg       config.SchedulerConfig
	repo      repository.Repository
	bus       bus.EventBus
	signer    *auth.Signer
	tokenTTL  time.Duration
	daemonURL string
	logger    *logger.Logger

	mu      sync.Mutex
	running map[string]*RunningExecution
	slots   chan struct{}
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, repo repository.Repository, eventBus bus.EventBus, signer *auth.Signer, tokenTTL time.Duration, daemonURL string, log *logger.Logger) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Scheduler{
		cfg:       cfg,
		repo:      repo,
		bus:       eventBus,
		signer:    signer,
		tokenTTL:  tokenTTL,
		daemonURL: daemonURL,
		logger:    log.WithFields(zap.String("component", "scheduler")),
		running:   make(map[string]*RunningExecution),
		slots:     make(chan struct{}, maxConcurrent),
	}
}

// Launch spawns the executor subprocess for a claimed task. The session
// is already marked running by the claim; the executor reports progress
// back over the daemon's normal RPC surface.
func (s *Scheduler) Launch(ctx context.Context, session *models.Session, task *models.Task) error {
	select {
	case s.slots <- struct{}{}:
	default:
		return fmt.Errorf("executor cap reached (%d running)", cap(s.slots))
	}

	token, err := s.signer.MintSessionToken(session.CreatedBy, session.ID, s.tokenTTL)
	if err != nil {
		<-s.slots
		return fmt.Errorf("failed to mint session token: %w", err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	args := []string{
		"--session-token", token,
		"--session-id", session.ID,
		"--task-id", task.ID,
		"--prompt", task.Prompt,
		"--tool", string(session.Tool),
		"--daemon-url", s.daemonURL,
	}
	if session.PermissionMode != "" {
		args = append(args, "--permission-mode", session.PermissionMode)
	}

	cmd := exec.CommandContext(procCtx, s.cfg.ExecutorPath, args...)
	cmd.Dir = session.WorkingDir
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group, so a graceful TERM reaches the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		cancel()
		<-s.slots
		return fmt.Errorf("failed to start executor: %w", err)
	}

	run := &RunningExecution{
		TaskID:    task.ID,
		SessionID: session.ID,
		Cmd:       cmd,
		Cancel:    cancel,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.running[task.ID] = run
	s.mu.Unlock()

	s.logger.Info("executor spawned",
		zap.String("task_id", task.ID),
		zap.String("session_id", session.ID),
		zap.Int("pid", cmd.Process.Pid))

	go s.supervise(run)
	return nil
}

// supervise waits for the subprocess to exit and settles the task if
// the executor died without reporting a terminal status.
func (s *Scheduler) supervise(run *RunningExecution) {
	err := run.Cmd.Wait()
	close(run.done)

	s.mu.Lock()
	cancelled := run.cancelled
	delete(s.running, run.TaskID)
	s.mu.Unlock()
	run.Cancel()
	<-s.slots

	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	s.logger.Info("executor exited",
		zap.String("task_id", run.TaskID),
		zap.Int("exit_code", exitCode),
		zap.Bool("cancelled", cancelled))

	s.settle(run, exitCode, cancelled)
}

// settle marks the task failed if the executor exited without finishing
// it; a clean exit normally arrives with the task already terminal.
func (s *Scheduler) settle(run *RunningExecution, exitCode int, cancelled bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	task, err := s.repo.GetTask(ctx, run.TaskID)
	if err != nil {
		s.logger.Error("failed to load task after executor exit",
			zap.String("task_id", run.TaskID), zap.Error(err))
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	reason := fmt.Sprintf("executor exited with code %d", exitCode)
	if cancelled {
		reason = models.FailureReasonCancelled
	}
	if err := s.repo.FinishTask(ctx, run.TaskID, models.TaskStatusFailed, reason); err != nil {
		s.logger.Error("failed to settle task",
			zap.String("task_id", run.TaskID), zap.Error(err))
		return
	}

	task, err = s.repo.GetTask(ctx, run.TaskID)
	if err == nil {
		subject, eventType := events.SubjectTaskFailed, events.TypeTaskFailed
		if cancelled {
			subject, eventType = events.SubjectTaskCancelled, events.TypeTaskCancelled
		}
		event := bus.NewEvent(eventType, "scheduler", task)
		if pubErr := s.bus.Publish(ctx, subject, event); pubErr != nil {
			s.logger.Error("failed to publish task event", zap.Error(pubErr))
		}
	}
}

// Cancel notifies the executor over its cancel subject, waits the grace
// window for a voluntary exit, then force-kills the process group.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	run, ok := s.running[taskID]
	if ok {
		run.cancelled = true
	}
	s.mu.Unlock()
	if !ok {
		// Not running: cancel is idempotent.
		return nil
	}

	event := bus.NewEvent(events.TypeTaskCancelRequest, "scheduler", map[string]any{"task_id": taskID})
	if err := s.bus.Publish(ctx, events.SubjectTaskCancel(taskID), event); err != nil {
		s.logger.Warn("failed to publish cancel notification",
			zap.String("task_id", taskID), zap.Error(err))
	}

	grace := time.Duration(s.cfg.CancelGraceSecs) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}

	go func() {
		select {
		case <-run.done:
			return
		case <-time.After(grace):
		}
		s.logger.Warn("executor ignored cancellation, killing",
			zap.String("task_id", taskID))
		if run.Cmd.Process != nil {
			// Negative pid signals the whole process group.
			_ = syscall.Kill(-run.Cmd.Process.Pid, syscall.SIGKILL)
		}
	}()
	return nil
}

// Reconcile marks tasks left running with no live subprocess as failed
// with reason orphaned. Called once on daemon startup.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	tasks, err := s.repo.ListRunningTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running tasks: %w", err)
	}

	for _, task := range tasks {
		s.mu.Lock()
		_, live := s.running[task.ID]
		s.mu.Unlock()
		if live {
			continue
		}

		if err := s.repo.FinishTask(ctx, task.ID, models.TaskStatusFailed, models.FailureReasonOrphaned); err != nil {
			s.logger.Error("failed to orphan task",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		s.logger.Warn("orphaned task reconciled",
			zap.String("task_id", task.ID),
			zap.String("session_id", task.SessionID))

		if settled, err := s.repo.GetTask(ctx, task.ID); err == nil {
			event := bus.NewEvent(events.TypeTaskFailed, "scheduler", settled)
			if pubErr := s.bus.Publish(ctx, events.SubjectTaskFailed, event); pubErr != nil {
				s.logger.Error("failed to publish orphan event", zap.Error(pubErr))
			}
		}
	}
	return nil
}

// RunningCount returns the number of live executions.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown cancels every running execution and waits for the processes
// to exit or the context to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	runs := make([]*RunningExecution, 0, len(s.running))
	for _, run := range s.running {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	for _, run := range runs {
		if err := s.Cancel(ctx, run.TaskID); err != nil {
			s.logger.Warn("cancel during shutdown failed",
				zap.String("task_id", run.TaskID), zap.Error(err))
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runs {
		run := run
		g.Go(func() error {
			select {
			case <-run.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}
