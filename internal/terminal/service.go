package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/repository"
)

// Service owns the live terminal registry.
type Service struct {
	repo   repository.Repository
	bus    bus.EventBus
	logger *logger.Logger

	mu        sync.RWMutex
	terminals map[string]*Terminal
}

// NewService creates the terminal service.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "terminal-service")),
		terminals: make(map[string]*Terminal),
	}
}

// CreateRequest describes a new terminal.
type CreateRequest struct {
	// WorktreeID selects the working directory and, when set, routes the
	// shell through a per-user tmux session so it survives daemon restarts.
	WorktreeID string `json:"worktree_id,omitempty"`
	Command    string `json:"command,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
}

// Create spawns a shell in a PTY and starts streaming its output.
func (s *Service) Create(ctx context.Context, p service.Principal, req CreateRequest) (*Terminal, error) {
	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	workingDir := ""
	if req.WorktreeID != "" {
		wt, err := s.repo.GetWorktree(ctx, req.WorktreeID)
		if err != nil {
			return nil, service.FromRepository(err)
		}
		workingDir = wt.Path
	}

	id := uuid.New().String()
	command := req.Command
	if command == "" {
		command = defaultShell()
	}

	var cmd *exec.Cmd
	tmuxTarget := ""
	if req.WorktreeID != "" && tmuxAvailable() {
		// tmux new-session -A attaches when the session already exists,
		// so a re-created terminal lands back in the same shell.
		tmuxTarget = fmt.Sprintf("agor-%s", shortID(p.UserID))
		cmd = exec.Command("tmux", "new-session", "-A", "-s", tmuxTarget, "-c", workingDir, command)
	} else {
		cmd = exec.Command(command)
		cmd.Dir = workingDir
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, service.WrapError(service.KindTransient, err, "failed to start terminal")
	}

	term := &Terminal{
		ID:         id,
		UserID:     p.UserID,
		WorktreeID: req.WorktreeID,
		WorkingDir: workingDir,
		Command:    command,
		TmuxTarget: tmuxTarget,
		Cols:       cols,
		Rows:       rows,
		CreatedAt:  time.Now().UTC(),
		cmd:        cmd,
		ptmx:       ptmx,
		screen:     vt10x.New(vt10x.WithSize(cols, rows)),
	}

	s.mu.Lock()
	s.terminals[id] = term
	s.mu.Unlock()

	go s.readLoop(term)

	s.publish(ctx, events.SubjectTerminalCreated, events.TypeTerminalCreated, term)
	s.logger.Info("terminal created",
		zap.String("terminal_id", id),
		zap.String("worktree_id", req.WorktreeID),
		zap.String("tmux", tmuxTarget))
	return term, nil
}

// Get returns a live terminal after an ownership check.
func (s *Service) Get(ctx context.Context, p service.Principal, id string) (*Terminal, error) {
	s.mu.RLock()
	term, ok := s.terminals[id]
	s.mu.RUnlock()
	if !ok {
		return nil, service.NewError(service.KindNotFound, "terminal %s not found", id)
	}
	if !p.IsAdmin() && term.UserID != p.UserID {
		return nil, service.NewError(service.KindForbidden, "terminal %s belongs to another user", id)
	}
	return term, nil
}

// List returns the principal's live terminals.
func (s *Service) List(ctx context.Context, p service.Principal) []*Terminal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Terminal, 0, len(s.terminals))
	for _, term := range s.terminals {
		if p.IsAdmin() || term.UserID == p.UserID {
			out = append(out, term)
		}
	}
	return out
}

// Input writes keystrokes to the terminal.
func (s *Service) Input(ctx context.Context, p service.Principal, id string, data []byte) error {
	term, err := s.Get(ctx, p, id)
	if err != nil {
		return err
	}
	if err := term.Write(data); err != nil {
		return service.WrapError(service.KindTransient, err, "terminal write failed")
	}
	return nil
}

// Resize changes the terminal dimensions.
func (s *Service) Resize(ctx context.Context, p service.Principal, id string, cols, rows int) error {
	term, err := s.Get(ctx, p, id)
	if err != nil {
		return err
	}
	if err := term.Resize(cols, rows); err != nil {
		return service.WrapError(service.KindValidation, err, "terminal resize failed")
	}
	return nil
}

// Remove closes the terminal. The tmux session, if any, is left alive
// for re-attach.
func (s *Service) Remove(ctx context.Context, p service.Principal, id string) error {
	term, err := s.Get(ctx, p, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.terminals, id)
	s.mu.Unlock()

	term.close()
	s.publish(ctx, events.SubjectTerminalRemoved, events.TypeTerminalRemoved, term)
	return nil
}

// Shutdown closes every live terminal.
func (s *Service) Shutdown() {
	s.mu.Lock()
	terms := make([]*Terminal, 0, len(s.terminals))
	for _, term := range s.terminals {
		terms = append(terms, term)
	}
	s.terminals = make(map[string]*Terminal)
	s.mu.Unlock()

	for _, term := range terms {
		term.close()
	}
}

// readLoop pumps PTY output into the virtual screen and onto the bus
// until the shell exits.
func (s *Service) readLoop(term *Terminal) {
	buf := make([]byte, readBufSize)
	for {
		n, err := term.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			term.feed(chunk)
			s.publish(context.Background(), events.SubjectTerminalData(term.ID), events.TypeTerminalData, encodeData(term.ID, chunk))
		}
		if err != nil {
			break
		}
	}

	exitCode := 0
	if err := term.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mu.Lock()
	_, live := s.terminals[term.ID]
	delete(s.terminals, term.ID)
	s.mu.Unlock()

	term.close()
	if live {
		s.publish(context.Background(), events.SubjectTerminalExit(term.ID), events.TypeTerminalExit, ExitEvent{
			TerminalID: term.ID,
			ExitCode:   exitCode,
		})
		s.logger.Info("terminal exited",
			zap.String("terminal_id", term.ID),
			zap.Int("exit_code", exitCode))
	}
}

func (s *Service) publish(ctx context.Context, subject, eventType string, payload any) {
	event := bus.NewEvent(eventType, "daemon", payload)
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		s.logger.Error("failed to publish terminal event",
			zap.String("subject", subject), zap.Error(err))
	}
}

// defaultShell picks the user's shell, falling back to sh.
func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func tmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// shortID keeps tmux session names compact.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
