// Package terminal runs interactive PTY shells for clients. Terminals
// are ephemeral: they live in memory and die with the daemon, though a
// tmux-backed terminal's underlying session survives for re-attach.
package terminal

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/tuzig/vt10x"
)

const (
	defaultCols = 80
	defaultRows = 24

	// readBufSize matches a typical PTY buffer; output is chunked into
	// events at this granularity.
	readBufSize = 4096
)

// Terminal is one live PTY with an attached virtual screen.
type Terminal struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	WorktreeID string    `json:"worktree_id,omitempty"`
	WorkingDir string    `json:"working_dir"`
	Command    string    `json:"command"`
	TmuxTarget string    `json:"tmux_target,omitempty"`
	Cols       int       `json:"cols"`
	Rows       int       `json:"rows"`
	CreatedAt  time.Time `json:"created_at"`

	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	screen vt10x.Terminal
	closed bool
}

// Write sends input bytes to the PTY.
func (t *Terminal) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("terminal %s is closed", t.ID)
	}
	_, err := t.ptmx.Write(data)
	return err
}

// Resize changes the PTY window and the virtual screen together.
func (t *Terminal) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("terminal %s is closed", t.ID)
	}
	if err := pty.Setsize(t.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return err
	}
	t.screen.Resize(cols, rows)
	t.Cols, t.Rows = cols, rows
	return nil
}

// Snapshot renders the current visible screen as text lines, so a
// late-joining client can paint the terminal without replaying output.
func (t *Terminal) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := make([]string, t.Rows)
	for row := 0; row < t.Rows; row++ {
		chars := make([]rune, t.Cols)
		for col := 0; col < t.Cols; col++ {
			g := t.screen.Cell(col, row)
			if g.Char == 0 {
				chars[col] = ' '
			} else {
				chars[col] = g.Char
			}
		}
		lines[row] = string(chars)
	}
	return lines
}

// feed writes PTY output into the virtual screen.
func (t *Terminal) feed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.screen.Write(data)
}

// close tears down the PTY and the child process.
func (t *Terminal) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	_ = t.ptmx.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// DataEvent is the payload of a terminal output event. Output is opaque
// bytes; base64 keeps it JSON-safe.
type DataEvent struct {
	TerminalID string `json:"terminal_id"`
	Data       string `json:"data"`
}

// encodeData packs raw PTY output for the wire.
func encodeData(terminalID string, data []byte) DataEvent {
	return DataEvent{
		TerminalID: terminalID,
		Data:       base64.StdEncoding.EncodeToString(data),
	}
}

// ExitEvent is the payload of a terminal exit event.
type ExitEvent struct {
	TerminalID string `json:"terminal_id"`
	ExitCode   int    `json:"exit_code"`
}
