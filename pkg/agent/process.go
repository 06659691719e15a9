package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrTimeout is returned on the errors channel when a process exceeds its
// configured timeout.
var ErrTimeout = errors.New("agent process timed out")

// Parser converts one line of vendor process output into an Event and knows
// where that vendor hides its session identifier.
type Parser interface {
	// ParseEvent converts a single stdout line into an Event.
	ParseEvent(line []byte) (Event, error)

	// ExtractSessionRef returns the session identifier from an event, or ""
	// if the event carries none. Called for every event so vendors that emit
	// the id outside the init event still get captured.
	ExtractSessionRef(event Event, rawLine []byte) string
}

// Options configures a vendor subprocess spawn.
type Options struct {
	// Path is the executable path. Required.
	Path string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory.
	Dir string
	// Env holds extra environment variables ("KEY=VALUE") appended to the
	// parent environment.
	Env []string
	// Parser decodes stdout lines. Required.
	Parser Parser
	// SessionRef seeds the session reference for resumed sessions.
	SessionRef string
	// Timeout bounds the process lifetime. Zero means no timeout.
	Timeout time.Duration
	// Name identifies the vendor in error messages.
	Name string
}

// Process is a running vendor subprocess. Parsed events arrive on Events()
// until the process exits, at which point the channel closes; terminal
// failures arrive on Errors().
type Process struct {
	name   string
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc

	events chan Event
	errs   chan error
	done   chan struct{}

	mu          sync.RWMutex
	sessionRef  string
	cancelled   bool
	stderrLines []string

	wg sync.WaitGroup
}

// Spawn starts a vendor subprocess and begins streaming its output.
func Spawn(ctx context.Context, opts Options) (*Process, error) {
	if opts.Path == "" {
		return nil, errors.New("agent: executable path is required")
	}
	if opts.Parser == nil {
		return nil, errors.New("agent: parser is required")
	}

	var procCtx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		procCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		procCtx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(procCtx, opts.Path, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent: start %s: %w", opts.Name, err)
	}

	p := &Process{
		name:       opts.Name,
		cmd:        cmd,
		ctx:        procCtx,
		cancel:     cancel,
		events:     make(chan Event, 64),
		errs:       make(chan error, 8),
		done:       make(chan struct{}),
		sessionRef: opts.SessionRef,
	}

	p.wg.Add(2)
	go p.readStdout(stdout, opts.Parser)
	go p.readStderr(stderr)
	go p.waitForExit()

	return p, nil
}

// Events returns the parsed event stream. Closed when the process exits.
func (p *Process) Events() <-chan Event { return p.events }

// Errors returns terminal process errors. Closed after the process exits.
func (p *Process) Errors() <-chan error { return p.errs }

// SessionRef returns the vendor session identifier, or "" if none has been
// observed yet.
func (p *Process) SessionRef() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionRef
}

// PID returns the OS process id, or -1 when unavailable.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Cancel aborts the subprocess. Safe to call more than once.
func (p *Process) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	p.cancel()
}

// Wait blocks until all output has been drained and the process has exited.
func (p *Process) Wait() {
	<-p.done
}

func (p *Process) readStdout(stdout io.ReadCloser, parser Parser) {
	defer p.wg.Done()
	defer close(p.events)

	scanner := bufio.NewScanner(stdout)
	// Vendor tool output lines can be large; allow up to 1MB per line.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := parser.ParseEvent(line)
		if err != nil {
			// Non-JSON noise on stdout is skipped rather than fatal.
			continue
		}

		event.Raw = append([]byte(nil), line...)
		event.Timestamp = time.Now()

		if ref := parser.ExtractSessionRef(event, line); ref != "" {
			p.mu.Lock()
			if p.sessionRef == "" {
				p.sessionRef = ref
			}
			p.mu.Unlock()
		}

		select {
		case p.events <- event:
		case <-p.ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		p.sendError(fmt.Errorf("%s stdout scan: %w", p.name, err))
	}
}

func (p *Process) readStderr(stderr io.ReadCloser) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.mu.Lock()
		p.stderrLines = append(p.stderrLines, scanner.Text())
		p.mu.Unlock()
	}
}

func (p *Process) waitForExit() {
	// Wait closes the pipes once the process exits and must not run while
	// the scanners are still reading them; drain both to EOF first.
	p.wg.Wait()
	err := p.cmd.Wait()

	p.mu.RLock()
	cancelled := p.cancelled
	stderrTail := strings.Join(p.stderrLines, "\n")
	p.mu.RUnlock()

	switch {
	case cancelled:
		// Deliberate abort, not a failure.
	case errors.Is(p.ctx.Err(), context.DeadlineExceeded):
		p.sendError(ErrTimeout)
	case err != nil && stderrTail != "":
		p.sendError(fmt.Errorf("%s process failed: %s: %w", p.name, stderrTail, err))
	case err != nil:
		p.sendError(fmt.Errorf("%s process exited: %w", p.name, err))
	}

	close(p.errs)
	close(p.done)
}

func (p *Process) sendError(err error) {
	select {
	case p.errs <- err:
	default:
	}
}
