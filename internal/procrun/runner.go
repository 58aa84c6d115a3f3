// Package procrun spawns external processes and bridges their completion
// into the cooperative task model: a process is observed through a wait task
// that suspends until the process exits, plus a cancellation hook.
package procrun

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/studentutu/shipyard/internal/task"
)

// Spec describes one external process launch. OnStdout and OnStderr receive
// each line of the matching stream in emission order; ordering across the
// two streams is not guaranteed. Either sink may be nil.
type Spec struct {
	Command  string
	Args     []string
	Dir      string
	Stdin    string
	OnStdout func(line string)
	OnStderr func(line string)
}

// Runner spawns processes. Concurrent Start calls are independent; each
// Proc owns its own buffers and cancellation hook.
type Runner struct {
	logger    *slog.Logger
	killGrace time.Duration
}

// NewRunner creates a Runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger:    logger.With("component", "procrun"),
		killGrace: 5 * time.Second,
	}
}

// Proc is one spawned process: its wait task, cancellation hook, and the
// captured combined output.
type Proc struct {
	id   string
	cmd  *exec.Cmd
	wait *task.Task

	mu       sync.Mutex
	combined bytes.Buffer

	done     chan struct{}
	exitCode int

	cancelOnce sync.Once
	killGrace  time.Duration
	logger     *slog.Logger
}

// Start spawns the command asynchronously. The returned Proc's wait task
// yields nil until the process exits, then completes with the exit code.
func (r *Runner) Start(spec Spec) (*Proc, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	p := &Proc{
		id:        "proc_" + uuid.New().String()[:8],
		cmd:       cmd,
		done:      make(chan struct{}),
		killGrace: r.killGrace,
		logger:    r.logger,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	r.logger.Debug("process started", "proc_id", p.id, "command", spec.Command, "pid", cmd.Process.Pid)

	var streams sync.WaitGroup
	streams.Add(2)
	go p.pump(stdout, spec.OnStdout, &streams)
	go p.pump(stderr, spec.OnStderr, &streams)

	go func() {
		streams.Wait()
		waitErr := cmd.Wait()
		p.exitCode = exitCode(waitErr)
		close(p.done)
		r.logger.Debug("process exited", "proc_id", p.id, "exit_code", p.exitCode)
	}()

	p.wait = task.New("procwait", func() task.Step {
		select {
		case <-p.done:
			return task.Done(p.exitCode)
		default:
			return task.Pending(nil)
		}
	})
	return p, nil
}

// pump delivers each line from rc to sink and mirrors it into the combined
// capture buffer.
func (p *Proc) pump(rc io.ReadCloser, sink func(string), wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.combined.WriteString(line)
		p.combined.WriteByte('\n')
		p.mu.Unlock()
		if sink != nil {
			sink(line)
		}
	}
}

// ID returns the process handle identifier.
func (p *Proc) ID() string {
	return p.id
}

// WaitTask returns the task that completes with the process exit code.
func (p *Proc) WaitTask() *task.Task {
	return p.wait
}

// Output returns the combined stdout/stderr captured so far.
func (p *Proc) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.combined.String()
}

// ExitCode returns the exit code once the process has exited.
func (p *Proc) ExitCode() (int, bool) {
	select {
	case <-p.done:
		return p.exitCode, true
	default:
		return 0, false
	}
}

// Cancel requests termination: SIGTERM first, escalating to SIGKILL after a
// grace period if the process is still running. The wait task completes with
// whichever exit code the termination produces rather than hanging.
func (p *Proc) Cancel() {
	p.cancelOnce.Do(func() {
		p.logger.Info("cancelling process", "proc_id", p.id)
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Already exited.
			return
		}
		go func() {
			select {
			case <-p.done:
			case <-time.After(p.killGrace):
				p.logger.Warn("process ignored SIGTERM, killing", "proc_id", p.id)
				p.cmd.Process.Kill()
			}
		}()
	})
}

// exitCode maps a Wait error to a shell-convention exit code: 128+signal for
// signal-terminated processes, so the caller's exit policy can classify
// kills the same way it would a shell-reported status.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return -1
}
