// Package runner executes one external forecast job. It drains both output
// streams while the process runs, enforces the job timeout by killing the
// whole process tree and classifies the result as Success, Failure or
// Timeout.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/yieldforecast/forecaster/internal/log"
)

const DefaultDrainTimeout = 5 * time.Second

type Command struct {
	Path string
	Args []string
	// Env is appended to the environment of the forecaster process.
	Env     []string
	Timeout time.Duration
}

type Runner struct {
	drainTimeout time.Duration
	audit        *AuditLog
}

type Option func(*Runner)

// WithDrainTimeout bounds how long output is read after the process exited.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

func WithAuditLog(a *AuditLog) Option {
	return func(r *Runner) {
		r.audit = a
	}
}

func New(opts ...Option) *Runner {
	r := &Runner{drainTimeout: DefaultDrainTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run starts cmd and blocks until it finished, timed out or ctx was
// cancelled. Run never returns before the process was reaped.
func (r *Runner) Run(ctx context.Context, cmd Command) Outcome {
	ctx = withCommandAttrs(ctx, cmd)
	started := time.Now().UTC()
	o := r.run(ctx, cmd, started)
	o.Started = started
	o.Stopped = time.Now().UTC()

	r.logStderr(ctx, o.Stderr)
	switch o.Kind {
	case Success:
		slog.InfoContext(ctx, "job finished", "outcome", o.Kind, "duration", o.Duration())
	default:
		slog.WarnContext(ctx, "job finished", "outcome", o.Kind, "reason", o.Reason, "exit_code", o.ExitCode, "duration", o.Duration())
	}
	r.audit.Record(ctx, cmd, o)
	return o
}

func (r *Runner) run(ctx context.Context, cmd Command, started time.Time) Outcome {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return Outcome{Kind: Failure, Reason: "can't create stdout pipe: " + err.Error(), ExitCode: -1}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return Outcome{Kind: Failure, Reason: "can't create stderr pipe: " + err.Error(), ExitCode: -1}
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = outW
	c.Stderr = errW
	setProcessGroup(c)

	d := NewDrainer(outR, errR)
	if err := c.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		d.Cancel()
		return Outcome{Kind: Failure, Reason: "can't start job: " + err.Error(), ExitCode: -1}
	}
	// the child holds its own copies
	_ = outW.Close()
	_ = errW.Close()
	slog.DebugContext(ctx, "job started", "pid", c.Process.Pid)

	waitc := make(chan error, 1)
	go func() {
		waitc <- c.Wait()
	}()

	var timeout <-chan time.Time
	if cmd.Timeout > 0 {
		t := time.NewTimer(cmd.Timeout - time.Since(started))
		defer t.Stop()
		timeout = t.C
	} else {
		slog.WarnContext(ctx, "command has no timeout")
	}

	var o Outcome
	select {
	case <-waitc:
		if !d.Join(r.drainTimeout) {
			slog.WarnContext(ctx, "job output not closed after exit, descendants still hold it", "drain_timeout", r.drainTimeout)
			r.kill(ctx, c)
		}
		if code := c.ProcessState.ExitCode(); code < 0 {
			o = Outcome{Kind: Failure, Reason: c.ProcessState.String(), ExitCode: code}
		} else {
			o = interpret(code, d.Stdout())
		}
	case <-timeout:
		r.kill(ctx, c)
		<-waitc
		d.Cancel()
		o = Outcome{Kind: Timeout, Reason: "job exceeded " + cmd.Timeout.String(), ExitCode: -1}
	case <-ctx.Done():
		r.kill(ctx, c)
		<-waitc
		d.Cancel()
		o = cancelled(ctx.Err())
	}
	o.Stdout = d.Stdout()
	o.Stderr = d.Stderr()
	return o
}

func (r *Runner) kill(ctx context.Context, c *exec.Cmd) {
	if err := killTree(c); err != nil {
		slog.ErrorContext(ctx, "can't kill job process tree", "pid", c.Process.Pid, "error", err)
	}
}

func (r *Runner) logStderr(ctx context.Context, stderr []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.DebugContext(ctx, "job stderr", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.DebugContext(ctx, "processing stderr", "error", err)
	}
}

func cancelled(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: Timeout, Reason: "deadline exceeded", ExitCode: -1}
	}
	return Outcome{Kind: Failure, Reason: "cancelled", ExitCode: -1}
}

func withCommandAttrs(ctx context.Context, cmd Command) context.Context {
	name := cmd.Path
	if len(cmd.Args) > 0 {
		name = cmd.Args[0]
	}
	return log.ContextAttrs(ctx, slog.String("job", filepath.Base(name)))
}
