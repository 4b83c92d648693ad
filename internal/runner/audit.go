package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// AuditLog appends a raw record of every job invocation to a file for post
// mortem inspection. Writing is best effort: failures are logged and never
// change the outcome of a job. A nil *AuditLog records nothing.
type AuditLog struct {
	mx   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog {
	if path == "" {
		return nil
	}
	return &AuditLog{path: path}
}

func (a *AuditLog) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

func (a *AuditLog) Record(ctx context.Context, cmd Command, o Outcome) {
	if a == nil {
		return
	}
	var b bytes.Buffer
	fmt.Fprintln(&b, "=== JOB INVOCATION ===")
	fmt.Fprintf(&b, "timestamp: %s\n", o.Started.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "command: %s\n", strings.Join(append([]string{cmd.Path}, cmd.Args...), " "))
	for _, kv := range cmd.Env {
		k, v, _ := strings.Cut(kv, "=")
		fmt.Fprintf(&b, "env.%s: %s\n", k, redact(v))
	}
	fmt.Fprintf(&b, "exitCode: %d\n", o.ExitCode)
	fmt.Fprintf(&b, "outcome: %s\n", o.Kind)
	fmt.Fprintf(&b, "duration: %s\n", o.Duration())
	fmt.Fprintln(&b, "--- STDOUT ---")
	b.Write(o.Stdout)
	fmt.Fprintln(&b, "\n--- STDERR ---")
	b.Write(o.Stderr)
	fmt.Fprintln(&b, "\n=== END ===")

	a.mx.Lock()
	defer a.mx.Unlock()
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		slog.WarnContext(ctx, "can't open audit log", "path", a.path, "error", err)
		return
	}
	if _, err := f.Write(b.Bytes()); err != nil {
		slog.WarnContext(ctx, "can't write audit log", "path", a.path, "error", err)
	}
	if err := f.Close(); err != nil {
		slog.WarnContext(ctx, "can't close audit log", "path", a.path, "error", err)
	}
}

func redact(v string) string {
	switch {
	case v == "":
		return "<unset>"
	case len(v) <= 4:
		return "***"
	default:
		return v[:4] + "***"
	}
}
