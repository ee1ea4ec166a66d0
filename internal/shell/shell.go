// Package shell is the broker's out-of-process command executor: a
// submit/receive interface wired on top of transport.AsyncTx so every
// worker can hand off a command line without blocking on the subprocess.
package shell

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/kstaniek/go-chat-broker/internal/logging"
	"github.com/kstaniek/go-chat-broker/internal/metrics"
	"github.com/kstaniek/go-chat-broker/internal/transport"
)

// Task is a command submitted by a worker. ReplyTo is called exactly once,
// from the bridge's single consumer goroutine, with the command's result.
type Task struct {
	User    string
	Cmd     string
	ReplyTo func(Result)
}

// Result is what a Task eventually produces, whether the command ran,
// failed to spawn, or was empty.
type Result struct {
	User  string
	Lines []string
}

// ErrQueueFull is returned by Submit when the bridge's task queue is full.
var ErrQueueFull = errors.New("shell: task queue full")

// Bridge is the multi-producer, single-consumer funnel from workers to the
// command executor: every worker can Submit concurrently, but exactly one
// goroutine ever runs a subprocess at a time, matching spec.md §5's "shell
// bridge owns a multi-producer single-consumer queue from workers to the
// executor thread".
type Bridge struct {
	tx *transport.AsyncTx[Task]
}

// NewBridge starts the bridge's consumer goroutine. queueCap bounds how many
// pending tasks may accumulate before Submit starts reporting drops.
func NewBridge(ctx context.Context, queueCap int) *Bridge {
	hooks := transport.Hooks[Task]{
		OnDrop: func(t Task) error {
			metrics.IncShellTaskDropped()
			return ErrQueueFull
		},
	}
	run := func(t Task) error {
		lines := runShell(t.Cmd)
		t.ReplyTo(Result{User: t.User, Lines: lines})
		return nil
	}
	return &Bridge{tx: transport.NewAsyncTx(ctx, queueCap, run, hooks)}
}

// Submit enqueues t for execution. It returns false if the queue was full;
// the caller never blocks waiting for the subprocess to run.
func (b *Bridge) Submit(t Task) bool {
	return b.tx.Send(t) == nil
}

// Close stops the consumer goroutine, waiting for any in-flight command to
// finish.
func (b *Bridge) Close() { b.tx.Close() }

// runShell tokenizes cmdLine by unicode whitespace, runs the first token as
// an executable with the rest as argument literals, and returns its stdout
// split into lines (trailing newline stripped). The core never observes
// subprocess lifecycle: spawn failures and non-zero exits both collapse
// into a single descriptive line, never a propagated error.
func runShell(cmdLine string) []string {
	fields := strings.Fields(cmdLine)
	if len(fields) == 0 {
		return []string{"bad command"}
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	out, err := cmd.Output()
	if err != nil {
		logging.L().Warn("shell_exec_error", "cmd", fields[0], "error", err)
		metrics.IncError(metrics.ErrShellSpawn)
		return []string{err.Error()}
	}
	trimmed := strings.TrimRight(string(out), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
