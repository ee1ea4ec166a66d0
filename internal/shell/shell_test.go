package shell

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestRunShellEmptyCommandIsBadCommand(t *testing.T) {
	got := runShell("")
	want := []string{"bad command"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestRunShellWhitespaceOnlyIsBadCommand(t *testing.T) {
	got := runShell("   \t  ")
	want := []string{"bad command"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestRunShellSpawnFailureYieldsOneLine(t *testing.T) {
	got := runShell("this-binary-should-not-exist-anywhere")
	if len(got) != 1 || got[0] == "" {
		t.Fatalf("expected a single non-empty error line, got %#v", got)
	}
}

func TestRunShellEcho(t *testing.T) {
	got := runShell("echo hello world")
	want := []string{"hello world"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestRunShellMultilineOutput(t *testing.T) {
	got := runShell("printf a\\nb\\nc")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestBridgeSubmitDeliversResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	br := NewBridge(ctx, 4)
	defer br.Close()

	var mu sync.Mutex
	var got *Result
	done := make(chan struct{})
	ok := br.Submit(Task{
		User: "alice",
		Cmd:  "echo X",
		ReplyTo: func(r Result) {
			mu.Lock()
			got = &r
			mu.Unlock()
			close(done)
		},
	})
	if !ok {
		t.Fatalf("submit rejected")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reply")
	}
	mu.Lock()
	defer mu.Unlock()
	if got == nil || got.User != "alice" || !reflect.DeepEqual(got.Lines, []string{"X"}) {
		t.Fatalf("got %#v", got)
	}
}

func TestBridgeSubmitDropsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	br := NewBridge(ctx, 1)
	defer br.Close()

	block := make(chan struct{})
	// First task occupies the single consumer goroutine indefinitely.
	br.Submit(Task{Cmd: "echo first", ReplyTo: func(Result) { <-block }})
	// Give the consumer a moment to pick up the first task before filling
	// the queue, so the second Submit lands in the buffer, not the worker.
	time.Sleep(20 * time.Millisecond)
	br.Submit(Task{Cmd: "echo second", ReplyTo: func(Result) {}})
	if ok := br.Submit(Task{Cmd: "echo third", ReplyTo: func(Result) {}}); ok {
		t.Fatalf("expected third submit to be dropped")
	}
	close(block)
}
