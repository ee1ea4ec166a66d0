package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-chat-broker/internal/chat"
	"github.com/kstaniek/go-chat-broker/internal/shell"
)

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

// readPost reads exactly one framed Post off conn, polling with a deadline
// instead of a fixed sleep.
func readPost(t *testing.T, conn net.Conn, timeout time.Duration) chat.Post {
	t.Helper()
	dec := chat.NewDecoder()
	buf := make([]byte, 256)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				t.Fatalf("frame error: %v", ferr)
			}
			for _, df := range frames {
				if df.Err != nil {
					t.Fatalf("post decode error: %v", df.Err)
				}
				return df.Post
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.Fatalf("read: %v", err)
		}
	}
	t.Fatalf("timed out waiting for a post")
	return chat.Post{}
}

func startBroker(t *testing.T, opts ...Option) (*Broker, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := New(append([]Option{WithListenAddr(":0")}, opts...)...)
	go func() {
		if err := b.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatalf("broker did not become ready")
	}
	return b, cancel
}

// TestEchoToSelfBroadcast matches spec.md §8 scenario S1 exactly: a lone
// client posting must receive its own post back. broadcastLocal (worker.go)
// loops every live connection in the slab with no origin check, so the
// sender is not excluded — per testable property 3, every healthy
// connection, sender included, receives every broadcast payload.
func TestEchoToSelfBroadcast(t *testing.T) {
	b, cancel := startBroker(t, WithWorkers(1))
	defer cancel()

	a := dial(t, b.Addr())
	defer a.Close()
	waitForConnCount(t, b, 0, 1, time.Second)

	if _, err := a.Write(chat.EncodeFrame(chat.Post{Author: "alice", Text: []string{"hi"}})); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readPost(t, a, 2*time.Second)
	if got.Author != "alice" || len(got.Text) != 1 || got.Text[0] != "hi" {
		t.Fatalf("got %#v", got)
	}
}

// TestCommandRoutingYieldsNobodyReply matches spec.md §8 scenario S3
// exactly: a "/echo X" post is never broadcast verbatim, and both
// connections instead receive Post("nobody", ["X"]).
func TestCommandRoutingYieldsNobodyReply(t *testing.T) {
	ctx, shellCancel := context.WithCancel(context.Background())
	defer shellCancel()
	bridge := shell.NewBridge(ctx, 8)
	defer bridge.Close()

	b, cancel := startBroker(t, WithWorkers(1), WithShellBridge(bridge))
	defer cancel()

	a := dial(t, b.Addr())
	defer a.Close()
	bConn := dial(t, b.Addr())
	defer bConn.Close()
	waitForConnCount(t, b, 0, 2, time.Second)

	if _, err := a.Write(chat.EncodeFrame(chat.Post{Author: "alice", Text: []string{"/echo X"}})); err != nil {
		t.Fatalf("write: %v", err)
	}

	gotA := readPost(t, a, 3*time.Second)
	gotB := readPost(t, bConn, 3*time.Second)
	for _, got := range []chat.Post{gotA, gotB} {
		if got.Author != "nobody" {
			t.Fatalf("expected author nobody, got %#v", got)
		}
		if len(got.Text) != 1 || got.Text[0] != "X" {
			t.Fatalf("expected text [X], got %#v", got.Text)
		}
	}
}

// TestSlabFullDropsNewConnection exercises the acceptor's non-rebalancing
// drop behavior when a worker's slab is already full.
func TestSlabFullDropsNewConnection(t *testing.T) {
	b, cancel := startBroker(t, WithWorkers(1), WithSlabCapacity(1))
	defer cancel()

	first := dial(t, b.Addr())
	defer first.Close()
	waitForConnCount(t, b, 0, 1, time.Second)

	second := dial(t, b.Addr())
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 8)
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected rejected connection to be closed by the server")
	}
}

// TestCrossWorkerBroadcast exercises the peer-forwarding fabric: with two
// workers, a post from a client on worker 0 must still reach a client
// pinned (by round robin) to worker 1.
func TestCrossWorkerBroadcast(t *testing.T) {
	b, cancel := startBroker(t, WithWorkers(2))
	defer cancel()

	// With a fresh acceptor counter, the first two accepted connections are
	// routed to worker 0 and worker 1 respectively (plain round robin).
	c0 := dial(t, b.Addr())
	defer c0.Close()
	c1 := dial(t, b.Addr())
	defer c1.Close()

	waitForConnCount(t, b, 0, 1, time.Second)
	waitForConnCount(t, b, 1, 1, time.Second)

	if _, err := c0.Write(chat.EncodeFrame(chat.Post{Author: "x", Text: []string{"ping"}})); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readPost(t, c1, 2*time.Second)
	if got.Author != "x" || len(got.Text) != 1 || got.Text[0] != "ping" {
		t.Fatalf("got %#v", got)
	}
}

func waitForConnCount(t *testing.T, b *Broker, workerIdx, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.workers != nil && len(b.workers) > workerIdx && b.Worker(workerIdx).Len() >= want {
			return
		}
		time.Sleep(3 * time.Millisecond)
	}
	t.Fatalf("worker %d did not reach %d connections in time", workerIdx, want)
}
