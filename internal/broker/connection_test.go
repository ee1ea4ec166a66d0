package broker

import (
	"net"
	"testing"
)

func TestConnectionEnqueueAndQueueLen(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConnection(1, server, 2)
	if c.QueueLen() != 0 {
		t.Fatalf("expected empty queue initially")
	}
	if !c.Enqueue([]byte("a")) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if c.QueueLen() != 1 {
		t.Fatalf("queue len = %d, want 1", c.QueueLen())
	}
	if !c.Enqueue([]byte("b")) {
		t.Fatalf("expected second enqueue to succeed")
	}
	if c.QueueLen() != 2 {
		t.Fatalf("queue len = %d, want 2", c.QueueLen())
	}
}

func TestConnectionEnqueueDropsWhenFull(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConnection(1, server, 1)
	if !c.Enqueue([]byte("a")) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if c.Enqueue([]byte("b")) {
		t.Fatalf("expected second enqueue to report overflow")
	}
}

func TestConnectionResetIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := NewConnection(1, server, 1)
	c.Reset()
	c.Reset() // must not panic
	select {
	case <-c.Closed():
	default:
		t.Fatalf("expected Closed() channel to be closed after Reset")
	}
}
