package broker

import (
	"net"
	"sync"
)

// DefaultSendQueueCap bounds how many pending outbound frames a connection
// may accumulate before Enqueue starts reporting overflow. Per spec.md §9's
// own resolution of the unbounded-queue open question: cap it, drop on
// overflow, reset the connection.
const DefaultSendQueueCap = 256

// Connection is one worker-owned client socket: a slab slot, an outbound
// frame queue, and the reader/writer goroutines that drive them. It is
// created and destroyed by exactly one Worker and never touched from any
// other goroutine except via its channels.
type Connection struct {
	ID     ConnectionId
	Conn   net.Conn
	Remote string

	sendCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConnection wraps c with a bounded outbound queue of the given capacity.
func NewConnection(id ConnectionId, c net.Conn, queueCap int) *Connection {
	if queueCap <= 0 {
		queueCap = DefaultSendQueueCap
	}
	return &Connection{
		ID:     id,
		Conn:   c,
		Remote: c.RemoteAddr().String(),
		sendCh: make(chan []byte, queueCap),
		closed: make(chan struct{}),
	}
}

// QueueLen reports how many frames are currently queued for this
// connection's writer. Exposed so tests can assert the write-interest
// invariant (non-empty queue ⟺ writer has work to drain) directly.
func (c *Connection) QueueLen() int { return len(c.sendCh) }

// Enqueue attempts a non-blocking send of frame onto the connection's
// outbound queue. It reports false if the queue was full: the caller must
// treat this as a fatal per-connection condition and reset the connection,
// per the drop-and-reset backpressure policy.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case c.sendCh <- frame:
		return true
	default:
		return false
	}
}

// Closed reports whether Reset has been called on this connection.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// Reset closes the underlying socket and signals both goroutines to exit.
// Idempotent: safe to call from the reader, the writer, and the worker's
// slab-eviction path without coordination.
func (c *Connection) Reset() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.Conn.Close()
	})
}
