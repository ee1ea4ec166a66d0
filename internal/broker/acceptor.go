package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-chat-broker/internal/logging"
	"github.com/kstaniek/go-chat-broker/internal/metrics"
)

// Acceptor owns the listening socket and round-robins accepted connections
// across a fixed WorkerTable. It holds no per-connection state itself: the
// handoff is a single Notification send, after which the connection belongs
// entirely to its assigned worker.
type Acceptor struct {
	table   *WorkerTable
	counter uint64
}

// NewAcceptor returns an Acceptor that distributes across table's workers.
func NewAcceptor(table *WorkerTable) *Acceptor {
	return &Acceptor{table: table}
}

// Serve accepts connections on ln until ctx is cancelled or a fatal listener
// error occurs. It never rebalances: a full worker simply drops the next
// connection routed to it, matching the original (non-rebalancing)
// round-robin acceptor.
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener) error {
	logger := logging.L()
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncError(mapErrToMetric(wrap))
			return wrap
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(30 * time.Second)
		}
		metrics.IncConnectionsAccepted()
		n := atomic.AddUint64(&a.counter, 1) - 1
		idx := WorkerOf(n, a.table.Len())
		logger.Debug("conn_routed", "worker", idx, "remote", conn.RemoteAddr().String())
		select {
		case a.table.Inbox(idx) <- Notification{Kind: NewConnection, Conn: conn}:
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		}
	}
}
