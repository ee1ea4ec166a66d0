package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/kstaniek/go-chat-broker/internal/chat"
	"github.com/kstaniek/go-chat-broker/internal/logging"
	"github.com/kstaniek/go-chat-broker/internal/metrics"
	"github.com/kstaniek/go-chat-broker/internal/shell"
)

const (
	defaultNumWorkers     = 1
	defaultSlabCapacity   = 4096
	defaultSendQueueCap   = DefaultSendQueueCap
	defaultWorkerInboxCap = 256
)

// Broker owns the listener, the acceptor, and every worker goroutine. It is
// the chat broker's top-level handle, analogous to the teacher's
// server.Server.
type Broker struct {
	mu   sync.RWMutex
	addr string

	numWorkers   int
	slabCap      int
	sendQueueCap int
	maxFrame     int
	shellBridge  *shell.Bridge
	logger       *slog.Logger

	table    *WorkerTable
	workers  []*Worker
	acceptor *Acceptor
	listener net.Listener

	readyOnce sync.Once
	readyCh   chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Broker before Serve is called.
type Option func(*Broker)

// WithListenAddr sets the TCP address to bind (host:port, or :port).
func WithListenAddr(a string) Option { return func(b *Broker) { b.addr = a } }

// WithWorkers sets the number of worker reactors. Values < 1 are clamped to 1.
func WithWorkers(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.numWorkers = n
		}
	}
}

// WithSlabCapacity bounds how many live connections a single worker may own.
func WithSlabCapacity(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.slabCap = n
		}
	}
}

// WithSendQueueCap bounds each connection's outbound frame queue.
func WithSendQueueCap(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.sendQueueCap = n
		}
	}
}

// WithMaxFrame bounds the largest frame body the decoder will accept.
func WithMaxFrame(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.maxFrame = n
		}
	}
}

// WithShellBridge wires the shell executor used for the command sub-protocol.
func WithShellBridge(br *shell.Bridge) Option { return func(b *Broker) { b.shellBridge = br } }

// WithLogger overrides the default package logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// New constructs a Broker with opts applied over sane defaults.
func New(opts ...Option) *Broker {
	b := &Broker{
		numWorkers:   defaultNumWorkers,
		slabCap:      defaultSlabCapacity,
		sendQueueCap: defaultSendQueueCap,
		maxFrame:     chat.DefaultMaxFrame,
		logger:       logging.L(),
		readyCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.addr == "" {
		b.addr = ":0"
	}
	return b
}

// Addr returns the bound listen address; only meaningful after Ready fires.
func (b *Broker) Addr() string { b.mu.RLock(); defer b.mu.RUnlock(); return b.addr }

// Ready closes once the listener is bound.
func (b *Broker) Ready() <-chan struct{} { return b.readyCh }

// NumWorkers reports the configured worker count.
func (b *Broker) NumWorkers() int { return b.numWorkers }

// Worker returns worker i, for tests that want to inspect slab state
// directly.
func (b *Broker) Worker(i int) *Worker { return b.workers[i] }

// Serve binds the listener, starts every worker and the acceptor, and
// blocks until ctx is cancelled or a fatal error occurs.
func (b *Broker) Serve(ctx context.Context) error {
	b.mu.Lock()
	addr := b.addr
	b.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	b.mu.Lock()
	b.addr = ln.Addr().String()
	b.listener = ln
	b.mu.Unlock()

	b.table = NewWorkerTable(b.numWorkers, defaultWorkerInboxCap)
	b.workers = make([]*Worker, b.numWorkers)
	for i := 0; i < b.numWorkers; i++ {
		w := NewWorker(i, b.table, b.slabCap, b.sendQueueCap, b.maxFrame, b.shellBridge)
		b.workers[i] = w
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			w.Run(ctx)
		}()
	}
	b.acceptor = NewAcceptor(b.table)

	b.logger.Info("tcp_listen", "addr", b.Addr(), "workers", b.numWorkers)
	b.logger.Info("ready")
	// Workers are running before Ready fires, so callers that wait on Ready
	// and then inspect worker state never race the worker slice's creation.
	b.readyOnce.Do(func() { close(b.readyCh) })
	return b.acceptor.Serve(ctx, ln)
}

// Shutdown waits for every worker goroutine to drain its connections. The
// caller is expected to have already cancelled the context passed to Serve;
// Shutdown only waits (bounded by ctx) for that teardown to finish.
func (b *Broker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() { b.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		b.logger.Info("shutdown_complete")
		return nil
	}
}
