package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/kstaniek/go-chat-broker/internal/chat"
	"github.com/kstaniek/go-chat-broker/internal/logging"
	"github.com/kstaniek/go-chat-broker/internal/metrics"
	"github.com/kstaniek/go-chat-broker/internal/shell"
)

// nobodyAuthor is the fixed synthetic author used on every shell-command
// reply. See SPEC_FULL.md §10 item 5: the concrete scenario in spec.md §8-S3
// pins this to the literal string "nobody", overriding the looser
// "synthesize Post{author: user}" prose elsewhere in the spec.
const nobodyAuthor = "nobody"

// Worker is one reactor: it owns a slab of connections exclusively, reads
// and classifies their payloads, and exchanges Notifications with its
// peers through the shared WorkerTable. Every field below except the
// channels is touched only from the goroutine running Run.
type Worker struct {
	id           int
	table        *WorkerTable
	inbox        chan Notification
	slab         *Slab
	shell        *shell.Bridge
	sendQueueCap int
	maxFrame     int
	logger       *slog.Logger

	events chan connEvent
	wg     sync.WaitGroup
}

// NewWorker constructs worker id with the given slab capacity and shared
// peer table. shell may be nil in tests that don't exercise the command
// path.
func NewWorker(id int, table *WorkerTable, slabCap, sendQueueCap, maxFrame int, br *shell.Bridge) *Worker {
	return &Worker{
		id:           id,
		table:        table,
		inbox:        table.Inbox(id),
		slab:         NewSlab(slabCap),
		shell:        br,
		sendQueueCap: sendQueueCap,
		maxFrame:     maxFrame,
		logger:       logging.L().With("worker", id),
		events:       make(chan connEvent, 64),
	}
}

// Len reports the number of live connections owned by this worker.
func (w *Worker) Len() int { return w.slab.Len() }

// Run is the worker's dispatch loop: it services its own inbox and the
// connEvent reports from every connection it owns until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case n := <-w.inbox:
			w.handleNotification(n)
		case ev := <-w.events:
			w.handleConnEvent(ev)
		case <-ctx.Done():
			w.drainAndClose()
			return
		}
	}
}

func (w *Worker) handleNotification(n Notification) {
	switch n.Kind {
	case NewConnection:
		w.acceptConnection(n.Conn)
	case Broadcast:
		// Local fan-out only: the sender has already forwarded to every
		// other peer, so this notification must never be re-forwarded.
		w.broadcastLocal(n.Frame)
	case TaskFinished:
		p := chat.Post{Author: nobodyAuthor, Text: n.Lines}
		if err := p.Validate(); err != nil {
			w.logger.Error("synthetic_post_invalid", "error", err)
			return
		}
		metrics.IncShellTaskFinished()
		w.broadcast(p)
	}
}

func (w *Worker) handleConnEvent(ev connEvent) {
	if ev.closed {
		w.evict(ev.id)
		return
	}
	w.dispatchPost(ev.id, ev.post)
}

// acceptConnection registers a freshly handed-off socket in this worker's
// slab, or drops it (log-and-close) if the slab is already full.
func (w *Worker) acceptConnection(nc net.Conn) {
	c := NewConnection(0, nc, w.sendQueueCap)
	id, err := w.slab.Insert(c)
	if err != nil {
		w.logger.Warn("slab_full_drop", "remote", c.Remote)
		metrics.IncConnectionsRejected()
		_ = nc.Close()
		return
	}
	c.ID = id
	metrics.SetWorkerConnections(fmt.Sprintf("%d", w.id), w.slab.Len())
	w.logger.Info("client_connected", "conn_id", id, "remote", c.Remote)
	w.startReader(c, w.events)
	w.startWriter(c)
}

// dispatchPost classifies a decoded Post as a command or a broadcast,
// exactly as spec.md §4.3's on_readable handler does.
func (w *Worker) dispatchPost(id ConnectionId, p chat.Post) {
	if len(p.Text) > 0 && strings.HasPrefix(p.Text[0], "/") {
		w.submitCommand(p)
		return
	}
	w.broadcast(p)
}

func (w *Worker) submitCommand(p chat.Post) {
	if w.shell == nil {
		return
	}
	cmdLine := strings.TrimPrefix(p.Text[0], "/")
	inbox := w.inbox
	metrics.IncShellTaskSubmitted()
	ok := w.shell.Submit(shell.Task{
		User: p.Author,
		Cmd:  cmdLine,
		ReplyTo: func(r shell.Result) {
			inbox <- Notification{Kind: TaskFinished, User: r.User, Lines: r.Lines}
		},
	})
	if !ok {
		// The bridge's OnDrop hook already counts queue-full drops.
		w.logger.Warn("shell_task_dropped", "user", p.Author)
	}
}

// broadcast serializes p once, forwards it to every peer worker (who will
// fan out locally only), and fans it out locally itself.
func (w *Worker) broadcast(p chat.Post) {
	frame := chat.EncodeFrame(p)
	w.table.ForEachPeer(w.id, func(_ int, peerInbox chan Notification) {
		select {
		case peerInbox <- Notification{Kind: Broadcast, Frame: frame}:
		default:
			w.logger.Warn("peer_inbox_full_drop")
		}
	})
	w.broadcastLocal(frame)
}

// broadcastLocal enqueues frame onto every live connection in this worker's
// slab, resetting any connection whose queue is already full (drop-and-reset
// backpressure policy).
func (w *Worker) broadcastLocal(frame []byte) {
	var bad []ConnectionId
	n := 0
	maxQ, sumQ := 0, 0
	w.slab.Each(func(id ConnectionId, c *Connection) {
		n++
		if !c.Enqueue(frame) {
			bad = append(bad, id)
			metrics.IncSendQueueDropped()
			return
		}
		if l := c.QueueLen(); l > maxQ {
			maxQ = l
		}
		sumQ += c.QueueLen()
	})
	metrics.SetBroadcastFanout(n)
	metrics.AddPostsBroadcast(n)
	if n > 0 {
		metrics.SetQueueDepth(maxQ, sumQ/n)
	}
	for _, id := range bad {
		if c := w.slab.Get(id); c != nil {
			c.Reset()
		}
		w.evict(id)
	}
}

func (w *Worker) evict(id ConnectionId) {
	if c := w.slab.Get(id); c != nil {
		c.Reset()
		w.slab.Remove(id)
		metrics.SetWorkerConnections(fmt.Sprintf("%d", w.id), w.slab.Len())
		w.logger.Info("client_disconnected", "conn_id", id)
	}
}

// drainAndClose resets every connection this worker owns. Called once on
// shutdown so the reader/writer goroutines observe Closed() and exit.
func (w *Worker) drainAndClose() {
	var ids []ConnectionId
	w.slab.Each(func(id ConnectionId, c *Connection) {
		c.Reset()
		ids = append(ids, id)
	})
	for _, id := range ids {
		w.slab.Remove(id)
	}
	w.wg.Wait()
}
