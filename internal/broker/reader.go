package broker

import (
	"errors"
	"io"
	"net"

	"github.com/kstaniek/go-chat-broker/internal/chat"
	"github.com/kstaniek/go-chat-broker/internal/metrics"
)

// connEvent is how a connection's reader goroutine reports decoded payloads
// and terminal conditions back to the worker goroutine that owns the slab.
// The worker is the only goroutine allowed to mutate the slab, so all
// cross-goroutine state changes funnel through this channel instead of
// locking.
type connEvent struct {
	id     ConnectionId
	post   chat.Post
	closed bool
}

// startReader launches the goroutine that decodes frames off conn and
// reports each payload (or the terminal close) to events. This realizes the
// spec's edge-triggered "on_readable" handler as a goroutine blocking on
// net.Conn.Read, relying on Go's netpoller for the readiness edge instead of
// a hand-rolled poller (see SPEC_FULL.md §9).
func (w *Worker) startReader(c *Connection, events chan<- connEvent) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		dec := chat.NewDecoder()
		dec.MaxFrame = w.maxFrame
		buf := make([]byte, 32*1024)
		for {
			n, err := c.Conn.Read(buf)
			if n > 0 {
				frames, ferr := dec.Feed(buf[:n])
				for _, df := range frames {
					if df.Err != nil {
						metrics.IncMalformedPost()
						w.logger.Warn("malformed_post", "conn_id", c.ID, "worker", w.id, "error", df.Err)
						continue
					}
					metrics.IncPostsReceived()
					select {
					case events <- connEvent{id: c.ID, post: df.Post}:
					case <-c.Closed():
						return
					}
				}
				if ferr != nil {
					metrics.IncDecodeError()
					w.logger.Warn("frame_decode_error", "conn_id", c.ID, "worker", w.id, "error", ferr)
					break
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					break
				}
				break
			}
		}
		select {
		case events <- connEvent{id: c.ID, closed: true}:
		case <-c.Closed():
		}
	}()
}
